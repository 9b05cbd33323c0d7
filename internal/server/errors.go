package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
	"github.com/seeklabs/bloxscout/internal/authorization"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	lookupdomain "github.com/seeklabs/bloxscout/internal/lookup/domain"
	meteringdomain "github.com/seeklabs/bloxscout/internal/metering/domain"
	paymentdomain "github.com/seeklabs/bloxscout/internal/payment/domain"
	cachedomain "github.com/seeklabs/bloxscout/internal/searchcache/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type              string            `json:"type"`
	Message           string            `json:"message"`
	Errors            []ValidationError `json:"errors,omitempty"`
	Required          *int64            `json:"required,omitempty"`
	Available         *int64            `json:"available,omitempty"`
	RetryAfterSeconds int64             `json:"retry_after_seconds,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// Upstream outages are transient; tell clients when to come back.
const upstreamRetryAfterSeconds = 30

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if payload.RetryAfterSeconds > 0 {
			c.Header("Retry-After", strconv.FormatInt(payload.RetryAfterSeconds, 10))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var insufficient *ledgerdomain.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		required, available := insufficient.Required, insufficient.Available
		return http.StatusPaymentRequired, errorPayload{
			Type:      "insufficient_balance",
			Message:   fmt.Sprintf("insufficient balance: required %d, available %d", required, available),
			Required:  &required,
			Available: &available,
		}
	}

	var rateLimited *meteringdomain.RateLimitedError
	if errors.As(err, &rateLimited) {
		return http.StatusTooManyRequests, errorPayload{
			Type:              "rate_limited",
			Message:           "rate limit exceeded",
			RetryAfterSeconds: rateLimited.RetryAfterSeconds(),
		}
	}

	switch {
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_balance",
			Message: "insufficient balance",
		}
	case errors.Is(err, meteringdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:              "rate_limited",
			Message:           "rate limit exceeded",
			RetryAfterSeconds: 1,
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ledgerdomain.ErrAccountDisabled):
		return http.StatusForbidden, errorPayload{
			Type:    "account_disabled",
			Message: "account is disabled",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, ledgerdomain.ErrNegativeBalance):
		return http.StatusConflict, errorPayload{
			Type:    "negative_balance",
			Message: "adjustment would make the balance negative",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, lookupdomain.ErrUnavailable),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:              "upstream_unavailable",
			Message:           "lookup service temporarily unavailable",
			RetryAfterSeconds: upstreamRetryAfterSeconds,
		}
	case errors.Is(err, meteringdomain.ErrSettlement),
		errors.Is(err, ledgerdomain.ErrIntegrity),
		errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, meteringdomain.ErrTermTooShort),
		errors.Is(err, meteringdomain.ErrIdentityRequired),
		errors.Is(err, lookupdomain.ErrInvalidTerm),
		errors.Is(err, lookupdomain.ErrInvalidMode),
		errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidSourceID),
		errors.Is(err, ledgerdomain.ErrInvalidPageToken),
		errors.Is(err, cachedomain.ErrInvalidKey),
		errors.Is(err, cachedomain.ErrInvalidStatus),
		errors.Is(err, cachedomain.ErrInvalidAge),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, meteringdomain.ErrPublicModeDisabled),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "search_term_too_short":
		return "term"
	case "identity_required":
		return "identity"
	case "invalid_search_term":
		return "term"
	case "invalid_search_mode":
		return "mode"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "search_term_too_short":
		return "search term is too short"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the access log's error_type/error_code fields.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
