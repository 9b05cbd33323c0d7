package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lookupdomain "github.com/seeklabs/bloxscout/internal/lookup/domain"
)

// SearchRequest is one metered search. Public requests are served under
// the shared public account and admission-controlled by network identity
// instead of charged.
type SearchRequest struct {
	AccountID string
	Term      string
	Mode      lookupdomain.Mode
	Public    bool
	// Identity is the caller's network identity; required for public
	// requests, ignored otherwise.
	Identity string
}

// SearchResult reports how a search was served and paid for.
type SearchResult struct {
	RequestID      string              `json:"request_id"`
	Status         lookupdomain.Status `json:"status"`
	FromCache      bool                `json:"from_cache"`
	Free           bool                `json:"free"`
	CreditsCharged int64               `json:"credits_charged"`
	TransactionID  string              `json:"transaction_id"`
	Payload        json.RawMessage     `json:"payload"`
}

// Service runs one search through admission, cache, ledger and the
// upstream directory.
type Service interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
}

var (
	ErrTermTooShort       = errors.New("search_term_too_short")
	ErrIdentityRequired   = errors.New("identity_required")
	ErrPublicModeDisabled = errors.New("public_mode_disabled")
	ErrRateLimited        = errors.New("rate_limited")
	// ErrSettlement marks a post-upstream failure where the compensating
	// ledger write also failed. Not retryable; logged as a defect.
	ErrSettlement = errors.New("settlement_failed")
)

// RateLimitedError carries the wait hint for a denied public request.
// errors.Is matches ErrRateLimited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate_limited: retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds the wait hint up to whole seconds for the
// Retry-After header. Denied requests always wait at least one second.
func (e *RateLimitedError) RetryAfterSeconds() int64 {
	secs := int64(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
