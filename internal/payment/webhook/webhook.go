package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paymentdomain "github.com/seeklabs/bloxscout/internal/payment/domain"
)

// SignatureHeader carries the payment partner's HMAC over the body in the
// "t=<unix>,v1=<hex>" form. The signed payload is "<t>.<body>".
const SignatureHeader = "X-Payment-Signature"

// DefaultProvider names the single upstream billing partner.
const DefaultProvider = "billing"

type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret)}
}

// Verify authenticates payload against the signature header value. An
// unconfigured secret rejects everything.
func (v *Verifier) Verify(payload []byte, header string) error {
	if v == nil || v.secret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(v.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

type webhookEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id"`
	Credits    int64     `json:"credits"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ParseEvent decodes a verified webhook body into the canonical event.
// Unknown event types surface paymentdomain.ErrEventIgnored so the caller
// can acknowledge them without applying anything.
func ParseEvent(provider string, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case paymentdomain.EventTypePaymentSucceeded,
		paymentdomain.EventTypePaymentFailed,
		paymentdomain.EventTypeRefunded:
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	return &paymentdomain.PaymentEvent{
		Provider:        provider,
		ProviderEventID: strings.TrimSpace(event.ID),
		Type:            eventType,
		AccountID:       event.AccountID,
		Credits:         event.Credits,
		OccurredAt:      event.OccurredAt,
	}, nil
}
