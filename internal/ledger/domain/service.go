package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/seeklabs/bloxscout/pkg/db/pagination"
)

// Balance is the caller-facing view of an account's credit position.
type Balance struct {
	AccountID      string `json:"account_id"`
	Balance        int64  `json:"balance"`
	TotalPurchased int64  `json:"total_purchased"`
	TotalUsed      int64  `json:"total_used"`
	Disabled       bool   `json:"disabled"`
}

type ChargeRequest struct {
	AccountID   string
	Cost        int64
	RequestID   string
	Description string
}

type CreditRequest struct {
	AccountID   string
	Amount      int64
	SourceID    string
	Description string
}

type RefundRequest struct {
	AccountID   string
	Amount      int64
	SourceID    string
	RequestID   string
	Description string
}

type AdjustRequest struct {
	AccountID   string
	Amount      int64 // signed; negative reduces the balance
	Actor       string
	Description string
}

type ListTransactionsRequest struct {
	pagination.Pagination
	AccountID string
	Kind      string
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

// IntegrityReport compares the balance row against aggregates recomputed
// from the transaction log. Drift is reported, never repaired.
type IntegrityReport struct {
	AccountID         string `json:"account_id"`
	Consistent        bool   `json:"consistent"`
	Balance           int64  `json:"balance"`
	TotalPurchased    int64  `json:"total_purchased"`
	TotalUsed         int64  `json:"total_used"`
	ComputedPurchased int64  `json:"computed_purchased"`
	ComputedUsed      int64  `json:"computed_used"`
	TransactionCount  int64  `json:"transaction_count"`
}

type Service interface {
	// GetBalance lazily creates a zero row for unseen accounts.
	GetBalance(ctx context.Context, accountID string) (Balance, error)
	// Charge deducts cost atomically; concurrent charges on the same
	// account resolve to exactly one winner per remaining credit.
	Charge(ctx context.Context, req ChargeRequest) (*Transaction, Balance, error)
	// RecordFree appends a zero-amount row for cache hits and free
	// no-match outcomes.
	RecordFree(ctx context.Context, accountID, requestID, description string) (*Transaction, Balance, error)
	// Credit adds purchased credits; replays of the same sourceID are
	// no-ops returning the already-recorded transaction.
	Credit(ctx context.Context, req CreditRequest) (*Transaction, Balance, error)
	// Refund returns credits; modeled as a grant so both aggregates stay
	// monotone. Idempotent per sourceID like Credit.
	Refund(ctx context.Context, req RefundRequest) (*Transaction, Balance, error)
	// Adjust applies a signed manual correction.
	Adjust(ctx context.Context, req AdjustRequest) (*Transaction, Balance, error)
	// History lists transactions newest first with cursor pagination.
	History(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	SetDisabled(ctx context.Context, accountID string, disabled bool) error
	// VerifyIntegrity recomputes aggregates from the log and reports drift.
	VerifyIntegrity(ctx context.Context, accountID string) (IntegrityReport, error)
}

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidSourceID     = errors.New("invalid_source_id")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrAccountDisabled     = errors.New("account_disabled")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrNegativeBalance     = errors.New("negative_balance")
	// ErrIntegrity marks arithmetic violations. These abort the operation
	// and are logged as defects, never shown as ordinary user errors.
	ErrIntegrity = errors.New("ledger_integrity_violation")
)

// InsufficientBalanceError carries the amounts needed for a helpful
// "you have N, need M" message. errors.Is matches ErrInsufficientBalance.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient_balance: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

const maxSourceIDLength = 128

// ValidateSourceID checks the payment/source identifier format. Source ids
// are opaque free-form strings from upstream payment systems; they are
// allow-list validated and never coerced into numeric keys.
func ValidateSourceID(sourceID string) error {
	if sourceID == "" || len(sourceID) > maxSourceIDLength {
		return ErrInvalidSourceID
	}
	for i := 0; i < len(sourceID); i++ {
		c := sourceID[i]
		if isAlnum(c) {
			continue
		}
		if i == 0 {
			return ErrInvalidSourceID
		}
		switch c {
		case '_', '-', '.', ':', '|':
		default:
			return ErrInvalidSourceID
		}
	}
	return nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
