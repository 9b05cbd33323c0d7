// Package domain contains the credit ledger models and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Kind classifies a ledger transaction.
type Kind string

const (
	KindPurchase   Kind = "PURCHASE"
	KindUsage      Kind = "USAGE"
	KindFreeUsage  Kind = "FREE_USAGE"
	KindRefund     Kind = "REFUND"
	KindAdjustment Kind = "ADJUSTMENT"
)

// AccountBalance is the derived credit position for one billable account.
// balance = total_purchased - total_used holds under every code path; the
// schema repeats it as a CHECK constraint.
type AccountBalance struct {
	AccountID      string    `gorm:"primaryKey;type:text"`
	Balance        int64     `gorm:"not null;default:0"`
	TotalPurchased int64     `gorm:"not null;default:0"`
	TotalUsed      int64     `gorm:"not null;default:0"`
	Disabled       bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AccountBalance) TableName() string { return "account_balances" }

// Transaction is one append-only ledger row. Rows are never updated or
// deleted after insert; the log is the source of truth for balance
// reconstruction.
type Transaction struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID     string       `gorm:"type:text;not null;index:idx_ledger_transactions_account_created,priority:1;uniqueIndex:ux_ledger_transactions_source,priority:1" json:"account_id"`
	Kind          Kind         `gorm:"type:text;not null" json:"kind"`
	Amount        int64        `gorm:"not null" json:"amount"`
	BalanceBefore int64        `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64        `gorm:"not null" json:"balance_after"`
	SourceID      *string      `gorm:"type:text;uniqueIndex:ux_ledger_transactions_source,priority:2" json:"source_id,omitempty"`
	RequestID     *string      `gorm:"type:text" json:"request_id,omitempty"`
	Description   string       `gorm:"type:text;not null;default:''" json:"description"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "ledger_transactions" }
