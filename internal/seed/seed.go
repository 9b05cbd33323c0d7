package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DefaultPublicAccountID backs anonymous searches when public mode is on
// and no account id is configured.
const DefaultPublicAccountID = "public"

// EnsurePublicAccount seeds the shared account that anonymous searches
// bill against. Safe to call on every startup.
func EnsurePublicAccount(db *gorm.DB, accountID string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		accountID = DefaultPublicAccountID
	}

	ctx := context.Background()
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`INSERT INTO account_balances (account_id, balance, total_purchased, total_used, disabled, created_at, updated_at)
		 VALUES (?, 0, 0, 0, FALSE, ?, ?)
		 ON CONFLICT (account_id) DO NOTHING`,
		accountID, now, now,
	).Error
}
