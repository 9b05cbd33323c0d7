package repository

import (
	"context"
	"strings"

	"github.com/seeklabs/bloxscout/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Table("audit_logs").Create(map[string]any{
		"id":          entry.ID,
		"account_id":  entry.AccountID,
		"actor":       entry.Actor,
		"action":      entry.Action,
		"target_type": entry.TargetType,
		"target_id":   entry.TargetID,
		"metadata":    entry.Metadata,
		"ip_address":  entry.IPAddress,
		"user_agent":  entry.UserAgent,
		"created_at":  entry.CreatedAt,
	}).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	stmt := scopeToFilter(db.WithContext(ctx).Model(&domain.AuditLog{}), filter)

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		// One extra row so the caller can tell whether another page exists.
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var logs []*domain.AuditLog
	err := stmt.Find(&logs).Error
	return logs, err
}

// scopeToFilter narrows the query to the filter's exact-match columns, its
// time range and, when paginating, everything strictly before the cursor.
func scopeToFilter(stmt *gorm.DB, filter domain.ListFilter) *gorm.DB {
	for column, value := range map[string]string{
		"account_id":  filter.AccountID,
		"actor":       filter.Actor,
		"action":      filter.Action,
		"target_type": filter.TargetType,
		"target_id":   filter.TargetID,
	} {
		if v := strings.TrimSpace(value); v != "" {
			stmt = stmt.Where(column+" = ?", v)
		}
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if c := filter.Cursor; c != nil {
		stmt = stmt.Where("created_at < ? OR (created_at = ? AND id < ?)", c.CreatedAt, c.CreatedAt, c.ID)
	}
	return stmt
}
