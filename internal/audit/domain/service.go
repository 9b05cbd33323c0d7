package domain

import (
	"context"
	"errors"
	"time"

	"github.com/seeklabs/bloxscout/pkg/db/pagination"
)

// ListAuditLogRequest filters the trail. String filters are exact matches
// and combine with AND; empty values are ignored.
type ListAuditLogRequest struct {
	pagination.Pagination
	AccountID  string
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Service records administrative and billing actions. Writes are best
// effort; callers log and continue when a write fails.
type Service interface {
	AuditLog(ctx context.Context, accountID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
