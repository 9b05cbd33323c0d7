package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/seeklabs/bloxscout/internal/accountcontext"
	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
	"github.com/seeklabs/bloxscout/internal/audit/masking"
	"github.com/seeklabs/bloxscout/internal/observability/obscontext"
	"github.com/seeklabs/bloxscout/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) AuditLog(ctx context.Context, accountID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if targetType = strings.TrimSpace(targetType); targetType == "" {
		targetType = "unknown"
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		AccountID:  s.resolveAccountID(ctx, accountID),
		Actor:      s.resolveActor(ctx),
		Action:     action,
		TargetType: targetType,
		TargetID:   trimmedPtr(targetID),
		Metadata:   auditMetadata(ctx, metadata),
		CreatedAt:  time.Now().UTC(),
	}
	if ip := obscontext.ClientIPFromContext(ctx); ip != "" {
		entry.IPAddress = &ip
	}
	if ua := obscontext.UserAgentFromContext(ctx); ua != "" {
		entry.UserAgent = &ua
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

// auditMetadata merges request-scoped fields into the caller's metadata and
// redacts anything secret-shaped before the entry is persisted.
func auditMetadata(ctx context.Context, metadata map[string]any) datatypes.JSONMap {
	payload := make(map[string]any, len(metadata)+1)
	for key, value := range metadata {
		if key != "" {
			payload[key] = value
		}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	return datatypes.JSONMap(masking.MaskSensitive(payload))
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	var resp auditdomain.ListAuditLogResponse

	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return resp, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := decodeAuditCursor(req.PageToken)
	if err != nil {
		return resp, err
	}
	pageSize := clampPageSize(req.PageSize)

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		AccountID:  req.AccountID,
		Actor:      req.Actor,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return resp, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), auditCursorToken)
	if pageInfo != nil {
		if pageInfo.HasMore && len(items) > pageSize {
			items = items[:pageSize]
		}
		resp.PageInfo = *pageInfo
	}

	resp.AuditLogs = make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			resp.AuditLogs = append(resp.AuditLogs, *item)
		}
	}
	return resp, nil
}

func auditCursorToken(item *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        item.ID.String(),
		CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeAuditCursor(token string) (*auditdomain.AuditCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

func clampPageSize(size int) int {
	switch {
	case size <= 0:
		return 50
	case size > 250:
		return 250
	default:
		return size
	}
}

func (s *Service) resolveAccountID(ctx context.Context, accountID *string) *string {
	if normalized := trimmedPtr(accountID); normalized != nil {
		return normalized
	}
	if resolved, ok := accountcontext.AccountIDFromContext(ctx); ok {
		return &resolved
	}
	return nil
}

func (s *Service) resolveActor(ctx context.Context) string {
	if actor, ok := accountcontext.ActorFromContext(ctx); ok {
		return actor
	}
	return auditdomain.ActorSystem
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	if v := strings.TrimSpace(*value); v != "" {
		return &v
	}
	return nil
}
