package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/seeklabs/bloxscout/internal/clock"
	obsmetrics "github.com/seeklabs/bloxscout/internal/observability/metrics"
	cachedomain "github.com/seeklabs/bloxscout/internal/searchcache/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) cachedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("searchcache.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Lookup(ctx context.Context, key cachedomain.Key) (*cachedomain.Entry, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}

	// The bump is a single conditional update so concurrent hits each
	// count exactly once.
	result := s.db.WithContext(ctx).Exec(
		`UPDATE search_cache_entries
		 SET access_count = access_count + 1, last_accessed_at = ?
		 WHERE account_id = ? AND search_term = ? AND search_mode = ?`,
		s.clock.Now().UTC(), key.AccountID, key.Term, key.Mode,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		s.recordEvent(ctx, "miss")
		return nil, cachedomain.ErrMiss
	}

	entry, err := s.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, "hit")
	return entry, nil
}

func (s *Service) Store(ctx context.Context, req cachedomain.StoreRequest) (*cachedomain.Entry, error) {
	key := req.Key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if req.Status != cachedomain.StatusSuccess && req.Status != cachedomain.StatusNoMatch {
		return nil, cachedomain.ErrInvalidStatus
	}

	payload := req.Payload
	if len(payload) == 0 {
		// No-match outcomes may carry no body; keep the column non-null.
		payload = json.RawMessage("null")
	}

	now := s.clock.Now().UTC()
	entry := &cachedomain.Entry{
		ID:             s.genID.Generate(),
		AccountID:      key.AccountID,
		SearchTerm:     key.Term,
		SearchMode:     key.Mode,
		Status:         req.Status,
		Payload:        payload,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
	}

	query := `INSERT INTO search_cache_entries (
		id, account_id, search_term, search_mode, status, payload,
		created_at, last_accessed_at, access_count
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`
	if req.Refresh {
		query += ` ON CONFLICT (account_id, search_term, search_mode)
			DO UPDATE SET status = EXCLUDED.status,
			              payload = EXCLUDED.payload,
			              created_at = EXCLUDED.created_at`
	} else {
		query += ` ON CONFLICT (account_id, search_term, search_mode) DO NOTHING`
	}

	result := s.db.WithContext(ctx).Exec(
		query,
		entry.ID,
		entry.AccountID,
		entry.SearchTerm,
		entry.SearchMode,
		string(entry.Status),
		string(entry.Payload),
		entry.CreatedAt,
		entry.LastAccessedAt,
	)
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		// First write won; hand back what the cache already holds.
		existing, err := s.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		s.recordEvent(ctx, "store_duplicate")
		return existing, nil
	}

	if req.Refresh {
		s.recordEvent(ctx, "refresh")
	} else {
		s.recordEvent(ctx, "store")
	}
	return s.fetch(ctx, key)
}

func (s *Service) EvictOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, cachedomain.ErrInvalidAge
	}

	cutoff := s.clock.Now().UTC().Add(-age)
	result := s.db.WithContext(ctx).Exec(
		`DELETE FROM search_cache_entries WHERE last_accessed_at < ?`, cutoff,
	)
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		s.log.Info("evicted idle cache entries",
			zap.Int64("count", result.RowsAffected),
			zap.Duration("age", age),
		)
	}
	return result.RowsAffected, nil
}

func (s *Service) Stats(ctx context.Context, accountID string) (cachedomain.Stats, error) {
	accountID = strings.TrimSpace(accountID)

	var row struct {
		Entries        int64
		TotalHits      int64
		SuccessEntries int64
		NoMatchEntries int64
	}
	query := `SELECT COUNT(*) AS entries,
		COALESCE(SUM(access_count), 0) AS total_hits,
		COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) AS success_entries,
		COALESCE(SUM(CASE WHEN status = 'no_match' THEN 1 ELSE 0 END), 0) AS no_match_entries
		FROM search_cache_entries`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&row).Error; err != nil {
		return cachedomain.Stats{}, err
	}

	return cachedomain.Stats{
		AccountID:      accountID,
		Entries:        row.Entries,
		TotalHits:      row.TotalHits,
		SuccessEntries: row.SuccessEntries,
		NoMatchEntries: row.NoMatchEntries,
	}, nil
}

func (s *Service) fetch(ctx context.Context, key cachedomain.Key) (*cachedomain.Entry, error) {
	var entry cachedomain.Entry
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND search_term = ? AND search_mode = ?", key.AccountID, key.Term, key.Mode).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) recordEvent(ctx context.Context, event string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCacheEvent(ctx, event)
	}
}
