package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/seeklabs/bloxscout/internal/clock"
	cachedomain "github.com/seeklabs/bloxscout/internal/searchcache/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupCacheService(t *testing.T) (cachedomain.Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE search_cache_entries (
		id BIGINT PRIMARY KEY,
		account_id TEXT NOT NULL,
		search_term TEXT NOT NULL,
		search_mode TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_accessed_at DATETIME NOT NULL,
		access_count BIGINT NOT NULL DEFAULT 0
	)`).Error)
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX ux_search_cache_entries_key
		ON search_cache_entries (account_id, search_term, search_mode)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	service := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})
	return service, fake, db
}

func TestLookupMissThenHit(t *testing.T) {
	service, _, _ := setupCacheService(t)
	ctx := context.Background()

	key := cachedomain.Key{AccountID: "acct-1", Term: "Alice", Mode: "exact"}

	_, err := service.Lookup(ctx, key)
	require.ErrorIs(t, err, cachedomain.ErrMiss)

	payload := json.RawMessage(`{"id":123,"name":"Alice","displayName":"alice_dev"}`)
	stored, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     key,
		Status:  cachedomain.StatusSuccess,
		Payload: payload,
	})
	require.NoError(t, err)
	require.Equal(t, "alice", stored.SearchTerm)
	require.Equal(t, int64(0), stored.AccessCount)

	hit, err := service.Lookup(ctx, key)
	require.NoError(t, err)
	require.Equal(t, cachedomain.StatusSuccess, hit.Status)
	require.True(t, bytes.Equal(payload, hit.Payload), "payload must round-trip byte for byte")
	require.Equal(t, int64(1), hit.AccessCount)

	// Key normalization: different casing and whitespace hit the same entry.
	again, err := service.Lookup(ctx, cachedomain.Key{AccountID: "acct-1", Term: "  ALICE ", Mode: "EXACT"})
	require.NoError(t, err)
	require.Equal(t, hit.ID, again.ID)
	require.Equal(t, int64(2), again.AccessCount)
	require.True(t, bytes.Equal(payload, again.Payload))
}

func TestLookupScopedPerAccount(t *testing.T) {
	service, _, _ := setupCacheService(t)
	ctx := context.Background()

	_, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     cachedomain.Key{AccountID: "acct-1", Term: "bob", Mode: "exact"},
		Status:  cachedomain.StatusSuccess,
		Payload: json.RawMessage(`{"id":1}`),
	})
	require.NoError(t, err)

	_, err = service.Lookup(ctx, cachedomain.Key{AccountID: "acct-2", Term: "bob", Mode: "exact"})
	require.ErrorIs(t, err, cachedomain.ErrMiss)

	_, err = service.Lookup(ctx, cachedomain.Key{AccountID: "acct-1", Term: "bob", Mode: "fuzzy"})
	require.ErrorIs(t, err, cachedomain.ErrMiss)
}

func TestStoreFirstWriteWins(t *testing.T) {
	service, _, db := setupCacheService(t)
	ctx := context.Background()

	key := cachedomain.Key{AccountID: "acct-1", Term: "carol", Mode: "fuzzy"}
	first, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     key,
		Status:  cachedomain.StatusSuccess,
		Payload: json.RawMessage(`{"results":[{"id":7}]}`),
	})
	require.NoError(t, err)

	second, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     key,
		Status:  cachedomain.StatusSuccess,
		Payload: json.RawMessage(`{"results":[]}`),
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.JSONEq(t, `{"results":[{"id":7}]}`, string(second.Payload))

	var count int64
	require.NoError(t, db.Model(&cachedomain.Entry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestStoreRefreshOverwrites(t *testing.T) {
	service, _, _ := setupCacheService(t)
	ctx := context.Background()

	key := cachedomain.Key{AccountID: "acct-1", Term: "dave", Mode: "exact"}
	first, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     key,
		Status:  cachedomain.StatusNoMatch,
		Payload: nil,
	})
	require.NoError(t, err)
	require.Equal(t, cachedomain.StatusNoMatch, first.Status)
	require.Equal(t, "null", string(first.Payload))

	// Bump the counter so we can check it survives the refresh.
	_, err = service.Lookup(ctx, key)
	require.NoError(t, err)

	refreshed, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     key,
		Status:  cachedomain.StatusSuccess,
		Payload: json.RawMessage(`{"id":42}`),
		Refresh: true,
	})
	require.NoError(t, err)
	require.Equal(t, cachedomain.StatusSuccess, refreshed.Status)
	require.JSONEq(t, `{"id":42}`, string(refreshed.Payload))
	require.Equal(t, int64(1), refreshed.AccessCount)
}

func TestStoreRejectsUnknownStatus(t *testing.T) {
	service, _, _ := setupCacheService(t)
	ctx := context.Background()

	_, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:    cachedomain.Key{AccountID: "acct-1", Term: "x", Mode: "exact"},
		Status: cachedomain.Status("error"),
	})
	require.ErrorIs(t, err, cachedomain.ErrInvalidStatus)

	_, err = service.Store(ctx, cachedomain.StoreRequest{
		Key:    cachedomain.Key{AccountID: "", Term: "x", Mode: "exact"},
		Status: cachedomain.StatusSuccess,
	})
	require.ErrorIs(t, err, cachedomain.ErrInvalidKey)
}

func TestEvictOlderThan(t *testing.T) {
	service, fake, db := setupCacheService(t)
	ctx := context.Background()

	old := cachedomain.Key{AccountID: "acct-1", Term: "stale", Mode: "exact"}
	_, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     old,
		Status:  cachedomain.StatusSuccess,
		Payload: json.RawMessage(`{"id":1}`),
	})
	require.NoError(t, err)

	fake.Advance(48 * time.Hour)

	fresh := cachedomain.Key{AccountID: "acct-1", Term: "fresh", Mode: "exact"}
	_, err = service.Store(ctx, cachedomain.StoreRequest{
		Key:     fresh,
		Status:  cachedomain.StatusSuccess,
		Payload: json.RawMessage(`{"id":2}`),
	})
	require.NoError(t, err)

	removed, err := service.EvictOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, err = service.Lookup(ctx, old)
	require.ErrorIs(t, err, cachedomain.ErrMiss)
	_, err = service.Lookup(ctx, fresh)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&cachedomain.Entry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	_, err = service.EvictOlderThan(ctx, 0)
	require.ErrorIs(t, err, cachedomain.ErrInvalidAge)
}

func TestEvictionCutoffUsesLastAccess(t *testing.T) {
	service, fake, _ := setupCacheService(t)
	ctx := context.Background()

	key := cachedomain.Key{AccountID: "acct-1", Term: "warm", Mode: "fuzzy"}
	_, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     key,
		Status:  cachedomain.StatusSuccess,
		Payload: json.RawMessage(`{"id":3}`),
	})
	require.NoError(t, err)

	// A hit inside the window refreshes last_accessed_at, shielding the
	// entry from the sweep even though created_at is old.
	fake.Advance(20 * time.Hour)
	_, err = service.Lookup(ctx, key)
	require.NoError(t, err)

	fake.Advance(10 * time.Hour)
	removed, err := service.EvictOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(0), removed)

	_, err = service.Lookup(ctx, key)
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	service, _, _ := setupCacheService(t)
	ctx := context.Background()

	for i, status := range []cachedomain.Status{cachedomain.StatusSuccess, cachedomain.StatusSuccess, cachedomain.StatusNoMatch} {
		_, err := service.Store(ctx, cachedomain.StoreRequest{
			Key:     cachedomain.Key{AccountID: "acct-1", Term: fmt.Sprintf("term-%d", i), Mode: "exact"},
			Status:  status,
			Payload: json.RawMessage(`{}`),
		})
		require.NoError(t, err)
	}
	_, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     cachedomain.Key{AccountID: "acct-2", Term: "other", Mode: "exact"},
		Status:  cachedomain.StatusSuccess,
		Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	_, err = service.Lookup(ctx, cachedomain.Key{AccountID: "acct-1", Term: "term-0", Mode: "exact"})
	require.NoError(t, err)
	_, err = service.Lookup(ctx, cachedomain.Key{AccountID: "acct-1", Term: "term-0", Mode: "exact"})
	require.NoError(t, err)

	scoped, err := service.Stats(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), scoped.Entries)
	require.Equal(t, int64(2), scoped.TotalHits)
	require.Equal(t, int64(2), scoped.SuccessEntries)
	require.Equal(t, int64(1), scoped.NoMatchEntries)

	global, err := service.Stats(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(4), global.Entries)
}

func TestLookupCountsAreMonotone(t *testing.T) {
	service, _, _ := setupCacheService(t)
	ctx := context.Background()

	key := cachedomain.Key{AccountID: "acct-1", Term: "eve", Mode: "exact"}
	_, err := service.Store(ctx, cachedomain.StoreRequest{
		Key:     key,
		Status:  cachedomain.StatusSuccess,
		Payload: json.RawMessage(`{"id":9}`),
	})
	require.NoError(t, err)

	var last int64
	for i := 1; i <= 5; i++ {
		hit, err := service.Lookup(ctx, key)
		require.NoError(t, err)
		require.Greater(t, hit.AccessCount, last)
		last = hit.AccessCount
	}
	require.Equal(t, int64(5), last)
}

func TestLookupValidation(t *testing.T) {
	service, _, _ := setupCacheService(t)
	ctx := context.Background()

	_, err := service.Lookup(ctx, cachedomain.Key{AccountID: "acct-1", Term: "   ", Mode: "exact"})
	require.True(t, errors.Is(err, cachedomain.ErrInvalidKey))
}
