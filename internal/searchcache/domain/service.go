package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Key identifies a cache entry. Term and mode are normalized before use;
// two requests that differ only in case or surrounding whitespace share
// an entry.
type Key struct {
	AccountID string
	Term      string
	Mode      string
}

// Normalize lowercases and trims the term and mode.
func (k Key) Normalize() Key {
	return Key{
		AccountID: strings.TrimSpace(k.AccountID),
		Term:      NormalizeTerm(k.Term),
		Mode:      NormalizeTerm(k.Mode),
	}
}

type StoreRequest struct {
	Key
	Status  Status
	Payload json.RawMessage
	// Refresh overwrites an existing entry instead of keeping the first
	// write. Access counters survive a refresh.
	Refresh bool
}

type Stats struct {
	AccountID      string `json:"account_id,omitempty"`
	Entries        int64  `json:"entries"`
	TotalHits      int64  `json:"total_hits"`
	SuccessEntries int64  `json:"success_entries"`
	NoMatchEntries int64  `json:"no_match_entries"`
}

type Service interface {
	// Lookup returns the entry for the key, bumping access_count and
	// last_accessed_at as a side effect. Misses return ErrMiss.
	Lookup(ctx context.Context, key Key) (*Entry, error)
	// Store writes an entry. Without Refresh the first write wins and a
	// replay returns the existing entry unchanged.
	Store(ctx context.Context, req StoreRequest) (*Entry, error)
	// EvictOlderThan deletes entries whose last access is older than age
	// and reports how many were removed.
	EvictOlderThan(ctx context.Context, age time.Duration) (int64, error)
	Stats(ctx context.Context, accountID string) (Stats, error)
}

var (
	ErrMiss          = errors.New("cache_miss")
	ErrInvalidKey    = errors.New("invalid_cache_key")
	ErrInvalidStatus = errors.New("invalid_cache_status")
	ErrInvalidAge    = errors.New("invalid_eviction_age")
)

// NormalizeTerm canonicalizes a search term for cache keying.
func NormalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// Validate checks a normalized key.
func (k Key) Validate() error {
	if k.AccountID == "" || k.Term == "" || k.Mode == "" {
		return ErrInvalidKey
	}
	return nil
}
