package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Decision is the outcome of one admission check. A denied decision
// reports how long until the oldest request in the window expires.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for a network identity under a
// sliding window. Every call records a timestamp, allowed or not, so a
// client that keeps hammering stays denied.
type Limiter interface {
	Admit(ctx context.Context, identity string) (Decision, error)
}

// Config holds the window parameters shared by both backends.
type Config struct {
	// Limit is the ceiling N of requests per Window.
	Limit int
	// Window is the sliding duration W.
	Window time.Duration
	// SweepInterval controls the memory backend's idle-identity sweep.
	// Zero disables the background sweep; lazy pruning still applies.
	SweepInterval time.Duration
	// KeyPrefix namespaces redis keys.
	KeyPrefix string
}

var (
	ErrInvalidIdentity = errors.New("invalid_rate_limit_identity")
	ErrInvalidConfig   = errors.New("invalid_rate_limit_config")
)

func (c Config) validate() error {
	if c.Limit <= 0 || c.Window <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// decide applies the admission arithmetic to an already-pruned window.
// The newest stamp (the current request) is part of stamps.
func decide(stamps []time.Time, limit int, window time.Duration, now time.Time) Decision {
	count := len(stamps)
	if count <= limit {
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count,
		}
	}

	retry := stamps[0].Add(window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return Decision{
		Allowed:    false,
		Limit:      limit,
		RetryAfter: retry,
	}
}

// pruneBefore drops stamps at or before the cutoff. Stamps are ordered
// oldest first.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	return stamps[idx:]
}
