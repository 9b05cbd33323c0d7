package ratelimit

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/seeklabs/bloxscout/internal/clock"
)

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// MemoryLimiter is the default single-instance backend: a sharded map of
// per-identity timestamp slices. Identities are pruned lazily on access
// and reclaimed by a background sweep once idle past the window.
type MemoryLimiter struct {
	cfg    Config
	clock  clock.Clock
	shards [shardCount]*shard

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMemoryLimiter(cfg Config, clk clock.Clock) (*MemoryLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l := &MemoryLimiter{
		cfg:   cfg,
		clock: clk,
		done:  make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string][]time.Time)}
	}

	if cfg.SweepInterval > 0 {
		l.wg.Add(1)
		go l.sweepLoop()
	}
	return l, nil
}

func (l *MemoryLimiter) Admit(ctx context.Context, identity string) (Decision, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Decision{}, ErrInvalidIdentity
	}

	now := l.clock.Now()
	cutoff := now.Add(-l.cfg.Window)

	s := l.shardFor(identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := append(s.windows[identity], now)
	stamps = pruneBefore(stamps, cutoff)
	s.windows[identity] = stamps

	return decide(stamps, l.cfg.Limit, l.cfg.Window, now), nil
}

// Len reports how many identities currently hold a window. Used by tests
// and the stats surface.
func (l *MemoryLimiter) Len() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.windows)
		s.mu.Unlock()
	}
	return total
}

// Close stops the sweep goroutine. Safe to call more than once.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *MemoryLimiter) shardFor(identity string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return l.shards[h.Sum32()%shardCount]
}

func (l *MemoryLimiter) sweepLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep reclaims idle identities and compacts surviving slices so the
// backing arrays do not pin released stamps.
func (l *MemoryLimiter) sweep() {
	cutoff := l.clock.Now().Add(-l.cfg.Window)
	for _, s := range l.shards {
		s.mu.Lock()
		for identity, stamps := range s.windows {
			kept := pruneBefore(stamps, cutoff)
			if len(kept) == 0 {
				delete(s.windows, identity)
				continue
			}
			s.windows[identity] = append(make([]time.Time, 0, len(kept)), kept...)
		}
		s.mu.Unlock()
	}
}
