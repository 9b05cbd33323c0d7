package scheduler

import (
	"context"
	"fmt"
	"time"

	obsmetrics "github.com/seeklabs/bloxscout/internal/observability/metrics"
	"go.uber.org/zap"
)

// acquireJobLock takes the distributed lock for a job. With no Redis
// client configured the locker is nil and every acquisition succeeds,
// which is the single-replica deployment mode. The returned release
// function is safe to call either way.
func (s *Scheduler) acquireJobLock(ctx context.Context, job, resource string) (bool, func(), error) {
	key := fmt.Sprintf("bloxscout:lock:%s", resource)
	lockStart := time.Now()
	token, acquired, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	obsmetrics.Scheduler().ObserveLockWait(resource, time.Since(lockStart))
	if err != nil {
		return false, func() {}, err
	}
	if !acquired {
		obsmetrics.Scheduler().IncBatchDeferred(job, "lock_held")
		s.logger(ctx).Debug("job lock held by peer",
			zap.String("job", job),
			zap.String("resource", resource),
		)
		return false, func() {}, nil
	}
	release := func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("job lock release failed",
				zap.String("job", job),
				zap.String("resource", resource),
				zap.Error(err),
			)
		}
	}
	return true, release, nil
}

type workAccount struct {
	AccountID string
}

// fetchAccountsForIntegrity pages through accounts touched inside the
// lookback window, keyset-ordered so interrupted runs resume cleanly.
func (s *Scheduler) fetchAccountsForIntegrity(ctx context.Context, activeSince time.Time, afterAccountID string, limit int) ([]string, error) {
	var rows []workAccount
	err := s.db.WithContext(ctx).Raw(
		`SELECT account_id
		 FROM account_balances
		 WHERE updated_at >= ? AND account_id > ?
		 ORDER BY account_id
		 LIMIT ?`,
		activeSince,
		afterAccountID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	accountIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		accountIDs = append(accountIDs, row.AccountID)
	}
	return accountIDs, nil
}
