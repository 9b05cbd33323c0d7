package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
	"github.com/seeklabs/bloxscout/internal/authorization"
	"github.com/seeklabs/bloxscout/internal/clock"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	obsmetrics "github.com/seeklabs/bloxscout/internal/observability/metrics"
	"github.com/seeklabs/bloxscout/internal/ratelimit"
	cachedomain "github.com/seeklabs/bloxscout/internal/searchcache/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	LedgerSvc  ledgerdomain.Service
	CacheSvc   cachedomain.Service
	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service
	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

// Scheduler drives the maintenance jobs: the result cache idle sweep and
// the ledger integrity verification pass. Jobs are read-mostly; drift is
// reported, never repaired here.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	cacheSvc   cachedomain.Service
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	locker     *ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.LedgerSvc == nil || p.CacheSvc == nil || p.AuthzSvc == nil || p.AuditSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		ledgerSvc:  p.LedgerSvc,
		cacheSvc:   p.CacheSvc,
		authzSvc:   p.AuthzSvc,
		auditSvc:   p.AuditSvc,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.ID()),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.Failed() == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadline and cancellation are soft timeouts; the next tick resumes
	// where this one left off.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"cache_sweep", s.isJobEnabled("cache_sweep") && s.cfg.CacheSweepMaxAge > 0, func(ctx context.Context) error {
			return s.runJob(ctx, "cache_sweep", 0, 2*time.Minute, s.CacheSweepJob)
		}},
		{"ledger_integrity", s.isJobEnabled("ledger_integrity"), func(ctx context.Context) error {
			return s.runJob(ctx, "ledger_integrity", s.cfg.IntegrityBatchSize, 10*time.Minute, s.LedgerIntegrityJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables every job (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// CacheSweepJob evicts result cache entries nobody has read within the
// configured age. Skipped when a peer replica holds the sweep lock.
func (s *Scheduler) CacheSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "cache_sweep", 0)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	acquired, release, err := s.acquireJobLock(ctx, "cache_sweep", obsmetrics.LockResourceCacheSweep)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.lock.failed", "cache_sweep", err)
		return err
	}
	if !acquired {
		return nil
	}
	defer release()

	if err := s.authzSvc.Authorize(ctx, authorization.ActorSystem, authorization.ObjectCache, authorization.ActionCacheEvict); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "cache_sweep", err)
		return err
	}

	evicted, err := s.cacheSvc.EvictOlderThan(ctx, s.cfg.CacheSweepMaxAge)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.cache.sweep.failed", "cache_sweep", err)
		return err
	}
	run.AddProcessed(int(evicted))
	obsmetrics.Scheduler().AddBatchProcessed("cache_sweep", "cache_entries", int(evicted))
	if evicted > 0 {
		s.logger(ctx).Info("cache sweep evicted entries",
			zap.Int64("evicted", evicted),
			zap.Duration("max_age", s.cfg.CacheSweepMaxAge),
		)
	}
	return nil
}

// LedgerIntegrityJob recomputes aggregates for accounts active inside the
// lookback window and reports any drift. Drift is a defect signal for
// operators; nothing is mutated.
func (s *Scheduler) LedgerIntegrityJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "ledger_integrity", s.cfg.IntegrityBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	acquired, release, err := s.acquireJobLock(ctx, "ledger_integrity", obsmetrics.LockResourceLedgerIntegrity)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.lock.failed", "ledger_integrity", err)
		return err
	}
	if !acquired {
		return nil
	}
	defer release()

	if err := s.authzSvc.Authorize(ctx, authorization.ActorSystem, authorization.ObjectLedger, authorization.ActionLedgerVerify); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "ledger_integrity", err)
		return err
	}

	activeSince := s.clock.Now().UTC().Add(-s.cfg.IntegrityLookback)
	var jobErr error
	cursor := ""

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		accountIDs, err := s.fetchAccountsForIntegrity(ctx, activeSince, cursor, s.cfg.IntegrityBatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.integrity.fetch.failed", "ledger_integrity", err)
			return errors.Join(jobErr, err)
		}
		if len(accountIDs) == 0 {
			break
		}
		cursor = accountIDs[len(accountIDs)-1]

		for _, accountID := range accountIDs {
			report, err := s.ledgerSvc.VerifyIntegrity(ctx, accountID)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.integrity.verify.failed", "ledger_integrity", err,
					zap.String("account_id", accountID),
				)
				continue
			}
			run.AddProcessed(1)
			if !report.Consistent {
				s.reportDrift(ctx, run, report)
			}
		}
	}

	obsmetrics.Scheduler().AddBatchProcessed("ledger_integrity", "accounts", run.Processed())
	return jobErr
}

func (s *Scheduler) reportDrift(ctx context.Context, run *jobRun, report ledgerdomain.IntegrityReport) {
	run.IncError()
	if s.obsMetrics != nil {
		s.obsMetrics.RecordIntegrityDrift(ctx)
	}
	s.logger(ctx).Error("ledger integrity drift detected",
		zap.String("account_id", report.AccountID),
		zap.Int64("balance", report.Balance),
		zap.Int64("total_purchased", report.TotalPurchased),
		zap.Int64("total_used", report.TotalUsed),
		zap.Int64("computed_purchased", report.ComputedPurchased),
		zap.Int64("computed_used", report.ComputedUsed),
		zap.Int64("transaction_count", report.TransactionCount),
	)
	if err := s.auditSvc.AuditLog(ctx, &report.AccountID, "ledger.integrity_drift", "account", &report.AccountID, map[string]any{
		"balance":            report.Balance,
		"total_purchased":    report.TotalPurchased,
		"total_used":         report.TotalUsed,
		"computed_purchased": report.ComputedPurchased,
		"computed_used":      report.ComputedUsed,
		"transaction_count":  report.TransactionCount,
	}); err != nil {
		s.logger(ctx).Warn("integrity drift audit failed",
			zap.String("account_id", report.AccountID),
			zap.Error(err),
		)
	}
}
