package scheduler

import (
	"context"
	"time"

	"github.com/seeklabs/bloxscout/internal/accountcontext"
	obslogger "github.com/seeklabs/bloxscout/internal/observability/logger"
	obsmetrics "github.com/seeklabs/bloxscout/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun accumulates per-run counters so nested helpers report into the
// same tally as the job that started them.
type jobRun struct {
	name      string
	id        string
	batch     int
	began     time.Time
	processed int
	failed    int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.failed++
	}
}

func (r *jobRun) Processed() int {
	if r == nil {
		return 0
	}
	return r.processed
}

func (r *jobRun) Failed() int {
	if r == nil {
		return 0
	}
	return r.failed
}

func (r *jobRun) ID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// ensureJobRun returns the run already attached to ctx, or starts a new
// one. The third result reports whether the caller owns the run and
// should emit the start and finish lines.
func (s *Scheduler) ensureJobRun(ctx context.Context, name string, batch int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if run := jobRunFromContext(ctx); run != nil {
		return ctx, run, false
	}

	run := &jobRun{
		name:  name,
		id:    s.genID.Generate().String(),
		batch: batch,
		began: time.Now(),
	}
	ctx = accountcontext.WithActor(context.WithValue(ctx, jobRunKey{}, run), "system")
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("job run started",
		zap.String("job", run.name),
		zap.String("run_id", run.id),
		zap.Int("batch_size", run.batch),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	log := s.logger(ctx).With(
		zap.String("job", run.name),
		zap.String("run_id", run.id),
		zap.Duration("elapsed", time.Since(run.began)),
		zap.Int("processed", run.processed),
		zap.Int("failed", run.failed),
	)
	if run.failed > 0 {
		log.Warn("job run finished with errors")
		return
	}
	log.Info("job run finished")
}

// logSchedulerError counts the failure against the run and logs it with
// the same retry classification the scheduler metrics use.
func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg, job string, err error, extra ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	fields := append([]zap.Field{
		zap.String("job", job),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}, extra...)
	s.logger(ctx).Error(msg, fields...)
}
