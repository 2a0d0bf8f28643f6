package dispatcher

import (
	"context"
	"sync"
	"time"

	obscontext "github.com/smallbiznis/pushrelay/internal/observability/context"
	obslogger "github.com/smallbiznis/pushrelay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pushrelay/internal/observability/metrics"
	"go.uber.org/zap"
)

const runJobName = "dispatch"

type dispatchRun struct {
	runID     string
	batchSize int
	startedAt time.Time

	mu     sync.Mutex
	result Result
	errors int
}

func (r *dispatchRun) record(fn func(*Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.result)
}

func (r *dispatchRun) IncError() {
	r.mu.Lock()
	r.errors++
	r.mu.Unlock()
}

func (r *dispatchRun) snapshot() (Result, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.errors
}

func (d *Dispatcher) newRun(ctx context.Context) (context.Context, *dispatchRun) {
	run := &dispatchRun{
		runID:     d.genID.Generate().String(),
		batchSize: d.cfg.BatchSize,
		startedAt: time.Now(),
	}
	return obscontext.WithActor(ctx, "system", "dispatcher"), run
}

func (d *Dispatcher) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, d.log)
}

func (d *Dispatcher) logRunStart(ctx context.Context, run *dispatchRun) {
	d.logger(ctx).Info("dispatcher.job.start",
		zap.String("job", runJobName),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (d *Dispatcher) logRunFinish(ctx context.Context, run *dispatchRun) {
	result, errCount := run.snapshot()
	fields := []zap.Field{
		zap.String("job", runJobName),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("retried", result.Retried),
		zap.Int("disabled_subscriptions", result.DisabledSubscriptions),
		zap.Int("error_count", errCount),
	}
	log := d.logger(ctx)
	if errCount > 0 {
		log.Warn("dispatcher.job.finish", fields...)
		return
	}
	log.Info("dispatcher.job.finish", fields...)
}

func (d *Dispatcher) logJobError(ctx context.Context, run *dispatchRun, msg string, tenantID string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	if tenantID != "" {
		ctx = obscontext.WithTenantID(ctx, tenantID)
	}
	base := []zap.Field{
		zap.String("run_id", run.runID),
		zap.String("error_type", obsmetrics.ClassifyDispatcherErrorType(err)),
		zap.Error(err),
	}
	d.logger(ctx).Error(msg, append(base, fields...)...)
}
