package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/smallbiznis/pushrelay/internal/metricspush"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	obsmetrics "github.com/smallbiznis/pushrelay/internal/observability/metrics"
	"github.com/smallbiznis/pushrelay/internal/push"
	subdomain "github.com/smallbiznis/pushrelay/internal/pushsubscription/domain"
	"github.com/smallbiznis/pushrelay/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	runLockKey    = "dispatcher:run"
	missingTenant = "missing tenant"

	// outcomeWriteTimeout bounds the job and subscription writes that follow
	// a delivery. They run detached from the run context: a push that went
	// out must be recorded even when the caller has gone away.
	outcomeWriteTimeout = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid_dispatcher_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        Config
	Push          push.Config
	Sender        push.Sender
	Jobs          jobdomain.Service
	Subscriptions subdomain.Service

	Policy     *config.DispatchPolicyHolder  `optional:"true"`
	Locker     *ratelimit.Locker             `optional:"true"`
	Metrics    *obsmetrics.Metrics           `optional:"true"`
	JobMetrics *obsmetrics.DispatcherMetrics `optional:"true"`
	Pusher     *metricspush.Pusher           `optional:"true"`
}

// Result summarises one dispatch run.
type Result struct {
	Processed             int `json:"processed"`
	Succeeded             int `json:"succeeded"`
	Failed                int `json:"failed"`
	Retried               int `json:"retried"`
	DisabledSubscriptions int `json:"disabledSubscriptions"`
	// Errors counts jobs whose claim or outcome write failed. Those jobs
	// are left for stale claim recovery.
	Errors int `json:"errors,omitempty"`
}

type Dispatcher struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	push          push.Config
	sender        push.Sender
	jobs          jobdomain.Service
	subscriptions subdomain.Service
	policy        *config.DispatchPolicyHolder
	locker        *ratelimit.Locker
	metrics       *obsmetrics.Metrics
	jobMetrics    *obsmetrics.DispatcherMetrics
	pusher        *metricspush.Pusher
}

func New(p Params) (*Dispatcher, error) {
	if p.Log == nil || p.GenID == nil || p.Sender == nil || p.Jobs == nil || p.Subscriptions == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		log:           p.Log.Named("dispatcher").With(zap.String("component", "dispatcher")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         clk,
		push:          p.Push,
		sender:        p.Sender,
		jobs:          p.Jobs,
		subscriptions: p.Subscriptions,
		policy:        p.Policy,
		locker:        p.Locker,
		metrics:       p.Metrics,
		jobMetrics:    p.JobMetrics,
		pusher:        p.Pusher,
	}, nil
}

// RunOnce delivers every due job once. It returns push.ErrPushNotConfigured
// before touching the queue when VAPID keys are missing. Per-job failures
// are reported in Result.Errors; the error return is for failures of the
// run itself.
func (d *Dispatcher) RunOnce(parent context.Context) (*Result, error) {
	if err := d.push.Validate(); err != nil {
		return nil, err
	}

	ctx, run := d.newRun(parent)

	if d.locker != nil {
		token, ok, err := d.locker.TryLock(ctx, runLockKey, d.cfg.LockTTL)
		switch {
		case err != nil:
			d.logger(ctx).Warn("dispatcher run lock unavailable", zap.Error(err))
		case !ok:
			d.logger(ctx).Debug("dispatcher run skipped, lock held elsewhere", zap.String("run_id", run.runID))
			return &Result{}, nil
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				if err := d.locker.Release(releaseCtx, runLockKey, token); err != nil {
					d.logger(ctx).Warn("dispatcher run lock release failed", zap.Error(err))
				}
			}()
		}
	}

	start := d.clock.Now()
	d.jobMetrics.IncJobRun(runJobName)
	d.logRunStart(ctx, run)

	err := d.dispatch(ctx, run)

	d.jobMetrics.ObserveJobDuration(runJobName, d.clock.Now().Sub(start))
	d.jobMetrics.SetLastRun(d.clock.Now())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			d.jobMetrics.IncJobTimeout(runJobName)
		}
		d.jobMetrics.IncJobError(runJobName, err)
	}
	d.logRunFinish(ctx, run)
	d.pushMetrics(ctx)

	result, errCount := run.snapshot()
	result.Errors = errCount
	if err != nil {
		return &result, fmt.Errorf("dispatch: %w", err)
	}
	return &result, nil
}

func (d *Dispatcher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := d.clock.Now().Add(d.cfg.RunInterval)

	for {
		if lag := d.clock.Now().Sub(nextRun); lag > 0 {
			d.jobMetrics.ObserveRunLoopLag(lag)
		}
		if _, err := d.RunOnce(ctx); err != nil {
			if errors.Is(err, push.ErrPushNotConfigured) {
				d.log.Debug("dispatcher idle, push not configured")
			} else {
				d.log.Warn("dispatcher run failed", zap.Error(err))
			}
		}
		nextRun = nextRun.Add(d.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, run *dispatchRun) error {
	policy := d.policy.Get()
	now := d.clock.Now()

	recovered, err := d.jobs.RecoverStale(ctx, now.Add(-policy.StaleClaimAfter))
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	d.jobMetrics.AddStaleRecovered(recovered)

	due, err := d.jobs.ListDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list due jobs: %w", err)
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		jobErr error
	)
	g.SetLimit(d.cfg.JobConcurrency)
	for _, job := range due {
		// Unclaimed jobs stay pending for the next run.
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := d.processJob(ctx, run, job, policy); err != nil {
				mu.Lock()
				jobErr = errors.Join(jobErr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if jobErr != nil {
		d.jobMetrics.IncJobError(runJobName, jobErr)
	}
	return nil
}

// outcomeContext detaches ctx from its cancellation while keeping its values.
func outcomeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
}

func (d *Dispatcher) processJob(ctx context.Context, run *dispatchRun, job jobdomain.NotificationJob, policy config.DispatchPolicy) error {
	claimed, err := d.jobs.Claim(ctx, job.ID, d.clock.Now())
	if err != nil {
		d.logJobError(ctx, run, "dispatcher.job.claim_failed", job.TenantID, err, zap.String("job_id", job.ID.String()))
		return err
	}
	if !claimed {
		d.jobMetrics.IncJobOutcome(obsmetrics.JobOutcomeClaimLost)
		return nil
	}
	run.record(func(r *Result) { r.Processed++ })

	log := d.logger(ctx).With(
		zap.String("run_id", run.runID),
		zap.String("job_id", job.ID.String()),
		zap.String("channel", job.Channel),
	)

	tenantID := strings.TrimSpace(job.TenantID)
	if tenantID == "" {
		log.Warn("notification job has no tenant")
		return d.fail(ctx, run, job, missingTenant)
	}
	log = log.With(zap.String("tenant_id", tenantID))

	jobCtx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer cancel()

	subs, err := d.subscriptions.ListEnabled(jobCtx, tenantID)
	if err != nil {
		return d.settle(ctx, run, job, policy, err)
	}
	if len(subs) == 0 {
		log.Info("notification job has no recipients", zap.String("reason", "no_subscriptions"))
		writeCtx, cancelWrite := outcomeContext(ctx)
		defer cancelWrite()
		if err := d.jobs.MarkSuccess(writeCtx, job.ID); err != nil {
			d.logJobError(ctx, run, "dispatcher.job.mark_success_failed", tenantID, err, zap.String("job_id", job.ID.String()))
			return err
		}
		run.record(func(r *Result) { r.Succeeded++ })
		d.jobMetrics.IncJobOutcome(obsmetrics.JobOutcomeNoRecipient)
		return nil
	}

	out := d.fanOut(jobCtx, ctx, job, subs)
	if out.disabled > 0 {
		run.record(func(r *Result) { r.DisabledSubscriptions += out.disabled })
		d.jobMetrics.AddSubscriptionsDisabled(out.disabled)
	}
	log.Debug("notification job fanned out",
		zap.Int("subscriptions", len(subs)),
		zap.Int("sent", out.sent),
		zap.Int("gone", out.disabled),
		zap.Int("failed", out.failed),
	)
	return d.settle(ctx, run, job, policy, out.lastErr)
}

type fanOutResult struct {
	sent     int
	disabled int
	failed   int
	lastErr  error
}

// fanOut sends to every subscription and waits for all of them. A gone
// endpoint is disabled and never counts against the job.
func (d *Dispatcher) fanOut(sendCtx, ctx context.Context, job jobdomain.NotificationJob, subs []subdomain.Subscription) fanOutResult {
	var (
		g   errgroup.Group
		mu  sync.Mutex
		out fanOutResult
	)
	g.SetLimit(d.cfg.FanOutConcurrency)

	for _, sub := range subs {
		g.Go(func() error {
			err := d.sender.Send(sendCtx, push.Subscription{
				Endpoint: sub.Endpoint,
				P256dh:   sub.P256dh,
				Auth:     sub.Auth,
			}, job.Payload)

			outcome := obsmetrics.DeliveryOutcomeSent
			disabled := false
			switch {
			case err == nil:
			case push.IsGone(err):
				outcome = obsmetrics.DeliveryOutcomeGone
				writeCtx, cancelWrite := outcomeContext(ctx)
				disableErr := d.subscriptions.Disable(writeCtx, sub.ID)
				cancelWrite()
				if disableErr != nil {
					d.logger(ctx).Warn("failed to disable gone subscription",
						zap.String("subscription_id", sub.ID.String()),
						zap.Error(disableErr),
					)
				} else {
					disabled = true
				}
			case errors.Is(err, context.DeadlineExceeded):
				outcome = obsmetrics.DeliveryOutcomeTimeout
			default:
				outcome = obsmetrics.DeliveryOutcomeFailed
			}
			d.jobMetrics.IncDelivery(outcome)
			d.metrics.RecordDelivery(ctx, job.Channel, outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case obsmetrics.DeliveryOutcomeSent:
				out.sent++
			case obsmetrics.DeliveryOutcomeGone:
				if disabled {
					out.disabled++
				}
			default:
				out.failed++
				out.lastErr = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// settle records the job outcome: success when cause is nil, otherwise a
// retry with backoff until the policy runs out of attempts.
func (d *Dispatcher) settle(ctx context.Context, run *dispatchRun, job jobdomain.NotificationJob, policy config.DispatchPolicy, cause error) error {
	writeCtx, cancelWrite := outcomeContext(ctx)
	defer cancelWrite()

	if cause == nil {
		if err := d.jobs.MarkSuccess(writeCtx, job.ID); err != nil {
			d.logJobError(ctx, run, "dispatcher.job.mark_success_failed", job.TenantID, err, zap.String("job_id", job.ID.String()))
			return err
		}
		run.record(func(r *Result) { r.Succeeded++ })
		d.jobMetrics.IncJobOutcome(obsmetrics.JobOutcomeSuccess)
		return nil
	}

	attempts := job.Attempts + 1
	if !policy.ShouldRetry(attempts) {
		return d.fail(ctx, run, job, cause.Error())
	}

	delay := policy.Backoff(attempts)
	if err := d.jobs.MarkRetry(writeCtx, job.ID, cause.Error(), d.clock.Now().Add(delay)); err != nil {
		d.logJobError(ctx, run, "dispatcher.job.mark_retry_failed", job.TenantID, err, zap.String("job_id", job.ID.String()))
		return err
	}
	run.record(func(r *Result) { r.Retried++ })
	d.jobMetrics.IncJobOutcome(obsmetrics.JobOutcomeRetry)
	d.logger(ctx).Info("notification job scheduled for retry",
		zap.String("run_id", run.runID),
		zap.String("job_id", job.ID.String()),
		zap.Int("attempts", attempts),
		zap.Duration("backoff", delay),
		zap.String("last_error", cause.Error()),
	)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, run *dispatchRun, job jobdomain.NotificationJob, cause string) error {
	writeCtx, cancelWrite := outcomeContext(ctx)
	defer cancelWrite()
	if err := d.jobs.MarkFailed(writeCtx, job.ID, cause); err != nil {
		d.logJobError(ctx, run, "dispatcher.job.mark_failed_failed", job.TenantID, err, zap.String("job_id", job.ID.String()))
		return err
	}
	run.record(func(r *Result) { r.Failed++ })
	d.jobMetrics.IncJobOutcome(obsmetrics.JobOutcomeFailed)
	d.logger(ctx).Warn("notification job failed",
		zap.String("run_id", run.runID),
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID),
		zap.Int("attempts", job.Attempts+1),
		zap.String("last_error", cause),
	)
	return nil
}

func (d *Dispatcher) pushMetrics(ctx context.Context) {
	if d.pusher == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := d.pusher.Push(pushCtx, d.jobMetrics.Gatherer()); err != nil {
		d.logger(ctx).Warn("dispatcher metrics push failed", zap.Error(err))
	}
}
