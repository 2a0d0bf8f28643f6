package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	DispatcherErrorTypeDeadlineExceeded = "deadline_exceeded"
	DispatcherErrorTypeTransport        = "transport"
	DispatcherErrorTypeDB               = "db"
	DispatcherErrorTypeUnknown          = "unknown"
)

const (
	DispatcherJobReasonDeadlineExceeded     = "deadline_exceeded"
	DispatcherJobReasonDBLockTimeout        = "db_lock_timeout"
	DispatcherJobReasonSerializationFailure = "serialization_failure"
	DispatcherJobReasonUniqueViolation      = "unique_violation"
	DispatcherJobReasonUnknown              = "unknown"
)

// Delivery outcomes per subscription.
const (
	DeliveryOutcomeSent    = "sent"
	DeliveryOutcomeGone    = "gone"
	DeliveryOutcomeFailed  = "failed"
	DeliveryOutcomeTimeout = "timeout"
)

// Job outcomes after fan-in.
const (
	JobOutcomeSuccess     = "success"
	JobOutcomeRetry       = "retry"
	JobOutcomeFailed      = "failed"
	JobOutcomeClaimLost   = "claim_lost"
	JobOutcomeNoRecipient = "no_subscriptions"
)

// DispatcherMetrics captures dispatcher health signals.
type DispatcherMetrics struct {
	registry *prometheus.Registry

	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	jobsProcessed  *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	subsDisabled   prometheus.Counter
	staleRecovered prometheus.Counter
	runLoopLag     prometheus.Observer
	lastRun        prometheus.Gauge

	jobOutcomes      map[string]prometheus.Counter
	deliveryOutcomes map[string]prometheus.Counter
}

var (
	dispatcherMetricsOnce sync.Once
	dispatcherMetrics     *DispatcherMetrics
)

// Dispatcher returns the singleton dispatcher metrics registry.
func Dispatcher() *DispatcherMetrics {
	return DispatcherWithConfig(Config{})
}

// DispatcherWithConfig returns the singleton dispatcher metrics registry
// using config labels.
func DispatcherWithConfig(cfg Config) *DispatcherMetrics {
	dispatcherMetricsOnce.Do(func() {
		dispatcherMetrics = NewDispatcherMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return dispatcherMetrics
}

// ResetDispatcherMetricsForTest resets the dispatcher metrics singleton for tests.
func ResetDispatcherMetricsForTest() {
	dispatcherMetricsOnce = sync.Once{}
	dispatcherMetrics = nil
}

// NewDispatcherMetrics registers dispatcher collectors on registerer and on a
// private registry that can be pushed to a remote collector.
func NewDispatcherMetrics(registerer prometheus.Registerer, cfg Config) *DispatcherMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	labels := constLabels(cfg)

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pushrelay_dispatcher_job_runs_total",
		Help:        "Dispatcher job runs by name.",
		ConstLabels: labels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "pushrelay_dispatcher_job_duration_seconds",
		Help:        "Dispatcher run latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		ConstLabels: labels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pushrelay_dispatcher_job_timeouts_total",
		Help:        "Dispatcher runs that hit their deadline.",
		ConstLabels: labels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pushrelay_dispatcher_job_errors_total",
		Help:        "Dispatcher run errors by low-cardinality reason.",
		ConstLabels: labels,
	}, []string{"job", "reason"})
	jobsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pushrelay_notification_jobs_total",
		Help:        "Notification jobs handled by outcome.",
		ConstLabels: labels,
	}, []string{"outcome"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pushrelay_push_deliveries_total",
		Help:        "Push deliveries by outcome.",
		ConstLabels: labels,
	}, []string{"outcome"})
	subsDisabled := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "pushrelay_subscriptions_disabled_total",
		Help:        "Subscriptions disabled after a gone response.",
		ConstLabels: labels,
	})
	staleRecovered := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "pushrelay_notification_jobs_stale_recovered_total",
		Help:        "In-progress jobs returned to pending after a stale claim.",
		ConstLabels: labels,
	})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "pushrelay_dispatcher_runloop_lag_seconds",
		Help:        "Dispatcher run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: labels,
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "pushrelay_dispatcher_last_run_timestamp_seconds",
		Help:        "Unix time of the last completed dispatcher run.",
		ConstLabels: labels,
	})

	collectors := []prometheus.Collector{
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		jobsProcessed,
		deliveries,
		subsDisabled,
		staleRecovered,
		runLoopLag,
		lastRun,
	}
	registerer.MustRegister(collectors...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors...)

	jobOutcomes := map[string]prometheus.Counter{}
	for _, outcome := range []string{
		JobOutcomeSuccess,
		JobOutcomeRetry,
		JobOutcomeFailed,
		JobOutcomeClaimLost,
		JobOutcomeNoRecipient,
	} {
		jobOutcomes[outcome] = jobsProcessed.WithLabelValues(outcome)
	}
	deliveryOutcomes := map[string]prometheus.Counter{}
	for _, outcome := range []string{
		DeliveryOutcomeSent,
		DeliveryOutcomeGone,
		DeliveryOutcomeFailed,
		DeliveryOutcomeTimeout,
	} {
		deliveryOutcomes[outcome] = deliveries.WithLabelValues(outcome)
	}

	return &DispatcherMetrics{
		registry:         registry,
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		jobsProcessed:    jobsProcessed,
		deliveries:       deliveries,
		subsDisabled:     subsDisabled,
		staleRecovered:   staleRecovered,
		runLoopLag:       runLoopLag,
		lastRun:          lastRun,
		jobOutcomes:      jobOutcomes,
		deliveryOutcomes: deliveryOutcomes,
	}
}

// Gatherer exposes only the dispatcher collectors.
func (m *DispatcherMetrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// IncJobRun increments the run counter for a dispatcher job.
func (m *DispatcherMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records dispatcher run latency in seconds.
func (m *DispatcherMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *DispatcherMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the run error counter with classification.
func (m *DispatcherMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyDispatcherJobReason(err)).Inc()
}

// IncJobOutcome counts a notification job outcome after fan-in.
func (m *DispatcherMetrics) IncJobOutcome(outcome string) {
	if m == nil {
		return
	}
	if counter, ok := m.jobOutcomes[outcome]; ok {
		counter.Inc()
		return
	}
	m.jobsProcessed.WithLabelValues(outcome).Inc()
}

// IncDelivery counts a single subscription delivery attempt.
func (m *DispatcherMetrics) IncDelivery(outcome string) {
	if m == nil {
		return
	}
	if counter, ok := m.deliveryOutcomes[outcome]; ok {
		counter.Inc()
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *DispatcherMetrics) AddSubscriptionsDisabled(count int) {
	if m == nil || count <= 0 || m.subsDisabled == nil {
		return
	}
	m.subsDisabled.Add(float64(count))
}

func (m *DispatcherMetrics) AddStaleRecovered(count int64) {
	if m == nil || count <= 0 || m.staleRecovered == nil {
		return
	}
	m.staleRecovered.Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *DispatcherMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

func (m *DispatcherMetrics) SetLastRun(at time.Time) {
	if m == nil || m.lastRun == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}

// ClassifyDispatcherErrorType returns a low-cardinality error type for logging.
func ClassifyDispatcherErrorType(err error) string {
	if err == nil {
		return DispatcherErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return DispatcherErrorTypeDeadlineExceeded
	}
	if isDBError(err) {
		return DispatcherErrorTypeDB
	}
	return DispatcherErrorTypeTransport
}

// ClassifyDispatcherJobReason maps run errors to low-cardinality reasons.
func ClassifyDispatcherJobReason(err error) string {
	if err == nil {
		return DispatcherJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return DispatcherJobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return DispatcherJobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return DispatcherJobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return DispatcherJobReasonUniqueViolation
	}
	return DispatcherJobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
