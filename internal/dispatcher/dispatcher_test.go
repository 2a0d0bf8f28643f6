package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/internal/config"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	jobrepo "github.com/smallbiznis/pushrelay/internal/notificationjob/repository"
	jobservice "github.com/smallbiznis/pushrelay/internal/notificationjob/service"
	"github.com/smallbiznis/pushrelay/internal/push"
	subdomain "github.com/smallbiznis/pushrelay/internal/pushsubscription/domain"
	subrepo "github.com/smallbiznis/pushrelay/internal/pushsubscription/repository"
	subservice "github.com/smallbiznis/pushrelay/internal/pushsubscription/service"
	"github.com/smallbiznis/pushrelay/internal/ratelimit"
	"github.com/smallbiznis/pushrelay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testPush = push.Config{
	Subject:    "mailto:ops@example.com",
	PublicKey:  "public",
	PrivateKey: "private",
	TTL:        60,
	Timeout:    time.Second,
}

type fakeSender struct {
	mu       sync.Mutex
	failures map[string]error
	sent     []string
}

func (f *fakeSender) Send(_ context.Context, sub push.Subscription, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sub.Endpoint)
	return f.failures[sub.Endpoint]
}

func (f *fakeSender) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	db     *gorm.DB
	clock  *clock.FakeClock
	jobs   jobdomain.Service
	subs   subdomain.Service
	sender *fakeSender
	params Params
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t, &jobdomain.NotificationJob{}, &subdomain.Subscription{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	jobs := jobservice.New(jobservice.Params{DB: conn, Log: log, GenID: node, Clock: clk, Repo: jobrepo.Provide()})
	subs := subservice.New(subservice.Params{DB: conn, Log: log, GenID: node, Clock: clk, Repo: subrepo.Provide()})
	sender := &fakeSender{failures: map[string]error{}}

	return &fixture{
		db:     conn,
		clock:  clk,
		jobs:   jobs,
		subs:   subs,
		sender: sender,
		params: Params{
			Log:           log,
			GenID:         node,
			Clock:         clk,
			Config:        Config{BatchSize: 10, JobConcurrency: 2, FanOutConcurrency: 2},
			Push:          testPush,
			Sender:        sender,
			Jobs:          jobs,
			Subscriptions: subs,
			Policy: config.NewStaticDispatchPolicyHolder(config.DispatchPolicy{
				MaxAttempts:     3,
				BaseBackoff:     30 * time.Second,
				MaxBackoff:      10 * time.Minute,
				StaleClaimAfter: 10 * time.Minute,
			}),
		},
	}
}

func (f *fixture) dispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := New(f.params)
	require.NoError(t, err)
	return d
}

func (f *fixture) subscribe(t *testing.T, tenantID, endpoint string) {
	t.Helper()
	_, err := f.subs.Upsert(context.Background(), subdomain.UpsertRequest{
		TenantID: tenantID,
		Endpoint: endpoint,
		P256dh:   "p256dh",
		Auth:     "auth",
	})
	require.NoError(t, err)
}

func (f *fixture) enqueue(t *testing.T, tenantID, dedupeKey string) snowflake.ID {
	t.Helper()
	res, err := f.jobs.EnqueueIfNew(context.Background(), jobdomain.EnqueueRequest{
		TenantID:  tenantID,
		Channel:   jobdomain.ChannelTaskWebhook,
		DedupeKey: dedupeKey,
		Payload:   []byte(`{"title":"Task Completed","body":"deploy"}`),
	})
	require.NoError(t, err)
	return res.Job.ID
}

func (f *fixture) job(t *testing.T, id snowflake.ID) jobdomain.NotificationJob {
	t.Helper()
	var job jobdomain.NotificationJob
	require.NoError(t, f.db.First(&job, "id = ?", id).Error)
	return job
}

func (f *fixture) enabledCount(t *testing.T, tenantID string) int {
	t.Helper()
	subs, err := f.subs.ListEnabled(context.Background(), tenantID)
	require.NoError(t, err)
	return len(subs)
}

func TestRunOnceRequiresPushConfig(t *testing.T) {
	f := newFixture(t)
	f.params.Push = push.Config{}
	id := f.enqueue(t, "user_alice", "k1")

	_, err := f.dispatcher(t).RunOnce(context.Background())
	require.ErrorIs(t, err, push.ErrPushNotConfigured)
	assert.Equal(t, jobdomain.JobStatusPending, f.job(t, id).Status)
}

func TestRunOnceDeliversToEverySubscription(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "user_alice", "https://push.example.com/a")
	f.subscribe(t, "user_alice", "https://push.example.com/b")
	f.subscribe(t, "user_bob", "https://push.example.com/bob")
	id := f.enqueue(t, "user_alice", "k1")

	res, err := f.dispatcher(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Succeeded: 1}, *res)
	assert.ElementsMatch(t, []string{"https://push.example.com/a", "https://push.example.com/b"}, f.sender.sent)

	job := f.job(t, id)
	assert.Equal(t, jobdomain.JobStatusSuccess, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestRunOnceFanOutIsolation(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "user_alice", "https://push.example.com/ok")
	f.subscribe(t, "user_alice", "https://push.example.com/gone")
	f.subscribe(t, "user_alice", "https://push.example.com/broken")
	f.sender.failures["https://push.example.com/gone"] = &push.DeliveryError{StatusCode: http.StatusGone, Gone: true}
	f.sender.failures["https://push.example.com/broken"] = &push.DeliveryError{StatusCode: http.StatusInternalServerError}
	id := f.enqueue(t, "user_alice", "k1")

	res, err := f.dispatcher(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Retried: 1, DisabledSubscriptions: 1}, *res)
	assert.Equal(t, 3, f.sender.attempts())
	assert.Equal(t, 2, f.enabledCount(t, "user_alice"))

	job := f.job(t, id)
	assert.Equal(t, jobdomain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "500")
	assert.True(t, job.RunAt.Equal(f.clock.Now().Add(30*time.Second)), job.RunAt)
}

func TestRunOnceAllSubscriptionsGone(t *testing.T) {
	f := newFixture(t)
	for _, endpoint := range []string{"https://push.example.com/a", "https://push.example.com/b"} {
		f.subscribe(t, "user_alice", endpoint)
		f.sender.failures[endpoint] = &push.DeliveryError{StatusCode: http.StatusGone, Gone: true}
	}
	id := f.enqueue(t, "user_alice", "k1")

	res, err := f.dispatcher(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Succeeded: 1, DisabledSubscriptions: 2}, *res)
	assert.Equal(t, jobdomain.JobStatusSuccess, f.job(t, id).Status)
	assert.Equal(t, 0, f.enabledCount(t, "user_alice"))
}

func TestRunOnceMissingTenantFails(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, "", "agent:x:1")

	res, err := f.dispatcher(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Failed: 1}, *res)

	job := f.job(t, id)
	assert.Equal(t, jobdomain.JobStatusFailed, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "missing tenant", *job.LastError)
}

func TestRunOnceWithoutSubscriptionsSucceeds(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, "user_alice", "k1")

	res, err := f.dispatcher(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Succeeded: 1}, *res)
	assert.Equal(t, jobdomain.JobStatusSuccess, f.job(t, id).Status)
	assert.Zero(t, f.sender.attempts())
}

// cancelAfterSend cancels the run context once the push has been handed to
// the push service, like a trigger client hanging up mid-run.
type cancelAfterSend struct {
	*fakeSender
	cancel context.CancelFunc
}

func (c *cancelAfterSend) Send(ctx context.Context, sub push.Subscription, payload []byte) error {
	err := c.fakeSender.Send(ctx, sub, payload)
	c.cancel()
	return err
}

func TestRunOnceRecordsDeliveryAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.params.Sender = &cancelAfterSend{fakeSender: f.sender, cancel: cancel}
	f.subscribe(t, "user_alice", "https://push.example.com/a")
	id := f.enqueue(t, "user_alice", "k1")
	d := f.dispatcher(t)

	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Succeeded: 1}, *res)

	job := f.job(t, id)
	assert.Equal(t, jobdomain.JobStatusSuccess, job.Status)
	assert.Equal(t, 1, job.Attempts)

	f.clock.Advance(time.Hour)
	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.sender.attempts())
}

func TestRunOnceDisablesGoneSubscriptionAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.params.Sender = &cancelAfterSend{fakeSender: f.sender, cancel: cancel}
	f.subscribe(t, "user_alice", "https://push.example.com/gone")
	f.sender.failures["https://push.example.com/gone"] = &push.DeliveryError{StatusCode: http.StatusGone, Gone: true}
	id := f.enqueue(t, "user_alice", "k1")

	res, err := f.dispatcher(t).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Succeeded: 1, DisabledSubscriptions: 1}, *res)
	assert.Equal(t, jobdomain.JobStatusSuccess, f.job(t, id).Status)
	assert.Equal(t, 0, f.enabledCount(t, "user_alice"))
}

func TestRunOnceLeavesJobsPendingWhenCancelledBeforeClaim(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "user_alice", "https://push.example.com/a")
	id := f.enqueue(t, "user_alice", "k1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _ = f.dispatcher(t).RunOnce(ctx)
	assert.Equal(t, jobdomain.JobStatusPending, f.job(t, id).Status)
	assert.Zero(t, f.sender.attempts())
}

// flakyJobs fails MarkSuccess for one job.
type flakyJobs struct {
	jobdomain.Service
	failFor snowflake.ID
}

func (j *flakyJobs) MarkSuccess(ctx context.Context, id snowflake.ID) error {
	if id == j.failFor {
		return errors.New("database is locked")
	}
	return j.Service.MarkSuccess(ctx, id)
}

func TestRunOnceReportsJobWriteErrorsWithoutFailingRun(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "user_alice", "https://push.example.com/a")
	f.subscribe(t, "user_bob", "https://push.example.com/b")
	broken := f.enqueue(t, "user_alice", "k1")
	ok := f.enqueue(t, "user_bob", "k2")
	f.params.Jobs = &flakyJobs{Service: f.jobs, failFor: broken}

	res, err := f.dispatcher(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 2, Succeeded: 1, Errors: 1}, *res)
	assert.Equal(t, jobdomain.JobStatusSuccess, f.job(t, ok).Status)
	assert.Equal(t, jobdomain.JobStatusInProgress, f.job(t, broken).Status)
}

func TestRunOnceFailsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.params.Policy = config.NewStaticDispatchPolicyHolder(config.DispatchPolicy{
		MaxAttempts:     2,
		BaseBackoff:     time.Second,
		MaxBackoff:      time.Second,
		StaleClaimAfter: time.Minute,
	})
	f.subscribe(t, "user_alice", "https://push.example.com/a")
	f.sender.failures["https://push.example.com/a"] = errors.New("connection reset")
	id := f.enqueue(t, "user_alice", "k1")
	d := f.dispatcher(t)

	res, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	f.clock.Advance(2 * time.Second)
	res, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Failed: 1}, *res)

	job := f.job(t, id)
	assert.Equal(t, jobdomain.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestRunOnceSkipsWhenRunLockHeld(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewLocker(client)
	f.params.Locker = locker

	_, ok, err := locker.TryLock(context.Background(), runLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	id := f.enqueue(t, "user_alice", "k1")

	res, err := f.dispatcher(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, *res)
	assert.Equal(t, jobdomain.JobStatusPending, f.job(t, id).Status)
}

func TestRunOnceReleasesRunLock(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.params.Locker = ratelimit.NewLocker(client)

	_, err := f.dispatcher(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, mr.Exists(runLockKey))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = ConfigFrom(config.Config{Dispatcher: config.DispatcherConfig{BatchSize: 7}})
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, DefaultConfig().JobConcurrency, cfg.JobConcurrency)
}
