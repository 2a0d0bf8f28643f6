package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pushrelay/internal/clock"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	"github.com/smallbiznis/pushrelay/internal/notificationjob/repository"
	"github.com/smallbiznis/pushrelay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (jobdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	conn := dbtest.Open(t, &jobdomain.NotificationJob{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)

	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, conn, clk
}

func enqueue(t *testing.T, svc jobdomain.Service, key string, runAt time.Time) *jobdomain.NotificationJob {
	t.Helper()
	res, err := svc.EnqueueIfNew(context.Background(), jobdomain.EnqueueRequest{
		TenantID:  "user_alice",
		Channel:   jobdomain.ChannelTaskWebhook,
		DedupeKey: key,
		Payload:   datatypes.JSON(`{"title":"Task Completed","body":"build"}`),
		RunAt:     runAt,
	})
	require.NoError(t, err)
	require.True(t, res.IsNew)
	return res.Job
}

func TestEnqueueIfNewDeduplicates(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	first := enqueue(t, svc, "task:user_alice:evt_1", time.Time{})
	assert.Equal(t, jobdomain.JobStatusPending, first.Status)
	assert.Equal(t, 0, first.Attempts)
	assert.True(t, first.RunAt.Equal(testNow))

	again, err := svc.EnqueueIfNew(ctx, jobdomain.EnqueueRequest{
		TenantID:  "user_alice",
		Channel:   jobdomain.ChannelTaskWebhook,
		DedupeKey: "task:user_alice:evt_1",
	})
	require.NoError(t, err)
	assert.False(t, again.IsNew)
	assert.Equal(t, first.ID, again.Job.ID)

	var count int64
	require.NoError(t, conn.Model(&jobdomain.NotificationJob{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	_, err = svc.EnqueueIfNew(ctx, jobdomain.EnqueueRequest{Channel: "x"})
	assert.ErrorIs(t, err, jobdomain.ErrInvalidDedupeKey)
}

func TestListDueOrdersByRunAt(t *testing.T) {
	svc, _, _ := newTestService(t)

	later := enqueue(t, svc, "k-later", testNow.Add(-time.Minute))
	earlier := enqueue(t, svc, "k-earlier", testNow.Add(-time.Hour))
	enqueue(t, svc, "k-future", testNow.Add(time.Hour))

	due, err := svc.ListDue(context.Background(), testNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, earlier.ID, due[0].ID)
	assert.Equal(t, later.ID, due[1].ID)

	due, err = svc.ListDue(context.Background(), testNow, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestClaimIsExclusive(t *testing.T) {
	svc, _, _ := newTestService(t)
	job := enqueue(t, svc, "k-claim", time.Time{})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.Claim(context.Background(), job.ID, testNow)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	due, err := svc.ListDue(context.Background(), testNow, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestOutcomeTransitions(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	okJob := enqueue(t, svc, "k-ok", time.Time{})
	failJob := enqueue(t, svc, "k-fail", time.Time{})
	retryJob := enqueue(t, svc, "k-retry", time.Time{})

	for _, id := range []snowflake.ID{okJob.ID, failJob.ID, retryJob.ID} {
		claimed, err := svc.Claim(ctx, id, testNow)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	require.NoError(t, svc.MarkSuccess(ctx, okJob.ID))
	require.NoError(t, svc.MarkFailed(ctx, failJob.ID, "push endpoint returned 500"))
	next := testNow.Add(30 * time.Second)
	require.NoError(t, svc.MarkRetry(ctx, retryJob.ID, "timeout", next))

	load := func(id snowflake.ID) jobdomain.NotificationJob {
		var job jobdomain.NotificationJob
		require.NoError(t, conn.First(&job, "id = ?", id).Error)
		return job
	}

	got := load(okJob.ID)
	assert.Equal(t, jobdomain.JobStatusSuccess, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.LastError)

	got = load(failJob.ID)
	assert.Equal(t, jobdomain.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "push endpoint returned 500", *got.LastError)

	got = load(retryJob.ID)
	assert.Equal(t, jobdomain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.RunAt.Equal(next))
	assert.Nil(t, got.ClaimedAt)

	// terminal rows are not reopened by a late outcome
	require.NoError(t, svc.MarkRetry(ctx, okJob.ID, "late", next))
	assert.Equal(t, jobdomain.JobStatusSuccess, load(okJob.ID).Status)
}

func TestRecoverStale(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	stale := enqueue(t, svc, "k-stale", time.Time{})
	fresh := enqueue(t, svc, "k-fresh", time.Time{})

	_, err := svc.Claim(ctx, stale.ID, testNow)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, fresh.ID, testNow.Add(9*time.Minute))
	require.NoError(t, err)

	clk.Advance(12 * time.Minute)
	recovered, err := svc.RecoverStale(ctx, clk.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	due, err := svc.ListDue(ctx, clk.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, stale.ID, due[0].ID)
}

func TestListAndRequeue(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := enqueue(t, svc, "k-requeue", time.Time{})
	enqueue(t, svc, "k-other", time.Time{})

	_, err := svc.Requeue(ctx, job.ID.String())
	assert.ErrorIs(t, err, jobdomain.ErrNotRequeueable)

	_, err = svc.Claim(ctx, job.ID, testNow)
	require.NoError(t, err)
	require.NoError(t, svc.MarkFailed(ctx, job.ID, "boom"))

	failed, err := svc.List(ctx, jobdomain.ListRequest{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)

	_, err = svc.List(ctx, jobdomain.ListRequest{Status: "bogus"})
	assert.ErrorIs(t, err, jobdomain.ErrInvalidStatus)

	requeued, err := svc.Requeue(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, jobdomain.JobStatusPending, requeued.Status)
	assert.Equal(t, 1, requeued.Attempts)

	_, err = svc.Requeue(ctx, "12345")
	assert.ErrorIs(t, err, jobdomain.ErrNotFound)
	_, err = svc.Requeue(ctx, "abc")
	assert.ErrorIs(t, err, jobdomain.ErrInvalidJobID)
}
