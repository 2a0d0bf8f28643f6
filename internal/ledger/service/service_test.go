package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pushrelay/internal/clock"
	ledgerdomain "github.com/smallbiznis/pushrelay/internal/ledger/domain"
	"github.com/smallbiznis/pushrelay/internal/ledger/repository"
	"github.com/smallbiznis/pushrelay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &ledgerdomain.InboundEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, conn
}

func TestRecordIfNewIsIdempotent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	req := ledgerdomain.RecordRequest{
		Provider:        ledgerdomain.ProviderTask,
		ProviderEventID: ledgerdomain.ScopedEventID("user_alice", "evt_1"),
		TenantID:        "user_alice",
		Payload:         datatypes.JSON(`{"title":"build"}`),
	}

	first, err := svc.RecordIfNew(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	req.Payload = datatypes.JSON(`{"title":"changed"}`)
	second, err := svc.RecordIfNew(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.JSONEq(t, `{"title":"build"}`, string(second.Event.Payload))

	var count int64
	require.NoError(t, conn.Model(&ledgerdomain.InboundEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecordIfNewSameIDDifferentProviders(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.RecordIfNew(ctx, ledgerdomain.RecordRequest{Provider: "task", ProviderEventID: "x"})
	require.NoError(t, err)
	b, err := svc.RecordIfNew(ctx, ledgerdomain.RecordRequest{Provider: "agent", ProviderEventID: "x"})
	require.NoError(t, err)
	assert.True(t, a.IsNew)
	assert.True(t, b.IsNew)
}

func TestRecordIfNewConcurrentDeliveries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const deliveries = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		ids   = map[snowflake.ID]struct{}{}
		errCh = make(chan error, deliveries)
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.RecordIfNew(ctx, ledgerdomain.RecordRequest{
				Provider:        ledgerdomain.ProviderAgent,
				ProviderEventID: "agent-1:evt-42",
			})
			if err != nil {
				errCh <- err
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.IsNew {
				wins++
			}
			ids[res.Event.ID] = struct{}{}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, wins)
	assert.Len(t, ids, 1)
}

func TestRecordIfNewValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RecordIfNew(context.Background(), ledgerdomain.RecordRequest{ProviderEventID: "x"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidProvider)

	_, err = svc.RecordIfNew(context.Background(), ledgerdomain.RecordRequest{Provider: "task", ProviderEventID: "  "})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidEventID)
}

func TestMarkProcessed(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	res, err := svc.RecordIfNew(ctx, ledgerdomain.RecordRequest{Provider: "task", ProviderEventID: "evt"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EventStatusReceived, res.Event.Status)

	at := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	require.NoError(t, svc.MarkProcessed(ctx, res.Event.ID, at))

	var stored ledgerdomain.InboundEvent
	require.NoError(t, conn.First(&stored, "id = ?", res.Event.ID).Error)
	assert.Equal(t, ledgerdomain.EventStatusProcessed, stored.Status)
	require.NotNil(t, stored.ProcessedAt)
	assert.True(t, stored.ProcessedAt.Equal(at))
}

func TestDedupeKeyIsStable(t *testing.T) {
	assert.Equal(t, "task:user_alice:evt_1", ledgerdomain.DedupeKey("task", "user_alice", "evt_1"))
	assert.Equal(t,
		ledgerdomain.DedupeKey("task", "user_alice", "evt_1"),
		ledgerdomain.DedupeKey("task", "user_alice", "evt_1"),
	)
	assert.NotEqual(t,
		ledgerdomain.DedupeKey("task", "user_alice", "evt_1"),
		ledgerdomain.DedupeKey("task", "user_bob", "evt_1"),
	)
}
