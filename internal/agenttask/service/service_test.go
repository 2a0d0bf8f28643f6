package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	taskdomain "github.com/smallbiznis/pushrelay/internal/agenttask/domain"
	"github.com/smallbiznis/pushrelay/internal/agenttask/repository"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (taskdomain.Service, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	conn := dbtest.Open(t, &taskdomain.AgentTask{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	svc := New(Params{DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: repository.Provide()})
	return svc, conn, clk, node
}

func record(t *testing.T, svc taskdomain.Service, conn *gorm.DB, node *snowflake.Node, tenant, title string) *taskdomain.AgentTask {
	t.Helper()
	task, err := svc.RecordTx(context.Background(), conn, taskdomain.RecordRequest{
		TenantID: tenant,
		APIKeyID: node.Generate(),
		EventID:  node.Generate(),
		Title:    title,
	})
	require.NoError(t, err)
	return task
}

func TestRecordDefaultsAndValidation(t *testing.T) {
	svc, conn, _, node := newTestService(t)
	ctx := context.Background()

	task := record(t, svc, conn, node, "user_alice", "  build  ")
	assert.Equal(t, "build", task.Title)
	assert.Equal(t, taskdomain.TaskStatusSuccess, task.Status)

	found, err := svc.FindByEventID(ctx, task.EventID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, found.ID)

	negative := -1.0
	nan := math.NaN()
	cases := map[string]struct {
		req  taskdomain.RecordRequest
		want error
	}{
		"no tenant":  {taskdomain.RecordRequest{Title: "x"}, taskdomain.ErrInvalidTenant},
		"no title":   {taskdomain.RecordRequest{TenantID: "t"}, taskdomain.ErrInvalidTitle},
		"bad status": {taskdomain.RecordRequest{TenantID: "t", Title: "x", Status: "done"}, taskdomain.ErrInvalidStatus},
		"negative":   {taskdomain.RecordRequest{TenantID: "t", Title: "x", Duration: &negative}, taskdomain.ErrInvalidDuration},
		"nan":        {taskdomain.RecordRequest{TenantID: "t", Title: "x", Duration: &nan}, taskdomain.ErrInvalidDuration},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.RecordTx(ctx, conn, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestListCountDeleteClear(t *testing.T) {
	svc, conn, clk, node := newTestService(t)
	ctx := context.Background()

	first := record(t, svc, conn, node, "user_alice", "first")
	clk.Advance(time.Second)
	second := record(t, svc, conn, node, "user_alice", "second")
	record(t, svc, conn, node, "user_bob", "bob's")

	tasks, err := svc.List(ctx, "user_alice", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, second.ID, tasks[0].ID)

	limited, err := svc.List(ctx, "user_alice", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	count, err := svc.Count(ctx, "user_alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	assert.ErrorIs(t, svc.Delete(ctx, "user_bob", first.ID.String()), taskdomain.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "user_alice", "abc"), taskdomain.ErrInvalidTaskID)
	require.NoError(t, svc.Delete(ctx, "user_alice", first.ID.String()))

	removed, err := svc.Clear(ctx, "user_alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err = svc.Count(ctx, "user_bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, taskdomain.DefaultListLimit, clampLimit(0))
	assert.Equal(t, taskdomain.DefaultListLimit, clampLimit(-5))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, taskdomain.MaxListLimit, clampLimit(1000))
}
