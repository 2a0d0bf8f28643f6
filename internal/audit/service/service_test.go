package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	auditrepo "github.com/smallbiznis/pushrelay/internal/audit/repository"
	"github.com/smallbiznis/pushrelay/internal/clock"
	obscontext "github.com/smallbiznis/pushrelay/internal/observability/context"
	"github.com/smallbiznis/pushrelay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	conn := dbtest.Open(t, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	return NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepo.Provide(),
	}), clk
}

func TestRecordTakesActorAndTenantFromContext(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := obscontext.WithTenantID(context.Background(), "user_alice")
	ctx = obscontext.WithActor(ctx, "identity", "user:user_alice")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	require.NoError(t, svc.Record(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionAPIKeyCreate,
		TargetType: "api_key",
		TargetID:   "42",
		Metadata:   map[string]any{"name": "laptop", "keyPrefix": "fin_0123456789wxyz"},
		IPAddress:  "10.0.0.1",
	}))

	logs, err := svc.List(context.Background(), "user_alice", auditdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, "identity", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "user:user_alice", *entry.ActorID)
	require.NotNil(t, entry.TargetID)
	assert.Equal(t, "42", *entry.TargetID)
	require.NotNil(t, entry.IPAddress)
	assert.Nil(t, entry.UserAgent)
	assert.Equal(t, "laptop", entry.Metadata["name"])
	assert.Equal(t, "fin_****wxyz", entry.Metadata["keyPrefix"])
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
}

func TestRecordRejectsMissingActionOrTenant(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Record(context.Background(), auditdomain.Entry{TenantID: "user_alice"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	err = svc.Record(context.Background(), auditdomain.Entry{Action: auditdomain.ActionAgentCreate})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTenant)

	_, err = svc.List(context.Background(), " ", auditdomain.ListRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTenant)
}

func TestListFiltersAndOrdersNewestFirst(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	for _, action := range []string{
		auditdomain.ActionAgentCreate,
		auditdomain.ActionAPIKeyCreate,
		auditdomain.ActionAgentDelete,
	} {
		require.NoError(t, svc.Record(ctx, auditdomain.Entry{TenantID: "user_alice", Action: action, TargetType: "agent"}))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.Record(ctx, auditdomain.Entry{TenantID: "user_bob", Action: auditdomain.ActionAgentCreate}))

	logs, err := svc.List(ctx, "user_alice", auditdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, auditdomain.ActionAgentDelete, logs[0].Action)
	assert.Equal(t, "system", logs[0].ActorType)

	logs, err = svc.List(ctx, "user_alice", auditdomain.ListRequest{Action: auditdomain.ActionAPIKeyCreate})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	logs, err = svc.List(ctx, "user_alice", auditdomain.ListRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = svc.List(ctx, "user_bob", auditdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "unknown", logs[0].TargetType)
}
