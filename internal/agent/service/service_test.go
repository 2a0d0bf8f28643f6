package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	agentdomain "github.com/smallbiznis/pushrelay/internal/agent/domain"
	"github.com/smallbiznis/pushrelay/internal/agent/repository"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/smallbiznis/pushrelay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const legacyAgentID = "8f14e45f-ceea-467f-a0e6-8d3c1f5a9b21"

func newTestService(t *testing.T) (agentdomain.Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &agentdomain.Agent{}, &agentdomain.AgentEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	env := map[string]string{"AGENT_WEBHOOK_SECRET_" + legacyAgentID: "per-agent"}
	cfg := config.Config{
		AgentWebhook: config.AgentWebhookConfig{DefaultSecret: "shared"}.WithSecretLookup(func(key string) string {
			return env[key]
		}),
	}

	svc, err := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		Config: cfg,
		Repo:   repository.Provide(),
	})
	require.NoError(t, err)
	return svc, conn
}

func TestCreateIssuesSecretOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "user_alice", agentdomain.CreateRequest{Name: "Build Bot"})
	require.NoError(t, err)
	assert.Equal(t, "build-bot", created.Agent.Slug)
	assert.True(t, strings.HasPrefix(created.Secret, agentdomain.SecretPrefix))
	require.NotNil(t, created.Agent.SecretHash)
	assert.NotContains(t, *created.Agent.SecretHash, created.Secret)

	stored, err := svc.Get(ctx, created.Agent.ID)
	require.NoError(t, err)
	assert.NoError(t, svc.VerifySecret(stored.ID, stored, created.Secret))
	assert.ErrorIs(t, svc.VerifySecret(stored.ID, stored, "agt_wrong"), agentdomain.ErrInvalidSecret)
	// the shared fallback does not apply once the agent has its own secret
	assert.ErrorIs(t, svc.VerifySecret(stored.ID, stored, "shared"), agentdomain.ErrInvalidSecret)
}

func TestCreateDisambiguatesSlugs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "user_alice", agentdomain.CreateRequest{Name: "Deploy"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, "user_alice", agentdomain.CreateRequest{Name: "deploy"})
	require.NoError(t, err)
	other, err := svc.Create(ctx, "user_bob", agentdomain.CreateRequest{Name: "Deploy"})
	require.NoError(t, err)

	assert.Equal(t, "deploy", first.Agent.Slug)
	assert.NotEqual(t, first.Agent.Slug, second.Agent.Slug)
	assert.True(t, strings.HasPrefix(second.Agent.Slug, "deploy-"))
	assert.Equal(t, "deploy", other.Agent.Slug)
}

func TestVerifySecretFallsBackToConfiguredSecrets(t *testing.T) {
	svc, _ := newTestService(t)

	assert.NoError(t, svc.VerifySecret(legacyAgentID, nil, "per-agent"))
	assert.ErrorIs(t, svc.VerifySecret(legacyAgentID, nil, "shared"), agentdomain.ErrInvalidSecret)
	assert.NoError(t, svc.VerifySecret("0b0e1a3e-7a55-4d8e-9d9f-111111111111", nil, "shared"))
	assert.ErrorIs(t, svc.VerifySecret(legacyAgentID, nil, " "), agentdomain.ErrSecretMissing)
}

func TestVerifySecretWithoutConfiguration(t *testing.T) {
	conn := dbtest.Open(t, &agentdomain.Agent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc, err := New(Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: repository.Provide()})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.VerifySecret(legacyAgentID, nil, "anything"), agentdomain.ErrSecretNotConfigured)
}

func TestListAndDeleteAreTenantScoped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "user_alice", agentdomain.CreateRequest{Name: "CI"})
	require.NoError(t, err)

	agents, err := svc.List(ctx, "user_bob")
	require.NoError(t, err)
	assert.Empty(t, agents)

	assert.ErrorIs(t, svc.Delete(ctx, "user_bob", created.Agent.ID), agentdomain.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "user_alice", "not-a-uuid"), agentdomain.ErrInvalidAgentID)
	require.NoError(t, svc.Delete(ctx, "user_alice", created.Agent.ID))

	_, err = svc.Get(ctx, created.Agent.ID)
	assert.ErrorIs(t, err, agentdomain.ErrNotFound)
}

func TestParsePayload(t *testing.T) {
	svc, _ := newTestService(t)

	payload, err := svc.ParsePayload([]byte(`{"event_type":"deploy","provider_event_id":"evt_1","message":"shipped","extra":{"sha":"abc"}}`))
	require.NoError(t, err)
	assert.Equal(t, "deploy", payload.EventType)
	assert.Equal(t, "evt_1", payload.NotificationKey())
	assert.Contains(t, string(payload.Raw), `"extra"`)

	withKey, err := svc.ParsePayload([]byte(`{"event_type":"deploy","provider_event_id":"evt_1","message":"m","dedupe_key":"k1"}`))
	require.NoError(t, err)
	assert.Equal(t, "k1", withKey.NotificationKey())

	cases := map[string]string{
		"empty":         ``,
		"malformed":     `{"event_type":`,
		"missing field": `{"event_type":"deploy","message":"m"}`,
		"empty message": `{"event_type":"deploy","provider_event_id":"evt_1","message":""}`,
		"wrong type":    `{"event_type":"deploy","provider_event_id":1,"message":"m"}`,
		"not an object": `["deploy"]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ParsePayload([]byte(body))
			require.Error(t, err)
			assert.ErrorIs(t, err, agentdomain.ErrInvalidPayload)

			var perr *agentdomain.PayloadError
			require.ErrorAs(t, err, &perr)
			assert.NotEmpty(t, perr.Fields)
		})
	}
}

func TestParsePayloadReportsFields(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ParsePayload([]byte(`{"event_type":"deploy","provider_event_id":"evt_1","message":""}`))
	var perr *agentdomain.PayloadError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Fields, "message")
}

func TestRecordEventTxIsIdempotent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	payload, err := svc.ParsePayload([]byte(`{"event_type":"deploy","provider_event_id":"evt_1","message":"m"}`))
	require.NoError(t, err)

	inserted, err := svc.RecordEventTx(ctx, conn, legacyAgentID, payload)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = svc.RecordEventTx(ctx, conn, legacyAgentID, payload)
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, conn.Model(&agentdomain.AgentEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
