package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatchPolicyBackoff(t *testing.T) {
	policy := DispatchPolicy{
		MaxAttempts:     4,
		BaseBackoff:     10 * time.Second,
		MaxBackoff:      time.Minute,
		StaleClaimAfter: time.Minute,
	}

	assert.Equal(t, 10*time.Second, policy.Backoff(0))
	assert.Equal(t, 10*time.Second, policy.Backoff(1))
	assert.Equal(t, 20*time.Second, policy.Backoff(2))
	assert.Equal(t, 40*time.Second, policy.Backoff(3))
	assert.Equal(t, time.Minute, policy.Backoff(4))
	assert.Equal(t, time.Minute, policy.Backoff(30))

	assert.True(t, policy.ShouldRetry(3))
	assert.False(t, policy.ShouldRetry(4))
}

func TestNewDispatchPolicyHolderDefaultsWithoutFile(t *testing.T) {
	holder, err := NewDispatchPolicyHolder(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultDispatchPolicy(), holder.Get())
}

func TestNewDispatchPolicyHolderExplicitMissingFile(t *testing.T) {
	cfg := Config{Dispatcher: DispatcherConfig{PolicyFile: filepath.Join(t.TempDir(), "missing.yml")}}

	_, err := NewDispatchPolicyHolder(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewDispatchPolicyHolderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yml")
	content := []byte("dispatch:\n  maxAttempts: 2\n  baseBackoff: 5s\n  maxBackoff: 1m\n  staleClaimAfter: 2m\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewDispatchPolicyHolder(Config{Dispatcher: DispatcherConfig{PolicyFile: path}}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, 2, policy.MaxAttempts)
	assert.Equal(t, 5*time.Second, policy.BaseBackoff)
	assert.Equal(t, time.Minute, policy.MaxBackoff)
	assert.Equal(t, 2*time.Minute, policy.StaleClaimAfter)
}

func TestNewDispatchPolicyHolderRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yml")
	content := []byte("dispatch:\n  maxAttempts: 0\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := NewDispatchPolicyHolder(Config{Dispatcher: DispatcherConfig{PolicyFile: path}}, zap.NewNop())
	require.Error(t, err)
}

func TestAgentWebhookSecretFor(t *testing.T) {
	env := map[string]string{
		"AGENT_WEBHOOK_SECRET_4b1c": "agent-specific",
	}
	cfg := AgentWebhookConfig{DefaultSecret: "shared"}.WithSecretLookup(func(key string) string {
		return env[key]
	})

	assert.Equal(t, "agent-specific", cfg.SecretFor("4b1c"))
	assert.Equal(t, "shared", cfg.SecretFor("other"))
	assert.Equal(t, "", AgentWebhookConfig{}.SecretFor("4b1c"))
}
