package observability

import (
	"testing"

	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigNormalises(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:  "1.2.3",
		Environment: "production",
		Observability: config.ObservabilityConfig{
			LogLevel:          "WARN",
			OtelEnabled:       true,
			OtelProtocol:      "quic",
			OtelSamplingRatio: 4,
		},
	})

	assert.Equal(t, "pushrelay", cfg.ServiceName)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.OtelEnabled, "no endpoint means no export")
	assert.False(t, cfg.Debug())
}

func TestDebug(t *testing.T) {
	assert.True(t, Config{LogLevel: "debug", Environment: "production"}.Debug())
	assert.True(t, Config{LogLevel: "info", Environment: "local"}.Debug())
	assert.False(t, Config{LogLevel: "info", Environment: "staging"}.Debug())
}
