package metricspush

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/smallbiznis/pushrelay/internal/config"
	"go.uber.org/zap"
)

const (
	ExporterRemoteWrite = "prometheus_remote_write"
	ExporterPushgateway = "prometheus_pushgateway"
	ExporterOTLP        = "otlp"
)

type exporter interface {
	Export(ctx context.Context, gatherer prometheus.Gatherer) error
}

// Pusher ships a registry snapshot to a remote collector after each
// dispatch run. A nil *Pusher is valid and does nothing.
type Pusher struct {
	kind     string
	exporter exporter
	log      *zap.Logger
}

// New builds a pusher from config. Misconfiguration is logged and disables
// pushing rather than blocking startup.
func New(cfg config.Config, log *zap.Logger) *Pusher {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("metricspush")
	if !cfg.MetricsPush.Enabled {
		return nil
	}

	exp, kind, err := newExporter(cfg)
	if err != nil {
		log.Warn("metrics push disabled", zap.Error(err))
		return nil
	}
	log.Info("metrics push enabled", zap.String("exporter", kind))
	return &Pusher{kind: kind, exporter: exp, log: log}
}

func newExporter(cfg config.Config) (exporter, string, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.MetricsPush.Exporter))
	endpoint := strings.TrimSpace(cfg.MetricsPush.Endpoint)
	if kind == "" {
		return nil, "", errors.New("metrics push exporter is required")
	}
	if endpoint == "" {
		return nil, "", errors.New("metrics push endpoint is required")
	}

	switch kind {
	case ExporterRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return nil, "", fmt.Errorf("invalid metrics push endpoint: %w", err)
		}
		return newRemoteWriteExporter(endpoint, cfg.MetricsPush.AuthToken), kind, nil
	case ExporterPushgateway:
		return &pushgatewayExporter{
			endpoint: endpoint,
			job:      strings.TrimSpace(cfg.AppName) + "_dispatcher",
			grouping: map[string]string{"environment": strings.TrimSpace(cfg.Environment)},
		}, kind, nil
	case ExporterOTLP:
		addr, secure, err := parseOTLPEndpoint(endpoint)
		if err != nil {
			return nil, "", err
		}
		return newOTLPExporter(addr, secure, cfg.MetricsPush.AuthToken, cfg.AppName, cfg.AppVersion, cfg.Environment), kind, nil
	default:
		return nil, "", fmt.Errorf("unsupported metrics push exporter: %s", kind)
	}
}

func (p *Pusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || p.exporter == nil || gatherer == nil {
		return nil
	}
	if err := p.exporter.Export(ctx, gatherer); err != nil {
		return fmt.Errorf("%s: %w", p.kind, err)
	}
	return nil
}

func (p *Pusher) Close() error {
	if p == nil {
		return nil
	}
	if closer, ok := p.exporter.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

type pushgatewayExporter struct {
	endpoint string
	job      string
	grouping map[string]string
}

func (e *pushgatewayExporter) Export(ctx context.Context, gatherer prometheus.Gatherer) error {
	if e.job == "" || e.job == "_dispatcher" {
		return errors.New("pushgateway job is required")
	}
	pusher := push.New(e.endpoint, e.job).Gatherer(gatherer)
	for key, value := range e.grouping {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}
	return pusher.PushContext(ctx)
}
