package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DispatchPolicy controls retry behaviour for failed notification jobs.
type DispatchPolicy struct {
	MaxAttempts     int           `mapstructure:"maxAttempts"`
	BaseBackoff     time.Duration `mapstructure:"baseBackoff"`
	MaxBackoff      time.Duration `mapstructure:"maxBackoff"`
	StaleClaimAfter time.Duration `mapstructure:"staleClaimAfter"`
}

func DefaultDispatchPolicy() DispatchPolicy {
	return DispatchPolicy{
		MaxAttempts:     5,
		BaseBackoff:     30 * time.Second,
		MaxBackoff:      30 * time.Minute,
		StaleClaimAfter: 10 * time.Minute,
	}
}

// Backoff returns the delay before the next attempt once attempts have
// already been made.
func (p DispatchPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// ShouldRetry reports whether a job that has now failed attempts times gets
// another run.
func (p DispatchPolicy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}

type DispatchPolicyHolder struct {
	current atomic.Value // holds DispatchPolicy
}

// NewStaticDispatchPolicyHolder wraps a fixed policy.
func NewStaticDispatchPolicyHolder(policy DispatchPolicy) *DispatchPolicyHolder {
	holder := &DispatchPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// NewDispatchPolicyHolder loads dispatch.yml when present and keeps it hot-reloaded.
func NewDispatchPolicyHolder(cfg Config, log *zap.Logger) (*DispatchPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.dispatch_policy")

	v := viper.New()
	if path := strings.TrimSpace(cfg.Dispatcher.PolicyFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dispatch")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/pushrelay")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PUSHRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDispatchPolicy()
	v.SetDefault("dispatch.maxAttempts", defaults.MaxAttempts)
	v.SetDefault("dispatch.baseBackoff", defaults.BaseBackoff)
	v.SetDefault("dispatch.maxBackoff", defaults.MaxBackoff)
	v.SetDefault("dispatch.staleClaimAfter", defaults.StaleClaimAfter)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodeDispatchPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticDispatchPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeDispatchPolicy(v)
		if err != nil {
			log.Warn("dispatch policy reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("dispatch policy reloaded",
			zap.String("file", e.Name),
			zap.Int("max_attempts", updated.MaxAttempts),
			zap.Duration("base_backoff", updated.BaseBackoff),
		)
	})

	return holder, nil
}

func (h *DispatchPolicyHolder) Get() DispatchPolicy {
	if h == nil {
		return DefaultDispatchPolicy()
	}
	policy, ok := h.current.Load().(DispatchPolicy)
	if !ok {
		return DefaultDispatchPolicy()
	}
	return policy
}

func decodeDispatchPolicy(v *viper.Viper) (DispatchPolicy, error) {
	var policy DispatchPolicy
	if err := v.UnmarshalKey("dispatch", &policy); err != nil {
		return DispatchPolicy{}, err
	}
	if err := validateDispatchPolicy(policy); err != nil {
		return DispatchPolicy{}, err
	}
	return policy, nil
}

func validateDispatchPolicy(p DispatchPolicy) error {
	if p.MaxAttempts < 1 {
		return errors.New("dispatch.maxAttempts must be at least 1")
	}
	if p.BaseBackoff <= 0 {
		return errors.New("dispatch.baseBackoff must be positive")
	}
	if p.MaxBackoff < p.BaseBackoff {
		return errors.New("dispatch.maxBackoff must not be below dispatch.baseBackoff")
	}
	if p.StaleClaimAfter <= 0 {
		return errors.New("dispatch.staleClaimAfter must be positive")
	}
	return nil
}
