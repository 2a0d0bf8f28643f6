package push

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("push",
	fx.Provide(ConfigFrom),
	fx.Provide(ProvideSender),
	fx.Invoke(func(cfg Config, log *zap.Logger) {
		if err := cfg.Validate(); err != nil {
			log.Warn("web push delivery disabled", zap.Error(err))
		}
	}),
)

func ProvideSender(cfg Config, log *zap.Logger) Sender {
	return NewSender(cfg, log)
}
