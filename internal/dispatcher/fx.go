package dispatcher

import (
	"context"

	"github.com/smallbiznis/pushrelay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("dispatcher",
	fx.Provide(ConfigFrom),
	fx.Provide(New),
)

// LoopModule runs the dispatch loop for the lifetime of the app.
var LoopModule = fx.Module("dispatcher.loop",
	fx.Invoke(StartLoop),
)

func StartLoop(lc fx.Lifecycle, cfg config.Config, d *Dispatcher, log *zap.Logger) {
	if !cfg.Dispatcher.Enabled {
		log.Info("dispatcher loop disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				d.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
