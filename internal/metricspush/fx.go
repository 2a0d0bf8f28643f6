package metricspush

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("metrics.push",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, p *Pusher) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return p.Close()
			},
		})
	}),
)
