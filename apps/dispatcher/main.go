package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/smallbiznis/pushrelay/internal/dispatcher"
	"github.com/smallbiznis/pushrelay/internal/metricspush"
	"github.com/smallbiznis/pushrelay/internal/migration"
	"github.com/smallbiznis/pushrelay/internal/notificationjob"
	"github.com/smallbiznis/pushrelay/internal/observability"
	"github.com/smallbiznis/pushrelay/internal/push"
	"github.com/smallbiznis/pushrelay/internal/pushsubscription"
	"github.com/smallbiznis/pushrelay/internal/ratelimit"
	"github.com/smallbiznis/pushrelay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services required by the dispatcher
		notificationjob.Module,
		pushsubscription.Module,
		push.Module,
		ratelimit.Module,
		metricspush.Module,

		// No server module!
		dispatcher.Module,
		dispatcher.LoopModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
