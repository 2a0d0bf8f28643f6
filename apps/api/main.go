package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/smallbiznis/pushrelay/internal/observability"
	"github.com/smallbiznis/pushrelay/internal/server"
	"github.com/smallbiznis/pushrelay/pkg/db"
	"go.uber.org/fx"
)

// HTTP only. Delivery is left to apps/dispatcher or to the
// /api/push/dispatch trigger.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
