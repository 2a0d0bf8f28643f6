package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pushrelay/internal/clock"
	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/smallbiznis/pushrelay/internal/dispatcher"
	"github.com/smallbiznis/pushrelay/internal/migration"
	"github.com/smallbiznis/pushrelay/internal/observability"
	"github.com/smallbiznis/pushrelay/internal/server"
	"github.com/smallbiznis/pushrelay/pkg/db"
	"go.uber.org/fx"
)

// Single binary: HTTP intake and management API plus the in-process
// dispatch loop.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// server.Module pulls in every domain service the routes need.
		server.Module,
		dispatcher.LoopModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
