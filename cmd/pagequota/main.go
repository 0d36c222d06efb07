package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pagequota/internal/cache"
	"github.com/smallbiznis/pagequota/internal/clock"
	"github.com/smallbiznis/pagequota/internal/config"
	"github.com/smallbiznis/pagequota/internal/migration"
	"github.com/smallbiznis/pagequota/internal/observability"
	"github.com/smallbiznis/pagequota/internal/plan"
	"github.com/smallbiznis/pagequota/internal/profile"
	"github.com/smallbiznis/pagequota/internal/server"
	"github.com/smallbiznis/pagequota/internal/subscription"
	"github.com/smallbiznis/pagequota/internal/usage"
	"github.com/smallbiznis/pagequota/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,

		// Collaborators
		plan.Module,
		subscription.Module,
		profile.Module,

		usage.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
