package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/syncbox/internal/clock"
	"github.com/smallbiznis/syncbox/internal/config"
	"github.com/smallbiznis/syncbox/internal/connectivity"
	"github.com/smallbiznis/syncbox/internal/draft"
	"github.com/smallbiznis/syncbox/internal/localstore"
	"github.com/smallbiznis/syncbox/internal/logging"
	"github.com/smallbiznis/syncbox/internal/outbox"
	"github.com/smallbiznis/syncbox/internal/server"
	"github.com/smallbiznis/syncbox/internal/syncengine"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logging.Module,
		fx.Provide(func() (*snowflake.Node, error) {
			return snowflake.NewNode(1)
		}),
		clock.Module,
		localstore.Module,
		outbox.Module,
		draft.Module,
		connectivity.Module,
		syncengine.Module,
		server.Module,
	)
	app.Run()
}
