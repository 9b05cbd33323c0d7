package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/seeklabs/bloxscout/internal/clock"
	"github.com/seeklabs/bloxscout/internal/migration"
	"github.com/seeklabs/bloxscout/internal/server"
	"github.com/seeklabs/bloxscout/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// server.Module pulls in config, observability and every domain
		// module: metering, ledger, cache, payment, scheduler.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
