package main

import (
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/smallbiznis/tally/internal/observability"
	"github.com/smallbiznis/tally/internal/server"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/log"
	"github.com/smallbiznis/tally/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		telemetry.Module,
		db.Module,
		clock.Module,
		migration.Module,

		// server.Module pulls in every feature module and starts the
		// listener through the fx lifecycle.
		server.Module,
	)
	app.Run()
}
