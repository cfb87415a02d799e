package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysettle/internal/catalog"
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	"github.com/smallbiznis/paysettle/internal/fulfillment"
	"github.com/smallbiznis/paysettle/internal/fulfillment/worker"
	"github.com/smallbiznis/paysettle/internal/metricspush"
	"github.com/smallbiznis/paysettle/internal/migration"
	"github.com/smallbiznis/paysettle/internal/observability"
	"github.com/smallbiznis/paysettle/internal/payment"
	"github.com/smallbiznis/paysettle/internal/providers"
	"github.com/smallbiznis/paysettle/internal/ratelimit"
	"github.com/smallbiznis/paysettle/internal/scheduler"
	"github.com/smallbiznis/paysettle/internal/server"
	"github.com/smallbiznis/paysettle/pkg/db"
	"github.com/smallbiznis/paysettle/pkg/rdb"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		rdb.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		catalog.Module,
		payment.Module,
		ratelimit.Module,
		providers.Module,
		fulfillment.Module,
		scheduler.Module,
		metricspush.Module,

		fx.Provide(worker.New),
		fx.Invoke(startInlineWorker),

		server.Module,
	)
	app.Run()
}

// startInlineWorker lets a single process consume its own fulfillment queue.
// Deployments running apps/worker turn it off with FULFILLMENT_INLINE_WORKER=false.
func startInlineWorker(lc fx.Lifecycle, cfg config.Config, w *worker.Worker) {
	if !cfg.Fulfillment.InlineWorker {
		return
	}
	worker.Start(lc, w)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.Payment.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.Payment.NodeID, err)
	}
	return node, nil
}
