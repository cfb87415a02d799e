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
	"github.com/smallbiznis/paysettle/internal/observability"
	"github.com/smallbiznis/paysettle/internal/payment"
	"github.com/smallbiznis/paysettle/internal/providers"
	"github.com/smallbiznis/paysettle/internal/ratelimit"
	"github.com/smallbiznis/paysettle/internal/scheduler"
	"github.com/smallbiznis/paysettle/pkg/db"
	"github.com/smallbiznis/paysettle/pkg/rdb"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		rdb.Module,
		clock.Module,

		// Domain services required by the dispatcher and the scheduler
		catalog.Module,
		payment.Module,
		ratelimit.Module,
		providers.Module,
		fulfillment.Module,

		worker.Module,
		scheduler.Module,
		metricspush.Module,

		// No server module!
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.Payment.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.Payment.NodeID, err)
	}
	return node, nil
}
