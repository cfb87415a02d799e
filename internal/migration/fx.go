package migration

import (
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	"github.com/smallbiznis/paysettle/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, clk clock.Clock, log *zap.Logger) error {
		if err := Run(conn); err != nil {
			return err
		}
		if !cfg.SeedDemoCatalog || cfg.IsProduction() {
			return nil
		}
		seeded, err := seed.EnsureDemoCatalog(conn, clk.Now())
		if err != nil {
			return err
		}
		if seeded {
			log.Named("seed").Info("demo catalog seeded")
		}
		return nil
	}),
)
