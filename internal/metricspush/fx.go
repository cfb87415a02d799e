package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/paysettle/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Provide(func(db *gorm.DB) (*Backlog, error) {
		return NewBacklog(db, prometheus.DefaultRegisterer)
	}),
	fx.Invoke(Start),
)

// Start refreshes the backlog gauges and pushes the default registry on an
// interval. Without a pusher only the gauges are kept fresh for /metrics.
func Start(lc fx.Lifecycle, cfg config.Config, pusher Pusher, backlog *Backlog, logger *zap.Logger) {
	logger = logger.Named("metrics.push")
	interval := cfg.MetricsPush.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				for {
					tick(ctx, pusher, backlog, logger)
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					if pusher != nil {
						flushCtx, flushCancel := context.WithTimeout(stopCtx, defaultPushTimeout)
						defer flushCancel()
						if err := pusher.Push(flushCtx, prometheus.DefaultGatherer); err != nil {
							logger.Warn("final metrics push failed", zap.Error(err))
						}
					}
					return nil
				},
			})
			return nil
		},
	})
}

func tick(ctx context.Context, pusher Pusher, backlog *Backlog, logger *zap.Logger) {
	if err := backlog.Refresh(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("backlog refresh failed", zap.Error(err))
	}
	if pusher == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := pusher.Push(pushCtx, prometheus.DefaultGatherer); err != nil && ctx.Err() == nil {
		logger.Warn("metrics push failed", zap.Error(err))
	}
}
