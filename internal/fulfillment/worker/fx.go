package worker

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("fulfillment.worker",
	fx.Provide(New),
	fx.Invoke(Start),
)

func Start(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				w.Run(ctx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
			return nil
		},
	})
}
