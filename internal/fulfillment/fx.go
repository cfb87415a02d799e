package fulfillment

import (
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	"github.com/smallbiznis/paysettle/internal/fulfillment/queue"
	"github.com/smallbiznis/paysettle/internal/fulfillment/service"
	"github.com/smallbiznis/paysettle/internal/fulfillment/storage"
	"github.com/smallbiznis/paysettle/internal/fulfillment/worker"
	"github.com/smallbiznis/paysettle/internal/payable"
	paymentservice "github.com/smallbiznis/paysettle/internal/payment/service"
	"github.com/smallbiznis/paysettle/internal/ratelimit"
	"go.uber.org/fx"
)

// Module provides the queue and the dispatcher. The worker loop lives in
// worker.Module so the API process can enqueue without consuming.
var Module = fx.Module("fulfillment",
	fx.Provide(storage.Provide),
	fx.Provide(queue.Provide),
	fx.Provide(provideLocker),
	fx.Provide(providePayments),
	fx.Provide(providePayables),
	fx.Provide(service.NewDispatcher),
	fx.Provide(provideWorkerDispatcher),
)

func provideLocker(locker *ratelimit.Locker) fulfillmentdomain.Locker {
	if locker == nil {
		return nil
	}
	return locker
}

func providePayments(ledger *paymentservice.Ledger) service.Payments {
	return ledger
}

func providePayables(registry *payable.Registry) service.Payables {
	return registry
}

func provideWorkerDispatcher(d *service.Dispatcher) worker.Dispatcher {
	return d
}
