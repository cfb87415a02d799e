package payment

import (
	"github.com/smallbiznis/paysettle/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paysettle/internal/payment/service"
	"github.com/smallbiznis/paysettle/internal/payment/webhook"
	"github.com/smallbiznis/paysettle/internal/signature"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(signature.Provide),
	fx.Provide(paymentservice.NewLedger),
	fx.Provide(webhook.NewIngestor),
)
