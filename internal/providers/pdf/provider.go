package pdf

import (
	"context"

	invoicedomain "github.com/smallbiznis/paysettle/internal/invoice/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

type Provider interface {
	GenerateInvoice(ctx context.Context, invoice invoicedomain.InvoiceViewModel) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateInvoice(ctx context.Context, invoice invoicedomain.InvoiceViewModel) ([]byte, error) {
	return nil, nil
}
