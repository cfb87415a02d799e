package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	invoicedomain "github.com/smallbiznis/paysettle/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInvoiceProducesPDF(t *testing.T) {
	out, err := New().GenerateInvoice(context.Background(), invoicedomain.InvoiceViewModel{
		Reference: "PAY-01JTX4Q8M2K7ZP3N9C5VB6D0HE",
		Number:    "INV-202605-5VB6D0HE",
		Date:      time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC),
		Currency:  "XOF",
		Amount:    90000,
		Subtotal:  90000,
		Total:     90000,
		Customer:  invoicedomain.Customer{Name: "Awa Diop", Email: "awa@example.com"},
		Company:   invoicedomain.Company{Name: "Acme", TaxID: "SN-123"},
		Product: invoicedomain.ProductBlock{
			Type:  "formation",
			Title: "Go for backends",
			Details: []invoicedomain.Detail{
				{Label: "Level", Value: "Intermediate"},
				{Label: "Duration", Value: "3 days"},
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestGenerateInvoiceHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().GenerateInvoice(ctx, invoicedomain.InvoiceViewModel{})
	assert.ErrorIs(t, err, context.Canceled)
}
