package render

import (
	"testing"
	"time"

	invoicedomain "github.com/smallbiznis/paysettle/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTMLEscapesAndFormats(t *testing.T) {
	out, err := NewRenderer().RenderHTML(invoicedomain.InvoiceViewModel{
		Reference: "PAY-1",
		Number:    "INV-202605-1",
		Date:      time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC),
		Currency:  "XOF",
		Amount:    150000,
		Subtotal:  150000,
		Total:     150000,
		Customer:  invoicedomain.Customer{Name: "<script>alert(1)</script>", Email: "awa@example.com"},
		Product: invoicedomain.ProductBlock{
			Title:   "Website redesign",
			Details: []invoicedomain.Detail{{Label: "Category", Value: "Web development"}},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "INV-202605-1")
	assert.Contains(t, out, "150,000 XOF")
	assert.Contains(t, out, "2026-05-09")
	assert.Contains(t, out, "Category: Web development")
	assert.Contains(t, out, "<strong>Invoice</strong>")
	assert.NotContains(t, out, "<script>alert(1)</script>")
}

func TestSanitizeColor(t *testing.T) {
	assert.Equal(t, "#ff0000", sanitizeColor(" #ff0000 "))
	assert.Equal(t, "#111827", sanitizeColor("red;}"))
}
