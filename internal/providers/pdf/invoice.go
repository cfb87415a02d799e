package pdf

import (
	"context"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	invoicedomain "github.com/smallbiznis/paysettle/internal/invoice/domain"
	"github.com/smallbiznis/paysettle/internal/invoice/format"
)

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateInvoice(ctx context.Context, invoice invoicedomain.InvoiceViewModel) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)
	money := func(amount int64) string { return format.FormatAmount(amount, invoice.Currency) }

	m.AddRow(12,
		text.NewCol(6, "Invoice", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(6, invoice.Company.Name, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	// Invoice meta
	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+invoice.Number, props.Text{Top: 0}),
			text.New("Date paid: "+format.FormatDate(invoice.Date), props.Text{Top: 4}),
			text.New("Payment reference: "+invoice.Reference, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New(invoice.Company.Address, props.Text{Align: align.Right}),
			text.New(invoice.Company.Email, props.Text{Top: 4, Align: align.Right}),
			text.New(invoice.Company.Phone, props.Text{Top: 8, Align: align.Right}),
			text.New(taxID(invoice.Company.TaxID), props.Text{Top: 12, Align: align.Right}),
		),
	)

	// Bill to
	m.AddRow(20,
		col.New(12).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(invoice.Customer.Name, props.Text{Top: 5}),
			text.New(invoice.Customer.Email, props.Text{Top: 9}),
			text.New(invoice.Customer.Phone, props.Text{Top: 13}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, money(invoice.Total)+" paid", props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	// Table header
	m.AddRow(10,
		text.NewCol(9, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	m.AddRow(8,
		text.NewCol(9, invoice.Product.Title, props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, money(invoice.Amount), props.Text{Size: 9, Align: align.Right}),
	)
	for _, detail := range invoice.Product.Details {
		m.AddRow(5,
			text.NewCol(9, detail.Label+": "+detail.Value, props.Text{Size: 8}),
			col.New(3),
		)
	}
	m.AddRow(4, line.NewCol(12))

	// Totals
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, money(invoice.Subtotal), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Tax", props.Text{Size: 9}),
		text.NewCol(2, money(invoice.Tax), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, money(invoice.Total), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func taxID(value string) string {
	if value == "" {
		return ""
	}
	return "Tax ID " + value
}
