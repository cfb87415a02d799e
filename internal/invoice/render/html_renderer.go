package render

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"

	invoicedomain "github.com/smallbiznis/paysettle/internal/invoice/domain"
	"github.com/smallbiznis/paysettle/internal/invoice/format"
)

const invoiceHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Invoice {{.Invoice.Number}}</title>
  <style>
    :root {
      --primary: {{.PrimaryColor}};
      --font: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      padding: 40px;
      font-family: var(--font);
      color: #1a1f36;
      background: #f7f9fc;
    }
    .invoice-card {
      background: #ffffff;
      max-width: 760px;
      margin: 0 auto;
      padding: 60px;
      box-shadow: 0 2px 5px rgba(0,0,0,0.04);
      border-radius: 4px;
    }
    .header { display: flex; justify-content: space-between; margin-bottom: 40px; }
    .header h1 { margin: 0; font-size: 24px; font-weight: 700; }
    .company { text-align: right; font-size: 13px; color: #697386; line-height: 1.5; }
    .company strong { color: var(--primary); font-size: 16px; }
    .meta-grid { display: flex; justify-content: space-between; margin-bottom: 40px; }
    .col { flex: 1; }
    .label {
      font-size: 11px;
      text-transform: uppercase;
      color: #8792a2;
      margin-bottom: 6px;
      font-weight: 600;
      letter-spacing: 0.3px;
    }
    .value { font-size: 14px; line-height: 1.5; }
    .amount-large { font-size: 32px; font-weight: 700; margin-bottom: 40px; }
    table { width: 100%; border-collapse: collapse; margin-bottom: 30px; }
    th {
      text-align: left;
      text-transform: uppercase;
      font-size: 11px;
      color: #8792a2;
      border-bottom: 1px solid #e3e8ee;
      padding: 10px 0;
    }
    td { padding: 16px 0; border-bottom: 1px solid #e3e8ee; font-size: 14px; vertical-align: top; }
    .td-right { text-align: right; }
    .item-title { font-weight: 600; margin-bottom: 6px; }
    .item-sub { font-size: 12px; color: #697386; }
    .totals { display: flex; flex-direction: column; align-items: flex-end; }
    .total-row { display: flex; justify-content: space-between; width: 250px; padding: 6px 0; font-size: 14px; }
    .total-label { color: #697386; }
    .total-final { border-top: 1px solid #e3e8ee; margin-top: 10px; padding-top: 10px; font-weight: 700; }
  </style>
</head>
<body>
  <div class="invoice-card">
    <div class="header">
      <div>
        <h1>Invoice</h1>
        <div class="label" style="margin-top: 12px;">Invoice number</div>
        <div class="value">{{.Invoice.Number}}</div>
      </div>
      <div class="company">
        <strong>{{.Invoice.Company.Name}}</strong><br>
        {{if .Invoice.Company.Address}}{{.Invoice.Company.Address}}<br>{{end}}
        {{if .Invoice.Company.Email}}{{.Invoice.Company.Email}}<br>{{end}}
        {{if .Invoice.Company.Phone}}{{.Invoice.Company.Phone}}<br>{{end}}
        {{if .Invoice.Company.TaxID}}Tax ID {{.Invoice.Company.TaxID}}{{end}}
      </div>
    </div>

    <div class="meta-grid">
      <div class="col">
        <div class="label">Bill to</div>
        <div class="value">
          <strong>{{.Invoice.Customer.Name}}</strong><br>
          {{.Invoice.Customer.Email}}
          {{if .Invoice.Customer.Phone}}<br>{{.Invoice.Customer.Phone}}{{end}}
        </div>
      </div>
      <div class="col" style="flex: 0 0 200px;">
        <div class="label">Date paid</div>
        <div class="value">{{formatDate .Invoice.Date}}</div>
        <div class="label" style="margin-top: 16px;">Payment reference</div>
        <div class="value">{{.Invoice.Reference}}</div>
      </div>
    </div>

    <div class="amount-large">{{formatMoney .Invoice.Total .Invoice.Currency}} paid</div>

    <table>
      <thead>
        <tr>
          <th style="width: 70%;">Description</th>
          <th class="td-right">Amount</th>
        </tr>
      </thead>
      <tbody>
        <tr>
          <td>
            <div class="item-title">{{.Invoice.Product.Title}}</div>
            {{range .Invoice.Product.Details}}<div class="item-sub">{{.Label}}: {{.Value}}</div>{{end}}
          </td>
          <td class="td-right" style="font-weight: 500;">{{formatMoney .Invoice.Amount .Invoice.Currency}}</td>
        </tr>
      </tbody>
    </table>

    <div class="totals">
      <div class="total-row">
        <span class="total-label">Subtotal</span>
        <span>{{formatMoney .Invoice.Subtotal .Invoice.Currency}}</span>
      </div>
      <div class="total-row">
        <span class="total-label">Tax</span>
        <span>{{formatMoney .Invoice.Tax .Invoice.Currency}}</span>
      </div>
      <div class="total-row total-final">
        <span>Total</span>
        <span>{{formatMoney .Invoice.Total .Invoice.Currency}}</span>
      </div>
    </div>
  </div>
</body>
</html>
`

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type Renderer interface {
	RenderHTML(invoice invoicedomain.InvoiceViewModel) (string, error)
}

type renderInput struct {
	Invoice      invoicedomain.InvoiceViewModel
	PrimaryColor string
}

type HTMLRenderer struct {
	tpl          *template.Template
	primaryColor string
}

func NewRenderer() Renderer {
	return NewRendererWithColor("")
}

func NewRendererWithColor(color string) *HTMLRenderer {
	funcs := template.FuncMap{
		"formatMoney": format.FormatAmount,
		"formatDate":  format.FormatDate,
	}
	return &HTMLRenderer{
		tpl:          template.Must(template.New("invoice").Funcs(funcs).Parse(invoiceHTMLTemplate)),
		primaryColor: sanitizeColor(color),
	}
}

func (r *HTMLRenderer) RenderHTML(invoice invoicedomain.InvoiceViewModel) (string, error) {
	if strings.TrimSpace(invoice.Company.Name) == "" {
		invoice.Company.Name = "Invoice"
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, renderInput{Invoice: invoice, PrimaryColor: r.primaryColor}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeColor(value string) string {
	trimmed := strings.TrimSpace(value)
	if hexColorPattern.MatchString(trimmed) {
		return trimmed
	}
	return "#111827"
}
