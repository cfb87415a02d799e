package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	catalogdomain "github.com/smallbiznis/paysettle/internal/catalog/domain"
	"github.com/smallbiznis/paysettle/internal/config"
	invoicedomain "github.com/smallbiznis/paysettle/internal/invoice/domain"
	"github.com/smallbiznis/paysettle/internal/invoice/format"
	"github.com/smallbiznis/paysettle/internal/invoice/render"
	obslogger "github.com/smallbiznis/paysettle/internal/observability/logger"
	"github.com/smallbiznis/paysettle/internal/payable"
	payabledomain "github.com/smallbiznis/paysettle/internal/payable/domain"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	paymentservice "github.com/smallbiznis/paysettle/internal/payment/service"
	"github.com/smallbiznis/paysettle/internal/providers/pdf"
	"github.com/spf13/cast"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Payments interface {
	Get(ctx context.Context, reference string) (*paymentdomain.PaymentRecord, error)
}

type Payables interface {
	Resolve(ctx context.Context, tag string, id int64) (payabledomain.Payable, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Payments *paymentservice.Ledger
	Payables *payable.Registry
	Company  *config.CompanyConfigHolder `optional:"true"`
	Renderer render.Renderer
	PDF      pdf.Provider
}

// Assembler builds invoices for succeeded payments.
type Assembler struct {
	log      *zap.Logger
	payments Payments
	payables Payables
	company  *config.CompanyConfigHolder
	renderer render.Renderer
	pdf      pdf.Provider
}

func NewAssembler(p Params) *Assembler {
	return New(p.Log, p.Payments, p.Payables, p.Company, p.Renderer, p.PDF)
}

func New(log *zap.Logger, payments Payments, payables Payables, company *config.CompanyConfigHolder, renderer render.Renderer, pdfProvider pdf.Provider) *Assembler {
	return &Assembler{
		log:      log.Named("invoice.assembler"),
		payments: payments,
		payables: payables,
		company:  company,
		renderer: renderer,
		pdf:      pdfProvider,
	}
}

// Build returns the invoice view model. When the payable cannot be resolved
// the view model is still returned, with a generic product block, together
// with ErrUnresolvedPayable.
func (a *Assembler) Build(ctx context.Context, reference string) (*invoicedomain.InvoiceViewModel, error) {
	payment, err := a.payments.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment.Status != paymentdomain.StatusSucceeded {
		return nil, invoicedomain.ErrPaymentNotSucceeded
	}

	date := payment.CreatedAt
	if payment.PaidAt != nil {
		date = *payment.PaidAt
	}
	number, err := format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, date, payment.Reference)
	if err != nil {
		return nil, err
	}

	vm := &invoicedomain.InvoiceViewModel{
		Reference: payment.Reference,
		Number:    number,
		Date:      date.UTC(),
		Status:    string(payment.Status),
		Currency:  payment.Currency,
		Amount:    payment.Amount,
		Subtotal:  payment.Amount,
		Tax:       0,
		Total:     payment.Amount,
		Customer: invoicedomain.Customer{
			Name:  payment.CustomerName,
			Email: payment.CustomerEmail,
			Phone: payment.CustomerPhone,
		},
		Company: a.companyBlock(),
	}

	target, err := a.payables.Resolve(ctx, payment.PayableType, payment.PayableID)
	if err != nil {
		if !errors.Is(err, payabledomain.ErrUnregisteredPayable) && !errors.Is(err, payabledomain.ErrPayableNotFound) {
			return nil, err
		}
		vm.Product = fallbackProduct(payment)
		obslogger.WithPayment(obslogger.WithContext(ctx, a.log), payment.Reference).Warn("invoice built without payable",
			zap.String("payable_type", payment.PayableType),
			zap.Int64("payable_id", payment.PayableID),
			zap.Error(err),
		)
		return vm, fmt.Errorf("%w: %v", invoicedomain.ErrUnresolvedPayable, err)
	}

	vm.Product = invoicedomain.ProductBlock{
		Type:    target.Type(),
		Title:   productTitle(target, payment),
		Details: Details(target.Type(), target.InvoiceDetails()),
	}
	return vm, nil
}

// RenderHTML builds and renders the invoice as a standalone HTML page.
func (a *Assembler) RenderHTML(ctx context.Context, reference string) (string, error) {
	if a.renderer == nil {
		return "", invoicedomain.ErrRendererNotConfigured
	}
	vm, err := a.Build(ctx, reference)
	if vm == nil {
		return "", err
	}
	html, renderErr := a.renderer.RenderHTML(*vm)
	if renderErr != nil {
		return "", renderErr
	}
	return html, err
}

// RenderPDF builds the invoice and hands it to the PDF provider. An
// unresolved payable still yields a document alongside the error.
func (a *Assembler) RenderPDF(ctx context.Context, reference string) (*invoicedomain.Document, error) {
	if a.pdf == nil {
		return nil, invoicedomain.ErrRendererNotConfigured
	}
	vm, err := a.Build(ctx, reference)
	if vm == nil {
		return nil, err
	}
	body, renderErr := a.pdf.GenerateInvoice(ctx, *vm)
	if renderErr != nil {
		return nil, fmt.Errorf("render invoice pdf: %w", renderErr)
	}
	return &invoicedomain.Document{
		Filename:    Filename(vm.Number),
		ContentType: "application/pdf",
		Body:        body,
	}, err
}

func Filename(number string) string {
	name := slug.Make("invoice " + number)
	if name == "" {
		name = "invoice"
	}
	return name + ".pdf"
}

func (a *Assembler) companyBlock() invoicedomain.Company {
	profile := config.DefaultCompanyProfile()
	if a.company != nil {
		profile = a.company.Get()
	}
	return invoicedomain.Company{
		Name:    profile.Name,
		Address: profile.Address,
		Email:   profile.Email,
		Phone:   profile.Phone,
		TaxID:   profile.TaxID,
		Website: profile.Website,
	}
}

func productTitle(target payabledomain.Payable, payment *paymentdomain.PaymentRecord) string {
	if title := strings.TrimSpace(target.Label()); title != "" {
		return title
	}
	return fallbackTitle(payment)
}

func fallbackProduct(payment *paymentdomain.PaymentRecord) invoicedomain.ProductBlock {
	return invoicedomain.ProductBlock{
		Type:    payment.PayableType,
		Title:   fallbackTitle(payment),
		Details: []invoicedomain.Detail{},
	}
}

func fallbackTitle(payment *paymentdomain.PaymentRecord) string {
	if label := strings.TrimSpace(cast.ToString(payment.Metadata["label"])); label != "" {
		return label
	}
	return "Payment " + payment.Reference
}

type detailField struct {
	key   string
	label string
	human bool
}

var detailLayout = map[string][]detailField{
	payabledomain.TypeRequest: {
		{key: "category", label: "Category", human: true},
		{key: "offering", label: "Service", human: true},
		{key: "description", label: "Description"},
	},
	payabledomain.TypeSubscription: {
		{key: "plan", label: "Plan", human: true},
		{key: "billing_period", label: "Billing"},
	},
	payabledomain.TypeFormation: {
		{key: "level", label: "Level", human: true},
		{key: "duration", label: "Duration"},
		{key: "modules", label: "Modules"},
	},
	payabledomain.TypeShopPurchase: {
		{key: "product", label: "Product"},
		{key: "sku", label: "SKU"},
		{key: "category", label: "Category", human: true},
		{key: "quantity", label: "Quantity"},
		{key: "description", label: "Description"},
	},
}

// Details orders and formats a payable's raw invoice details for display.
// Empty values are left out.
func Details(payableType string, raw map[string]string) []invoicedomain.Detail {
	out := []invoicedomain.Detail{}
	for _, field := range detailLayout[payableType] {
		value := strings.TrimSpace(raw[field.key])
		if value == "" {
			continue
		}
		switch {
		case field.key == "billing_period":
			value = billingDescription(value)
		case field.human:
			value = catalogdomain.SentenceCase(value)
		}
		out = append(out, invoicedomain.Detail{Label: field.label, Value: value})
	}
	return out
}

func billingDescription(period string) string {
	switch catalogdomain.BillingPeriod(strings.ToLower(period)) {
	case catalogdomain.BillingMonthly:
		return "Billed monthly"
	case catalogdomain.BillingYearly:
		return "Billed yearly"
	default:
		return "Billed " + strings.ToLower(catalogdomain.SentenceCase(period))
	}
}
