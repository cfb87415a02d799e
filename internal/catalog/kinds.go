package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/paysettle/internal/catalog/domain"
	"github.com/smallbiznis/paysettle/internal/clock"
	payabledomain "github.com/smallbiznis/paysettle/internal/payable/domain"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// store is shared by every kind and every resolved payable.
type store struct {
	db    *gorm.DB
	repo  domain.Repository
	clock clock.Clock
}

func (s *store) paidAt(payment paymentdomain.PaymentRecord) time.Time {
	if payment.PaidAt != nil {
		return payment.PaidAt.UTC()
	}
	return s.clock.Now().UTC()
}

// errDeliveredElsewhere rolls back a delivery whose payable row was already
// stamped by another payment.
var errDeliveredElsewhere = errors.New("delivered by another payment")

// settle runs apply once per payment reference. The settlement row and the
// writes done by apply commit together.
func (s *store) settle(ctx context.Context, tag string, id int64, payment paymentdomain.PaymentRecord, apply func(tx *gorm.DB, at time.Time) error) error {
	reference := strings.TrimSpace(payment.Reference)
	if reference == "" {
		return payabledomain.ErrMissingReference
	}
	at := s.paidAt(payment)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertSettlement(ctx, tx, &domain.PayableSettlement{
			Reference:   reference,
			PayableType: tag,
			PayableID:   id,
			SettledAt:   at,
			CreatedAt:   s.clock.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
		if !inserted {
			return nil
		}
		return apply(tx, at)
	})
}

func (s *store) markPaid(ctx context.Context, table string, id int64) func(tx *gorm.DB, at time.Time) error {
	return func(tx *gorm.DB, at time.Time) error {
		_, err := s.repo.MarkPaid(ctx, tx, table, id, at)
		return err
	}
}

func (s *store) deliveredFor(ctx context.Context, reference string) (bool, error) {
	row, err := s.repo.FindSettlement(ctx, s.db, reference)
	if err != nil {
		return false, err
	}
	return row != nil && row.DeliveredAt != nil, nil
}

// markDelivered stamps the payment's settlement and the payable row together.
// With once set, a payable row already delivered by another payment wins.
func (s *store) markDelivered(ctx context.Context, table string, id int64, reference string, at time.Time, payload payabledomain.DeliveryPayload, once bool) (bool, error) {
	marked := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.MarkSettlementDelivered(ctx, tx, reference, at)
		if err != nil || !ok {
			return err
		}
		if !once {
			if err := s.repo.OverwriteDelivered(ctx, tx, table, id, at, datatypes.JSONMap(payload)); err != nil {
				return err
			}
			marked = true
			return nil
		}
		ok, err = s.repo.MarkDelivered(ctx, tx, table, id, at, datatypes.JSONMap(payload))
		if err != nil {
			return err
		}
		if !ok {
			return errDeliveredElsewhere
		}
		marked = true
		return nil
	})
	if errors.Is(err, errDeliveredElsewhere) {
		return false, nil
	}
	return marked, err
}

type RequestKind struct{ *store }

func (RequestKind) Type() string { return payabledomain.TypeRequest }

func (k RequestKind) Resolve(ctx context.Context, id int64) (payabledomain.Payable, error) {
	row, err := k.repo.FindServiceRequest(ctx, k.db, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: request %d", payabledomain.ErrPayableNotFound, id)
	}
	return &requestPayable{store: k.store, row: row}, nil
}

type requestPayable struct {
	*store
	row *domain.ServiceRequest
}

func (p *requestPayable) Type() string            { return payabledomain.TypeRequest }
func (p *requestPayable) ID() int64               { return p.row.ID }
func (p *requestPayable) AmountDue() int64        { return p.row.Amount }
func (p *requestPayable) DeliveredAt() *time.Time { return p.row.DeliveredAt }
func (p *requestPayable) Renewable() bool         { return false }
func (p *requestPayable) Paid() bool              { return p.row.PaymentStatus == domain.PaymentStatusPaid }

func (p *requestPayable) DeliveredFor(ctx context.Context, reference string) (bool, error) {
	return p.deliveredFor(ctx, reference)
}

func (p *requestPayable) Label() string {
	return domain.SentenceCase(p.row.Offering)
}

// InvoiceDetails returns raw identifiers; display formatting happens on the invoice.
func (p *requestPayable) InvoiceDetails() map[string]string {
	return map[string]string{
		"category":    p.row.Category,
		"offering":    p.row.Offering,
		"description": p.row.Description,
	}
}

func (p *requestPayable) OnPaymentSucceeded(ctx context.Context, payment paymentdomain.PaymentRecord) error {
	return p.settle(ctx, payabledomain.TypeRequest, p.row.ID, payment, p.markPaid(ctx, p.row.TableName(), p.row.ID))
}

func (p *requestPayable) Delivery() payabledomain.Delivery {
	return payabledomain.Delivery{
		Mode:    payabledomain.DeliveryServiceMail,
		Subject: "Your request has been received",
		Summary: map[string]string{
			"category": domain.SentenceCase(p.row.Category),
			"offering": domain.SentenceCase(p.row.Offering),
		},
	}
}

func (p *requestPayable) MarkDelivered(ctx context.Context, reference string, at time.Time, payload payabledomain.DeliveryPayload) (bool, error) {
	return p.markDelivered(ctx, p.row.TableName(), p.row.ID, reference, at, payload, true)
}

type SubscriptionKind struct{ *store }

func (SubscriptionKind) Type() string { return payabledomain.TypeSubscription }

func (k SubscriptionKind) Resolve(ctx context.Context, id int64) (payabledomain.Payable, error) {
	row, err := k.repo.FindSubscription(ctx, k.db, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: subscription %d", payabledomain.ErrPayableNotFound, id)
	}
	return &subscriptionPayable{store: k.store, row: row}, nil
}

type subscriptionPayable struct {
	*store
	row *domain.Subscription
}

func (p *subscriptionPayable) Type() string            { return payabledomain.TypeSubscription }
func (p *subscriptionPayable) ID() int64               { return p.row.ID }
func (p *subscriptionPayable) AmountDue() int64        { return p.row.Amount }
func (p *subscriptionPayable) DeliveredAt() *time.Time { return p.row.DeliveredAt }
func (p *subscriptionPayable) Renewable() bool         { return true }
func (p *subscriptionPayable) Paid() bool              { return p.row.PaymentStatus == domain.PaymentStatusPaid }

func (p *subscriptionPayable) DeliveredFor(ctx context.Context, reference string) (bool, error) {
	return p.deliveredFor(ctx, reference)
}

func (p *subscriptionPayable) Label() string {
	return fmt.Sprintf("%s subscription", domain.SentenceCase(p.row.Plan))
}

func (p *subscriptionPayable) InvoiceDetails() map[string]string {
	return map[string]string{
		"plan":           p.row.Plan,
		"billing_period": string(p.row.BillingPeriod),
	}
}

// OnPaymentSucceeded extends the paid period from whichever is later: the
// payment time or the current end of the subscription. Each payment extends
// it once.
func (p *subscriptionPayable) OnPaymentSucceeded(ctx context.Context, payment paymentdomain.PaymentRecord) error {
	return p.settle(ctx, payabledomain.TypeSubscription, p.row.ID, payment, func(tx *gorm.DB, at time.Time) error {
		if _, err := p.repo.MarkPaid(ctx, tx, p.row.TableName(), p.row.ID, at); err != nil {
			return err
		}
		current, err := p.repo.FindSubscription(ctx, tx, p.row.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: subscription %d", payabledomain.ErrPayableNotFound, p.row.ID)
		}
		start := at
		if current.ActiveUntil != nil && current.ActiveUntil.After(start) {
			start = current.ActiveUntil.UTC()
		}
		return p.repo.ExtendSubscription(ctx, tx, p.row.ID, nextPeriodEnd(start, current.BillingPeriod), at)
	})
}

func nextPeriodEnd(start time.Time, period domain.BillingPeriod) time.Time {
	if period == domain.BillingYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func (p *subscriptionPayable) Delivery() payabledomain.Delivery {
	return payabledomain.Delivery{
		Mode:    payabledomain.DeliveryServiceMail,
		Subject: "Your subscription is active",
		Summary: map[string]string{"plan": domain.SentenceCase(p.row.Plan)},
	}
}

func (p *subscriptionPayable) MarkDelivered(ctx context.Context, reference string, at time.Time, payload payabledomain.DeliveryPayload) (bool, error) {
	return p.markDelivered(ctx, p.row.TableName(), p.row.ID, reference, at, payload, false)
}

type FormationKind struct{ *store }

func (FormationKind) Type() string { return payabledomain.TypeFormation }

func (k FormationKind) Resolve(ctx context.Context, id int64) (payabledomain.Payable, error) {
	row, err := k.repo.FindTrainingRegistration(ctx, k.db, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: formation %d", payabledomain.ErrPayableNotFound, id)
	}
	return &formationPayable{store: k.store, row: row}, nil
}

type formationPayable struct {
	*store
	row *domain.TrainingRegistration
}

func (p *formationPayable) Type() string            { return payabledomain.TypeFormation }
func (p *formationPayable) ID() int64               { return p.row.ID }
func (p *formationPayable) AmountDue() int64        { return p.row.Amount }
func (p *formationPayable) Label() string           { return p.row.Title }
func (p *formationPayable) DeliveredAt() *time.Time { return p.row.DeliveredAt }
func (p *formationPayable) Renewable() bool         { return false }
func (p *formationPayable) Paid() bool              { return p.row.PaymentStatus == domain.PaymentStatusPaid }

func (p *formationPayable) DeliveredFor(ctx context.Context, reference string) (bool, error) {
	return p.deliveredFor(ctx, reference)
}

func (p *formationPayable) InvoiceDetails() map[string]string {
	return map[string]string{
		"level":    p.row.Level,
		"duration": p.row.Duration,
		"modules":  strings.Join(p.row.Modules, ", "),
	}
}

func (p *formationPayable) OnPaymentSucceeded(ctx context.Context, payment paymentdomain.PaymentRecord) error {
	return p.settle(ctx, payabledomain.TypeFormation, p.row.ID, payment, p.markPaid(ctx, p.row.TableName(), p.row.ID))
}

func (p *formationPayable) Delivery() payabledomain.Delivery {
	return payabledomain.Delivery{
		Mode:    payabledomain.DeliveryAttachments,
		Files:   append([]string(nil), p.row.Files...),
		Subject: fmt.Sprintf("Your course materials: %s", p.row.Title),
		Summary: map[string]string{"level": p.row.Level, "duration": p.row.Duration},
	}
}

func (p *formationPayable) MarkDelivered(ctx context.Context, reference string, at time.Time, payload payabledomain.DeliveryPayload) (bool, error) {
	return p.markDelivered(ctx, p.row.TableName(), p.row.ID, reference, at, payload, true)
}

type ShopPurchaseKind struct{ *store }

func (ShopPurchaseKind) Type() string { return payabledomain.TypeShopPurchase }

func (k ShopPurchaseKind) Resolve(ctx context.Context, id int64) (payabledomain.Payable, error) {
	row, err := k.repo.FindShopPurchase(ctx, k.db, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: shop purchase %d", payabledomain.ErrPayableNotFound, id)
	}
	product, err := k.repo.FindShopProduct(ctx, k.db, row.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: shop product %d", payabledomain.ErrPayableNotFound, row.ProductID)
	}
	return &shopPayable{store: k.store, row: row, product: product}, nil
}

type shopPayable struct {
	*store
	row     *domain.ShopPurchase
	product *domain.ShopProduct
}

func (p *shopPayable) Type() string            { return payabledomain.TypeShopPurchase }
func (p *shopPayable) ID() int64               { return p.row.ID }
func (p *shopPayable) AmountDue() int64        { return p.row.Amount }
func (p *shopPayable) DeliveredAt() *time.Time { return p.row.DeliveredAt }
func (p *shopPayable) Renewable() bool         { return false }
func (p *shopPayable) Paid() bool              { return p.row.PaymentStatus == domain.PaymentStatusPaid }

func (p *shopPayable) DeliveredFor(ctx context.Context, reference string) (bool, error) {
	return p.deliveredFor(ctx, reference)
}

func (p *shopPayable) Label() string {
	if p.row.Quantity > 1 {
		return fmt.Sprintf("%s x%d", p.product.Name, p.row.Quantity)
	}
	return p.product.Name
}

func (p *shopPayable) InvoiceDetails() map[string]string {
	return map[string]string{
		"product":     p.product.Name,
		"sku":         p.product.SKU,
		"category":    p.product.Category,
		"description": p.product.Description,
		"quantity":    strconv.Itoa(p.row.Quantity),
	}
}

func (p *shopPayable) OnPaymentSucceeded(ctx context.Context, payment paymentdomain.PaymentRecord) error {
	return p.settle(ctx, payabledomain.TypeShopPurchase, p.row.ID, payment, p.markPaid(ctx, p.row.TableName(), p.row.ID))
}

// Delivery mails the product files for digital goods and a confirmation otherwise.
func (p *shopPayable) Delivery() payabledomain.Delivery {
	if p.product.Digital && len(p.product.Files) > 0 {
		return payabledomain.Delivery{
			Mode:    payabledomain.DeliveryAttachments,
			Files:   append([]string(nil), p.product.Files...),
			Subject: fmt.Sprintf("Your download: %s", p.product.Name),
		}
	}
	return payabledomain.Delivery{
		Mode:    payabledomain.DeliveryServiceMail,
		Subject: "Your order is confirmed",
		Summary: map[string]string{
			"product":  p.product.Name,
			"quantity": strconv.Itoa(p.row.Quantity),
		},
	}
}

func (p *shopPayable) MarkDelivered(ctx context.Context, reference string, at time.Time, payload payabledomain.DeliveryPayload) (bool, error) {
	return p.markDelivered(ctx, p.row.TableName(), p.row.ID, reference, at, payload, true)
}
