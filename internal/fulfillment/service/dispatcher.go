package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	obslogger "github.com/smallbiznis/paysettle/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paysettle/internal/observability/metrics"
	payabledomain "github.com/smallbiznis/paysettle/internal/payable/domain"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	"github.com/smallbiznis/paysettle/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockKeyPrefix = "paysettle:fulfillment:dispatch:"

// Payments is the slice of the ledger the dispatcher reads and audits through.
type Payments interface {
	Get(ctx context.Context, reference string) (*paymentdomain.PaymentRecord, error)
	AppendEvent(ctx context.Context, in paymentdomain.NewEvent) error
}

// Payables resolves the payable behind a payment.
type Payables interface {
	Resolve(ctx context.Context, tag string, id int64) (payabledomain.Payable, error)
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Payments   Payments
	Payables   Payables
	Files      fulfillmentdomain.FileStore
	Email      email.Provider
	Company    *config.CompanyConfigHolder `optional:"true"`
	Locker     fulfillmentdomain.Locker    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

// Dispatcher delivers what a succeeded payment bought: files by email, or a
// service confirmation. Delivery is recorded once per payment, and once per
// payable unless the payable is renewable.
type Dispatcher struct {
	log        *zap.Logger
	clock      clock.Clock
	payments   Payments
	payables   Payables
	files      fulfillmentdomain.FileStore
	email      email.Provider
	company    *config.CompanyConfigHolder
	locker     fulfillmentdomain.Locker
	obsMetrics *obsmetrics.Metrics
	cap        int64
	lockTTL    time.Duration
}

func NewDispatcher(p Params) *Dispatcher {
	capBytes := p.Cfg.Fulfillment.AttachmentCap
	if capBytes <= 0 {
		capBytes = config.DefaultAttachmentCap
	}
	lockTTL := p.Cfg.Fulfillment.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Dispatcher{
		log:        p.Log.Named("fulfillment.dispatcher"),
		clock:      clk,
		payments:   p.Payments,
		payables:   p.Payables,
		files:      p.Files,
		email:      p.Email,
		company:    p.Company,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
		cap:        capBytes,
		lockTTL:    lockTTL,
	}
}

// Dispatch is safe to call repeatedly for the same reference. An error means
// the delivery should be retried; skipped and ignored outcomes are final.
func (d *Dispatcher) Dispatch(ctx context.Context, reference string) (fulfillmentdomain.Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return fulfillmentdomain.Outcome{}, fulfillmentdomain.ErrEmptyReference
	}
	log := obslogger.WithPayment(obslogger.WithContext(ctx, d.log), reference)

	if d.locker != nil {
		key := lockKeyPrefix + reference
		lockStart := time.Now()
		token, ok, err := d.locker.TryLock(ctx, key, d.lockTTL)
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceDispatch, time.Since(lockStart))
		if err != nil {
			return fulfillmentdomain.Outcome{}, fmt.Errorf("dispatch lock: %w", err)
		}
		if !ok {
			return fulfillmentdomain.Outcome{}, fulfillmentdomain.ErrDispatchInProgress
		}
		defer func() {
			if err := d.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn("release dispatch lock failed", zap.Error(err))
			}
		}()
	}

	record, err := d.payments.Get(ctx, reference)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrNotFound) {
			return d.ignore(log, fulfillmentdomain.ReasonPaymentNotFound), nil
		}
		return fulfillmentdomain.Outcome{}, err
	}
	if record.Status != paymentdomain.StatusSucceeded {
		return d.ignore(log, fulfillmentdomain.ReasonNotSucceeded), nil
	}

	item, err := d.payables.Resolve(ctx, record.PayableType, record.PayableID)
	switch {
	case errors.Is(err, payabledomain.ErrUnregisteredPayable):
		return d.skip(ctx, log, record, fulfillmentdomain.ReasonUnregisteredPayable, "")
	case errors.Is(err, payabledomain.ErrPayableNotFound):
		return d.skip(ctx, log, record, fulfillmentdomain.ReasonPayableNotFound, "")
	case err != nil:
		return fulfillmentdomain.Outcome{}, err
	}

	// The webhook may have died between the ledger commit and the hook.
	if err := item.OnPaymentSucceeded(ctx, *record); err != nil {
		return fulfillmentdomain.Outcome{}, fmt.Errorf("settle payable: %w", err)
	}

	delivery := item.Delivery()
	mode := string(delivery.Mode)
	delivered, err := item.DeliveredFor(ctx, record.Reference)
	if err != nil {
		return fulfillmentdomain.Outcome{}, err
	}
	if delivered {
		return d.skip(ctx, log, record, fulfillmentdomain.ReasonAlreadyDelivered, mode)
	}
	if !item.Renewable() && item.DeliveredAt() != nil {
		log.Error("payable already delivered for another payment",
			zap.String("payable_type", record.PayableType),
			zap.Int64("payable_id", record.PayableID),
		)
		return d.skip(ctx, log, record, fulfillmentdomain.ReasonDuplicatePayment, mode)
	}
	recipient := strings.TrimSpace(record.CustomerEmail)
	if recipient == "" {
		return d.skip(ctx, log, record, fulfillmentdomain.ReasonNoRecipient, mode)
	}

	msg := email.Message{
		To:      []string{recipient},
		Subject: delivery.Subject,
		Data:    d.messageData(record, item, delivery),
	}

	outcome := fulfillmentdomain.Outcome{Status: fulfillmentdomain.OutcomeDispatched, Mode: mode}
	var payload payabledomain.DeliveryPayload
	switch delivery.Mode {
	case payabledomain.DeliveryAttachments:
		attachments, names, omitted, err := d.collect(ctx, log, delivery.Files)
		if err != nil {
			return fulfillmentdomain.Outcome{}, err
		}
		msg.Template = email.TemplateDeliveryAttachments
		msg.Attachments = attachments
		msg.Data["attachments"] = names
		msg.Data["omitted"] = len(omitted) > 0
		outcome.Attachments = names
		outcome.Omitted = omitted
		payload = payabledomain.AttachmentsPayload(names)
	default:
		outcome.Mode = string(payabledomain.DeliveryServiceMail)
		msg.Template = email.TemplateDeliveryService
		payload = payabledomain.ServiceMailPayload()
	}

	if err := d.email.Send(ctx, msg); err != nil {
		return fulfillmentdomain.Outcome{}, fmt.Errorf("send delivery email: %w", err)
	}

	now := d.clock.Now().UTC()
	marked, err := item.MarkDelivered(ctx, record.Reference, now, payload)
	if err != nil {
		return fulfillmentdomain.Outcome{}, fmt.Errorf("mark delivered: %w", err)
	}
	if !marked {
		log.Warn("payable delivered concurrently, email may be duplicated",
			zap.String("payable_type", record.PayableType),
		)
		return d.skip(ctx, log, record, fulfillmentdomain.ReasonAlreadyDelivered, outcome.Mode)
	}

	outcome.Reason = fulfillmentdomain.ReasonDelivered
	eventPayload := map[string]any{
		"mode":        outcome.Mode,
		"attachments": nonNil(outcome.Attachments),
	}
	if len(outcome.Omitted) > 0 {
		eventPayload["omitted"] = outcome.Omitted
	}
	if err := d.payments.AppendEvent(ctx, paymentdomain.NewEvent{
		PaymentID: &record.ID,
		Reference: record.Reference,
		EventType: paymentdomain.EventTypeFulfillmentDispatched,
		Payload:   eventPayload,
	}); err != nil {
		// delivered_at is already set, so a retry would skip; keep the outcome.
		log.Error("record fulfillment_dispatched failed", zap.Error(err))
	}

	d.obsMetrics.RecordFulfillment(ctx, outcome.Mode, outcome.Reason)
	log.Info("fulfillment dispatched",
		zap.String("mode", outcome.Mode),
		zap.Int("attachments", len(outcome.Attachments)),
		zap.Int("omitted", len(outcome.Omitted)),
	)
	return outcome, nil
}

// collect keeps the listed order. A missing file is skipped; a file that
// would push the running total past the cap is left out whole.
func (d *Dispatcher) collect(ctx context.Context, log *zap.Logger, files []string) ([]email.Attachment, []string, []string, error) {
	var (
		total       int64
		attachments []email.Attachment
		names       []string
		omitted     []string
	)
	seen := map[string]bool{}
	for _, file := range files {
		size, err := d.files.Stat(ctx, file)
		if err != nil {
			if errors.Is(err, fulfillmentdomain.ErrFileNotFound) {
				log.Warn("deliverable file missing", zap.String("path", file))
				omitted = append(omitted, file)
				continue
			}
			return nil, nil, nil, err
		}
		if total+size > d.cap {
			log.Warn("deliverable file exceeds attachment cap",
				zap.String("path", file),
				zap.Int64("size", size),
				zap.Int64("total", total),
				zap.Int64("cap", d.cap),
			)
			omitted = append(omitted, file)
			continue
		}

		data, err := d.files.ReadFile(ctx, file)
		if err != nil {
			if errors.Is(err, fulfillmentdomain.ErrFileNotFound) {
				omitted = append(omitted, file)
				continue
			}
			return nil, nil, nil, err
		}
		total += size

		name := uniqueName(DisplayName(file), seen)
		attachments = append(attachments, email.Attachment{
			Filename:    name,
			ContentType: contentType(file),
			Data:        data,
		})
		names = append(names, name)
	}
	return attachments, names, omitted, nil
}

func (d *Dispatcher) messageData(record *paymentdomain.PaymentRecord, item payabledomain.Payable, delivery payabledomain.Delivery) map[string]any {
	companyName := config.DefaultCompanyProfile().Name
	if d.company != nil {
		companyName = d.company.Get().Name
	}
	details := map[string]string{}
	for k, v := range item.InvoiceDetails() {
		details[k] = v
	}
	for k, v := range delivery.Summary {
		details[k] = v
	}
	return map[string]any{
		"customer_name": record.CustomerName,
		"label":         item.Label(),
		"reference":     record.Reference,
		"amount":        record.Amount,
		"currency":      record.Currency,
		"details":       details,
		"company_name":  companyName,
	}
}

func (d *Dispatcher) skip(ctx context.Context, log *zap.Logger, record *paymentdomain.PaymentRecord, reason, mode string) (fulfillmentdomain.Outcome, error) {
	if err := d.payments.AppendEvent(ctx, paymentdomain.NewEvent{
		PaymentID: &record.ID,
		Reference: record.Reference,
		EventType: paymentdomain.EventTypeFulfillmentSkipped,
		Payload:   map[string]any{"reason": reason},
	}); err != nil {
		return fulfillmentdomain.Outcome{}, err
	}
	d.obsMetrics.RecordFulfillment(ctx, mode, reason)
	log.Info("fulfillment skipped", zap.String("reason", reason))
	return fulfillmentdomain.Outcome{Status: fulfillmentdomain.OutcomeSkipped, Reason: reason, Mode: mode}, nil
}

func (d *Dispatcher) ignore(log *zap.Logger, reason string) fulfillmentdomain.Outcome {
	log.Debug("fulfillment ignored", zap.String("reason", reason))
	return fulfillmentdomain.Outcome{Status: fulfillmentdomain.OutcomeIgnored, Reason: reason}
}

// DisplayName turns a storage path into the attachment name shown to the
// customer: "docs/Guide Complet (v2).PDF" becomes "guide-complet-v2.pdf".
func DisplayName(file string) string {
	base := path.Base(strings.ReplaceAll(file, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		stem = "document"
	}
	return stem + ext
}

// uniqueName suffixes repeated attachment names: guide.pdf, guide-2.pdf, ...
func uniqueName(name string, seen map[string]bool) string {
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; seen[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	seen[candidate] = true
	return candidate
}

func contentType(file string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(file))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
