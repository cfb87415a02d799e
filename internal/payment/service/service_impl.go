package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	obslogger "github.com/smallbiznis/paysettle/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paysettle/internal/observability/metrics"
	"github.com/smallbiznis/paysettle/internal/payable"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	"github.com/smallbiznis/paysettle/pkg/db"
	"github.com/smallbiznis/paysettle/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultTTL = time.Hour

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       paymentdomain.Repository
	Payables   *payable.Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Ledger owns the payment record lifecycle and its event log.
type Ledger struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	payables   *payable.Registry
	obsMetrics *obsmetrics.Metrics
	ttl        time.Duration
}

func NewLedger(p Params) *Ledger {
	ttl := p.Cfg.Payment.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Ledger{
		db:         p.DB,
		log:        p.Log.Named("payment.ledger"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		payables:   p.Payables,
		obsMetrics: p.ObsMetrics,
		ttl:        ttl,
	}
}

func (s *Ledger) now() time.Time {
	return s.clock.Now().UTC()
}

// Create opens a pending payment for a registered payable.
func (s *Ledger) Create(ctx context.Context, req paymentdomain.CreatePaymentRequest) (*paymentdomain.PaymentRecord, error) {
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !currencyPattern.MatchString(currency) {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	payableType := strings.ToLower(strings.TrimSpace(req.PayableType))
	if req.PayableID <= 0 || !s.payables.Has(payableType) {
		return nil, paymentdomain.ErrUnknownPayable
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	record := &paymentdomain.PaymentRecord{
		ID:            s.genID.Generate(),
		Reference:     newReference(now),
		PayableType:   payableType,
		PayableID:     req.PayableID,
		Amount:        req.Amount,
		Currency:      currency,
		Channel:       strings.TrimSpace(req.Channel),
		Status:        paymentdomain.StatusPending,
		CustomerName:  strings.TrimSpace(req.Customer.Name),
		CustomerEmail: strings.TrimSpace(req.Customer.Email),
		CustomerPhone: strings.TrimSpace(req.Customer.Phone),
		ExpiresAt:     &expiresAt,
		Metadata:      datatypes.JSONMap(req.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return err
		}
		return s.repo.InsertEvent(ctx, tx, s.event(record, paymentdomain.EventTypePaymentCreated, map[string]any{
			"payable_type": record.PayableType,
			"payable_id":   record.PayableID,
			"amount":       record.Amount,
			"currency":     record.Currency,
		}, req.OriginIP, now))
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, paymentdomain.EventTypePaymentCreated)
	obslogger.WithPayment(s.log, record.Reference).Info("payment created",
		zap.String("payable_type", record.PayableType),
		zap.Int64("payable_id", record.PayableID),
		zap.Int64("amount", record.Amount),
		zap.String("currency", record.Currency),
	)
	return record, nil
}

// MarkInitiated binds the gateway session and moves pending to initiated.
// Repeating the call with the same session is a no-op.
func (s *Ledger) MarkInitiated(ctx context.Context, reference, sessionID string) (*paymentdomain.PaymentRecord, error) {
	reference = strings.TrimSpace(reference)
	sessionID = strings.TrimSpace(sessionID)
	if reference == "" {
		return nil, paymentdomain.ErrInvalidReference
	}
	if sessionID == "" {
		return nil, paymentdomain.ErrInvalidSession
	}

	var out *paymentdomain.PaymentRecord
	emitted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.repo.FindByReference(ctx, tx, reference, true)
		if err != nil {
			return err
		}
		if record == nil {
			return paymentdomain.ErrNotFound
		}
		if record.SessionID != nil && *record.SessionID == sessionID {
			out = record
			return nil
		}

		holder, err := s.repo.FindBySession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if holder != nil && holder.ID != record.ID {
			return paymentdomain.ErrDuplicateSession
		}
		if record.Status != paymentdomain.StatusPending {
			return paymentdomain.ErrInvalidTransition
		}

		now := s.now()
		ok, err := s.repo.SetSession(ctx, tx, record.ID, sessionID, now)
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				return paymentdomain.ErrDuplicateSession
			}
			return err
		}
		if !ok {
			return paymentdomain.ErrInvalidTransition
		}

		if err := s.repo.InsertEvent(ctx, tx, s.event(record, paymentdomain.EventTypePaymentInitiated, map[string]any{
			"session_id": sessionID,
		}, "", now)); err != nil {
			return err
		}

		record.SessionID = &sessionID
		record.Status = paymentdomain.StatusInitiated
		if record.InitializedAt == nil {
			record.InitializedAt = &now
		}
		record.UpdatedAt = now
		out = record
		emitted = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if emitted {
		s.obsMetrics.RecordPaymentEvent(ctx, paymentdomain.EventTypePaymentInitiated)
	}
	return out, nil
}

// ApplyCallback is the single entry point for authenticated gateway notifications.
// The counter increment, the status decision and the audit rows commit together;
// terminal records never change status again.
func (s *Ledger) ApplyCallback(ctx context.Context, req paymentdomain.CallbackRequest) (paymentdomain.ApplyResult, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return paymentdomain.ApplyResult{}, paymentdomain.ErrInvalidReference
	}
	switch req.Status {
	case paymentdomain.StatusProcessing, paymentdomain.StatusSucceeded, paymentdomain.StatusFailed,
		paymentdomain.StatusCancelled, paymentdomain.StatusExpired:
	default:
		return paymentdomain.ApplyResult{}, paymentdomain.ErrInvalidStatus
	}

	var (
		result  paymentdomain.ApplyResult
		emitted []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		emitted = emitted[:0]
		now := s.now()

		found, err := s.repo.IncrementNotification(ctx, tx, reference, now)
		if err != nil {
			return err
		}
		if !found {
			return paymentdomain.ErrNotFound
		}

		record, err := s.repo.FindByReference(ctx, tx, reference, true)
		if err != nil {
			return err
		}
		if record == nil {
			return paymentdomain.ErrNotFound
		}
		result = paymentdomain.ApplyResult{Record: record, Previous: record.Status}

		if err := s.repo.InsertEvent(ctx, tx, s.event(record, paymentdomain.EventTypeWebhookReceived, map[string]any{
			"status":             req.RawStatus,
			"claimed_status":     string(req.Status),
			"notification_count": record.NotificationCount,
			"fields":             withoutSignature(req.Fields),
		}, req.OriginIP, now)); err != nil {
			return err
		}
		emitted = append(emitted, paymentdomain.EventTypeWebhookReceived)

		if !paymentdomain.CanTransition(record.Status, req.Status) {
			result.Conflicting = record.Status.IsTerminal() && req.Status.IsTerminal() && record.Status != req.Status
			if err := s.repo.InsertEvent(ctx, tx, s.event(record, paymentdomain.EventTypeDuplicateNotification, map[string]any{
				"current_status":     string(record.Status),
				"claimed_status":     string(req.Status),
				"conflicting":        result.Conflicting,
				"notification_count": record.NotificationCount,
			}, req.OriginIP, now)); err != nil {
				return err
			}
			emitted = append(emitted, paymentdomain.EventTypeDuplicateNotification)
			return nil
		}

		next := *record
		next.Status = req.Status
		next.Metadata = mergeGatewayMetadata(record.Metadata, req)
		if next.Channel == "" {
			next.Channel = gatewayChannel(req.Fields)
		}
		switch req.Status {
		case paymentdomain.StatusSucceeded:
			if next.PaidAt == nil {
				next.PaidAt = &now
			}
		case paymentdomain.StatusCancelled:
			if next.CancelledAt == nil {
				next.CancelledAt = &now
			}
		}

		ok, err := s.repo.Transition(ctx, tx, &next, record.Status, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s changed underneath %s", paymentdomain.ErrInvalidTransition, reference, record.Status)
		}
		next.UpdatedAt = now

		if err := s.repo.InsertEvent(ctx, tx, s.event(&next, paymentdomain.EventTypeStatusTransition, map[string]any{
			"from":       string(record.Status),
			"to":         string(next.Status),
			"raw_status": req.RawStatus,
		}, req.OriginIP, now)); err != nil {
			return err
		}
		emitted = append(emitted, paymentdomain.EventTypeStatusTransition)

		result.Applied = true
		result.Record = &next
		return nil
	})
	if err != nil {
		return paymentdomain.ApplyResult{}, err
	}

	for _, eventType := range emitted {
		s.obsMetrics.RecordPaymentEvent(ctx, eventType)
	}

	log := obslogger.WithPayment(obslogger.WithContext(ctx, s.log), reference)
	switch {
	case result.Applied:
		log.Info("payment status transition",
			zap.String("from", string(result.Previous)),
			zap.String("to", string(result.Record.Status)),
			zap.Int("notification_count", result.Record.NotificationCount),
		)
	case result.Conflicting:
		log.Warn("conflicting terminal status ignored",
			zap.String("current", string(result.Previous)),
			zap.String("claimed", string(req.Status)),
			zap.Int("notification_count", result.Record.NotificationCount),
		)
	default:
		log.Info("duplicate payment notification",
			zap.String("status", string(result.Previous)),
			zap.Int("notification_count", result.Record.NotificationCount),
		)
	}
	return result, nil
}

// MarkExpired expires one pending or initiated payment whose deadline has passed.
func (s *Ledger) MarkExpired(ctx context.Context, reference string) (*paymentdomain.PaymentRecord, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, paymentdomain.ErrInvalidReference
	}

	var out *paymentdomain.PaymentRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.repo.FindByReference(ctx, tx, reference, true)
		if err != nil {
			return err
		}
		if record == nil {
			return paymentdomain.ErrNotFound
		}
		if record.Status != paymentdomain.StatusPending && record.Status != paymentdomain.StatusInitiated {
			return paymentdomain.ErrInvalidTransition
		}
		now := s.now()
		if record.ExpiresAt == nil || record.ExpiresAt.After(now) {
			return paymentdomain.ErrNotExpired
		}

		ok, err := s.repo.Expire(ctx, tx, record.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return paymentdomain.ErrInvalidTransition
		}

		previous := record.Status
		record.Status = paymentdomain.StatusExpired
		record.UpdatedAt = now
		if err := s.repo.InsertEvent(ctx, tx, s.event(record, paymentdomain.EventTypeStatusTransition, map[string]any{
			"from":   string(previous),
			"to":     string(paymentdomain.StatusExpired),
			"source": "expiry",
		}, "", now)); err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordPaymentEvent(ctx, paymentdomain.EventTypeStatusTransition)
	obslogger.WithPayment(s.log, reference).Info("payment expired")
	return out, nil
}

// ExpireDue sweeps up to limit overdue payments. Records that moved on in the
// meantime are skipped.
func (s *Ledger) ExpireDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	refs, err := s.repo.ListExpirable(ctx, s.db, s.now(), limit)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    []error
	)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := s.MarkExpired(ctx, ref)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, paymentdomain.ErrInvalidTransition), errors.Is(err, paymentdomain.ErrNotExpired):
		default:
			errs = append(errs, fmt.Errorf("expire %s: %w", ref, err))
		}
	}
	s.obsMetrics.RecordExpired(ctx, expired)
	return expired, errors.Join(errs...)
}

func (s *Ledger) Get(ctx context.Context, reference string) (*paymentdomain.PaymentRecord, error) {
	record, err := s.repo.FindByReference(ctx, s.db, strings.TrimSpace(reference), false)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return record, nil
}

func (s *Ledger) GetBySession(ctx context.Context, sessionID string) (*paymentdomain.PaymentRecord, error) {
	record, err := s.repo.FindBySession(ctx, s.db, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return record, nil
}

// Resolve looks a payment up by gateway session first, then by reference.
func (s *Ledger) Resolve(ctx context.Context, sessionID, reference string) (*paymentdomain.PaymentRecord, error) {
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		record, err := s.GetBySession(ctx, sessionID)
		if err == nil || !errors.Is(err, paymentdomain.ErrNotFound) {
			return record, err
		}
	}
	if reference = strings.TrimSpace(reference); reference != "" {
		return s.Get(ctx, reference)
	}
	return nil, paymentdomain.ErrNotFound
}

// AppendEvent writes an audit row outside of a status transition.
func (s *Ledger) AppendEvent(ctx context.Context, in paymentdomain.NewEvent) error {
	eventType := strings.TrimSpace(in.EventType)
	if eventType == "" {
		return errors.New("event type is required")
	}
	event := &paymentdomain.PaymentEvent{
		PaymentID: in.PaymentID,
		Reference: strings.TrimSpace(in.Reference),
		EventType: eventType,
		Payload:   encodePayload(in.Payload),
		OriginIP:  in.OriginIP,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertEvent(ctx, s.db, event); err != nil {
		return err
	}
	s.obsMetrics.RecordPaymentEvent(ctx, eventType)
	return nil
}

// Events pages through the audit trail of an existing payment.
func (s *Ledger) Events(ctx context.Context, reference string, page pagination.Pagination) ([]paymentdomain.PaymentEvent, pagination.PageInfo, error) {
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	record, err := s.Get(ctx, reference)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	limit := page.Limit()
	events, err := s.repo.ListEvents(ctx, s.db, record.ID, cursor.ID, limit+1)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return pagination.Page(events, limit, func(e paymentdomain.PaymentEvent) int64 { return e.ID })
}

// ListUndelivered returns succeeded payments paid more than olderThan ago
// that have no fulfillment outcome yet.
func (s *Ledger) ListUndelivered(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListUndelivered(ctx, s.db, s.now().Add(-olderThan), limit)
}

func (s *Ledger) event(record *paymentdomain.PaymentRecord, eventType string, payload map[string]any, originIP string, at time.Time) *paymentdomain.PaymentEvent {
	id := record.ID
	return &paymentdomain.PaymentEvent{
		PaymentID: &id,
		Reference: record.Reference,
		EventType: eventType,
		Payload:   encodePayload(payload),
		OriginIP:  originIP,
		CreatedAt: at,
	}
}

func encodePayload(payload map[string]any) datatypes.JSON {
	if len(payload) == 0 {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

func newReference(at time.Time) string {
	return "PAY-" + ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

func withoutSignature(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if strings.EqualFold(k, "signature") {
			continue
		}
		out[k] = v
	}
	return out
}

func gatewayChannel(fields map[string]string) string {
	for _, key := range []string{"channel", "payment_method"} {
		if v := strings.TrimSpace(fields[key]); v != "" {
			return v
		}
	}
	return ""
}

func mergeGatewayMetadata(current datatypes.JSONMap, req paymentdomain.CallbackRequest) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range current {
		out[k] = v
	}
	if raw := strings.TrimSpace(req.RawStatus); raw != "" {
		out["gateway_status"] = raw
	}
	for _, key := range []string{"transaction_id", "operator_id", "payment_method"} {
		if v := strings.TrimSpace(req.Fields[key]); v != "" {
			out["gateway_"+key] = v
		}
	}
	return out
}
