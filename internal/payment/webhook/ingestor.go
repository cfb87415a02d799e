package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	obslogger "github.com/smallbiznis/paysettle/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paysettle/internal/observability/metrics"
	"github.com/smallbiznis/paysettle/internal/payable"
	payabledomain "github.com/smallbiznis/paysettle/internal/payable/domain"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	paymentservice "github.com/smallbiznis/paysettle/internal/payment/service"
	"github.com/smallbiznis/paysettle/internal/signature"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	OutcomeApplied          = "applied"
	OutcomeDuplicate        = "duplicate"
	OutcomeMalformed        = "malformed"
	OutcomeUnknownReference = "unknown_reference"
	OutcomeSignatureInvalid = "signature_invalid"
	OutcomeError            = "error"
)

// InboundCallback is a gateway notification as received, before any checks.
type InboundCallback struct {
	Fields   map[string]string
	OriginIP string
}

type AckResponse struct {
	HTTPStatus int
	Body       map[string]string
}

func ack() AckResponse {
	return AckResponse{HTTPStatus: http.StatusOK, Body: map[string]string{"status": "ok"}}
}

type Ledger interface {
	Resolve(ctx context.Context, sessionID, reference string) (*paymentdomain.PaymentRecord, error)
	ApplyCallback(ctx context.Context, req paymentdomain.CallbackRequest) (paymentdomain.ApplyResult, error)
	AppendEvent(ctx context.Context, in paymentdomain.NewEvent) error
}

type Payables interface {
	Resolve(ctx context.Context, tag string, id int64) (payabledomain.Payable, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     *paymentservice.Ledger
	Payables   *payable.Registry
	Codec      *signature.Codec
	Queue      fulfillmentdomain.Queue
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Ingestor struct {
	log        *zap.Logger
	ledger     Ledger
	payables   Payables
	codec      *signature.Codec
	queue      fulfillmentdomain.Queue
	obsMetrics *obsmetrics.Metrics
}

func NewIngestor(p Params) *Ingestor {
	return New(p.Log, p.Ledger, p.Payables, p.Codec, p.Queue, p.ObsMetrics)
}

func New(log *zap.Logger, ledger Ledger, payables Payables, codec *signature.Codec, queue fulfillmentdomain.Queue, m *obsmetrics.Metrics) *Ingestor {
	return &Ingestor{
		log:        log.Named("payment.webhook"),
		ledger:     ledger,
		payables:   payables,
		codec:      codec,
		queue:      queue,
		obsMetrics: m,
	}
}

// Handle authenticates a gateway callback and applies it to the ledger.
// Every callback that can be parsed is acknowledged with 200, whatever its
// outcome, so the gateway stops retrying. Only malformed input gets a 400.
func (i *Ingestor) Handle(ctx context.Context, in InboundCallback) (AckResponse, error) {
	fields := trimFields(in.Fields)
	reference := fields["reference"]
	sessionID := fields["session_id"]
	log := obslogger.WithContext(ctx, i.log).With(
		zap.String("session_id", sessionID),
		zap.String("origin_ip", in.OriginIP),
	)

	status, reason := parseStatus(fields)
	if reason == "" && reference == "" && sessionID == "" {
		reason = "missing_reference"
	}
	if reason != "" {
		i.orphan(ctx, log, firstNonEmpty(reference, sessionID), paymentdomain.EventTypeMalformedCallback, map[string]any{
			"reason": reason,
			"fields": withoutSignature(fields),
		}, in.OriginIP)
		i.obsMetrics.RecordCallback(ctx, OutcomeMalformed)
		log.Warn("malformed payment callback", zap.String("reason", reason), zap.String("reference", reference))
		return AckResponse{
			HTTPStatus: http.StatusBadRequest,
			Body:       map[string]string{"status": "error", "error": reason},
		}, nil
	}

	record, err := i.ledger.Resolve(ctx, sessionID, reference)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrNotFound) {
			i.orphan(ctx, log, firstNonEmpty(reference, sessionID), paymentdomain.EventTypeUnknownReference, map[string]any{
				"fields": withoutSignature(fields),
			}, in.OriginIP)
			i.obsMetrics.RecordCallback(ctx, OutcomeUnknownReference)
			log.Warn("payment callback for unknown reference", zap.String("reference", reference))
			return ack(), nil
		}
		i.obsMetrics.RecordCallback(ctx, OutcomeError)
		log.Error("resolve payment for callback", zap.String("reference", reference), zap.Error(err))
		return ack(), fmt.Errorf("resolve payment: %w", err)
	}

	log = obslogger.WithPayment(log, record.Reference)
	if !i.codec.Verify(signature.FromStrings(in.Fields)) {
		i.audit(ctx, log, record, paymentdomain.EventTypeSignatureInvalid, map[string]any{
			"fields": withoutSignature(fields),
		}, in.OriginIP)
		i.obsMetrics.RecordCallback(ctx, OutcomeSignatureInvalid)
		log.Warn("payment callback signature rejected")
		return ack(), nil
	}

	result, err := i.ledger.ApplyCallback(ctx, paymentdomain.CallbackRequest{
		Reference: record.Reference,
		Status:    status,
		RawStatus: fields["status"],
		Fields:    fields,
		OriginIP:  in.OriginIP,
	})
	if err != nil {
		i.obsMetrics.RecordCallback(ctx, OutcomeError)
		log.Error("apply payment callback", zap.Error(err))
		return ack(), fmt.Errorf("apply callback: %w", err)
	}
	if !result.Applied {
		i.obsMetrics.RecordCallback(ctx, OutcomeDuplicate)
		return ack(), nil
	}
	i.obsMetrics.RecordCallback(ctx, OutcomeApplied)

	if result.Record.Status != paymentdomain.StatusSucceeded {
		return ack(), nil
	}
	return ack(), i.complete(ctx, log, result.Record, in.OriginIP)
}

// complete runs the payable hook and queues fulfillment. Failures here never
// change the ack: the payment is already recorded as succeeded.
func (i *Ingestor) complete(ctx context.Context, log *zap.Logger, record *paymentdomain.PaymentRecord, originIP string) error {
	target, err := i.payables.Resolve(ctx, record.PayableType, record.PayableID)
	if err == nil {
		err = target.OnPaymentSucceeded(ctx, *record)
	}
	if err != nil {
		i.audit(ctx, log, record, paymentdomain.EventTypeCompletionFailed, map[string]any{
			"payable_type": record.PayableType,
			"payable_id":   record.PayableID,
			"error":        err.Error(),
		}, originIP)
		if errors.Is(err, payabledomain.ErrUnregisteredPayable) {
			return err
		}
		log.Error("payable completion hook failed", zap.String("payable_type", record.PayableType), zap.Error(err))
		return nil
	}

	if err := i.queue.Enqueue(ctx, record.Reference); err != nil {
		log.Error("enqueue fulfillment", zap.Error(err))
		return nil
	}
	i.audit(ctx, log, record, paymentdomain.EventTypeFulfillmentEnqueued, nil, originIP)
	return nil
}

func (i *Ingestor) audit(ctx context.Context, log *zap.Logger, record *paymentdomain.PaymentRecord, eventType string, payload map[string]any, originIP string) {
	id := record.ID
	i.append(ctx, log, &id, record.Reference, eventType, payload, originIP)
}

func (i *Ingestor) orphan(ctx context.Context, log *zap.Logger, reference, eventType string, payload map[string]any, originIP string) {
	i.append(ctx, log, nil, reference, eventType, payload, originIP)
}

func (i *Ingestor) append(ctx context.Context, log *zap.Logger, paymentID *snowflake.ID, reference, eventType string, payload map[string]any, originIP string) {
	err := i.ledger.AppendEvent(ctx, paymentdomain.NewEvent{
		PaymentID: paymentID,
		Reference: reference,
		EventType: eventType,
		Payload:   payload,
		OriginIP:  originIP,
	})
	if err != nil {
		log.Error("append payment event", zap.String("event_type", eventType), zap.Error(err))
	}
}

func parseStatus(fields map[string]string) (paymentdomain.Status, string) {
	raw := fields["status"]
	if raw == "" {
		return "", "missing_status"
	}
	status, ok := paymentdomain.ParseGatewayStatus(raw)
	if !ok {
		return "", "unknown_status"
	}
	return status, ""
}

func trimFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(v)
	}
	return out
}

func withoutSignature(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == signature.Field {
			continue
		}
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
