package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/webhooks/payments"),
		attribute.String("payment.signature", "abc"),
		attribute.String("customer_email", "a@b.c"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorRedactsCredentials(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(errors.New("bad signature=deadbeef")), "redacted error")
	assert.EqualError(t, SafeError(errors.New("payment_not_found")), "payment_not_found")
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 1.0, clampRatio(4))
	assert.Equal(t, 0.25, clampRatio(0.25))
}
