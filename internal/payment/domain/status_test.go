package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGatewayStatus(t *testing.T) {
	cases := map[string]Status{
		"SUCCEEDED":   StatusSucceeded,
		" paid ":      StatusSucceeded,
		"00":          StatusSucceeded,
		"refused":     StatusFailed,
		"Canceled":    StatusCancelled,
		"expired":     StatusExpired,
		"in_progress": StatusProcessing,
	}
	for code, want := range cases {
		got, ok := ParseGatewayStatus(code)
		assert.Truef(t, ok, "code %q", code)
		assert.Equal(t, want, got)
	}

	_, ok := ParseGatewayStatus("refunded")
	assert.False(t, ok)
}

func TestCanTransition(t *testing.T) {
	terminal := []Status{StatusSucceeded, StatusFailed, StatusCancelled, StatusExpired}
	open := []Status{StatusPending, StatusInitiated, StatusProcessing}

	for _, from := range open {
		for _, to := range terminal {
			assert.Truef(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	for _, from := range terminal {
		for _, to := range append(open, terminal...) {
			assert.Falsef(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	assert.True(t, CanTransition(StatusPending, StatusInitiated))
	assert.False(t, CanTransition(StatusProcessing, StatusInitiated))
	assert.False(t, CanTransition(StatusProcessing, StatusProcessing))
	assert.True(t, CanTransition(StatusInitiated, StatusProcessing))
}
