package domain

import "strings"

var gatewayStatuses = map[string]Status{
	"succeeded":   StatusSucceeded,
	"success":     StatusSucceeded,
	"successful":  StatusSucceeded,
	"paid":        StatusSucceeded,
	"completed":   StatusSucceeded,
	"accepted":    StatusSucceeded,
	"00":          StatusSucceeded,
	"failed":      StatusFailed,
	"failure":     StatusFailed,
	"refused":     StatusFailed,
	"declined":    StatusFailed,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"expired":     StatusExpired,
	"processing":  StatusProcessing,
	"in_progress": StatusProcessing,
	"pending":     StatusProcessing,
}

// ParseGatewayStatus maps a gateway status code onto a ledger status.
// A gateway never moves a payment back to pending or initiated, so "pending"
// from the gateway means the charge is in flight.
func ParseGatewayStatus(code string) (Status, bool) {
	status, ok := gatewayStatuses[strings.ToLower(strings.TrimSpace(code))]
	return status, ok
}

// CanTransition reports whether a record in from may move to to.
// processing -> processing is not a transition.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() || !to.Valid() || from == to {
		return false
	}
	switch to {
	case StatusInitiated:
		return from == StatusPending
	case StatusProcessing:
		return from == StatusPending || from == StatusInitiated
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}
