package domain

import "errors"

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrUnknownPayable    = errors.New("unknown_payable")
	ErrInvalidReference  = errors.New("invalid_reference")
	ErrInvalidSession    = errors.New("invalid_session")
	ErrDuplicateSession  = errors.New("duplicate_session")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrNotExpired        = errors.New("payment_not_expired")
	ErrNotFound          = errors.New("payment_not_found")
	ErrAlreadyPaid       = errors.New("payable_already_paid")
)
