package ledger

import "errors"

var (
	// ErrAccessDenied means no subscription, no free uses and too few credits.
	ErrAccessDenied = errors.New("ledger: access denied")
	// ErrDuplicateCharge means the external charge id was already applied.
	ErrDuplicateCharge = errors.New("ledger: duplicate charge")
	ErrPaymentNotFound = errors.New("ledger: payment not found")
	ErrInvalidAmount   = errors.New("ledger: amount must be positive")
	ErrConflict        = errors.New("ledger: concurrent update")
)
