package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrIntentNotFound         = errors.New("payment intent not found")
	ErrOrderIDTaken           = errors.New("order id already exists")
	ErrIntentAlreadyCompleted = errors.New("payment intent already completed")
	ErrIntentClosed           = errors.New("payment intent closed")
	ErrAmountMismatch         = errors.New("payment amount mismatch")
	ErrPaymentRejected        = errors.New("payment rejected by gateway")
	ErrInvalidRequest         = errors.New("invalid checkout request")
	ErrInvalidIntentStatus    = errors.New("invalid intent status")
	ErrInvalidServiceConfig   = errors.New("invalid checkout service config")
)

// ReconciliationError marks the severe case: the gateway captured funds but
// the local side (intent status or ledger credit) was not updated. It must
// never be presented as an ordinary payment failure — the fix is a backfill,
// not a user retry.
type ReconciliationError struct {
	OrderID    string
	PaymentKey string
	Err        error
}

// Error formats the reconciliation failure.
func (reconciliationError *ReconciliationError) Error() string {
	return fmt.Sprintf("payment %s captured for order %s but not reconciled: %v", reconciliationError.PaymentKey, reconciliationError.OrderID, reconciliationError.Err)
}

// Unwrap returns the underlying failure.
func (reconciliationError *ReconciliationError) Unwrap() error {
	return reconciliationError.Err
}
