package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/blogsmith/blogsmith/internal/gateway/toss"
	"github.com/blogsmith/blogsmith/pkg/ledger"
)

// IntentStatus defines the payment intent lifecycle. Completed and cancelled
// are terminal; no transition leaves either.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentCompleted IntentStatus = "completed"
	IntentCancelled IntentStatus = "cancelled"
)

// ParseIntentStatus validates a stored status value.
func ParseIntentStatus(raw string) (IntentStatus, error) {
	switch IntentStatus(raw) {
	case IntentPending, IntentCompleted, IntentCancelled:
		return IntentStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidIntentStatus, raw)
}

// String returns the stored representation.
func (status IntentStatus) String() string {
	return string(status)
}

// Terminal reports whether the status permits no further transitions.
func (status IntentStatus) Terminal() bool {
	return status == IntentCompleted || status == IntentCancelled
}

// Intent is a provisional record of an expected payment, created before the
// gateway confirms funds and retained indefinitely as audit trail.
type Intent struct {
	OrderID        string
	UserID         string
	ProductID      string
	ProductName    string
	Amount         int64
	Credits        int64
	Email          string
	Status         IntentStatus
	PaymentKey     string
	CreatedUnixUTC int64
}

// PrepareRequest is the validated input for starting a checkout.
type PrepareRequest struct {
	UserID      string
	Email       string
	ProductID   string
	ProductName string
	Amount      int64
	Credits     int64
}

// Validate checks the request before an intent is persisted.
func (request PrepareRequest) Validate() error {
	if strings.TrimSpace(request.UserID) == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	if strings.TrimSpace(request.ProductID) == "" {
		return fmt.Errorf("%w: missing product id", ErrInvalidRequest)
	}
	if strings.TrimSpace(request.ProductName) == "" {
		return fmt.Errorf("%w: missing product name", ErrInvalidRequest)
	}
	if request.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if request.Credits <= 0 {
		return fmt.Errorf("%w: credits must be positive", ErrInvalidRequest)
	}
	return nil
}

// Session is returned to the client to drive the gateway's hosted checkout.
type Session struct {
	OrderID       string
	Amount        int64
	ProductName   string
	ClientKey     string
	CustomerEmail string
}

// Receipt reports a completed payment. Duplicate marks a retried completion
// that was absorbed without crediting again.
type Receipt struct {
	OrderName string
	Credits   int64
	Duplicate bool
}

// IntentStore is the persistence contract for payment intents. Status
// transitions must be conditional single-statement updates so concurrent
// completions race safely (exactly one caller wins pending→completed).
type IntentStore interface {
	CreateIntent(ctx context.Context, intent Intent) error
	GetIntent(ctx context.Context, orderID string) (Intent, error)
	FindIntentByPaymentKey(ctx context.Context, paymentKey string) (Intent, error)
	CompleteIntent(ctx context.Context, orderID string, paymentKey string) error
	CancelIntent(ctx context.Context, orderID string) error
}

// Gateway is the outbound payment API surface the service depends on.
type Gateway interface {
	Confirm(ctx context.Context, orderID string, paymentKey string, amount int64) (toss.Payment, error)
	Cancel(ctx context.Context, paymentKey string, reason string) error
}

// CreditLedger is the slice of the ledger service used after capture.
type CreditLedger interface {
	Credit(ctx context.Context, userID ledger.UserID, amount ledger.CreditAmount, externalReference string, description string) (int64, error)
}
