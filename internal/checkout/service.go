package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blogsmith/blogsmith/internal/gateway/toss"
	"github.com/blogsmith/blogsmith/pkg/ledger"
)

const (
	orderIDAttempts     = 3
	orderSuffixLength   = 10
	defaultConfirmRetry = 2
	defaultRetryBackoff = 250 * time.Millisecond
)

// Service owns the payment intent lifecycle and the reconciliation flow that
// turns a gateway capture into exactly one ledger credit.
type Service struct {
	intents        IntentStore
	gateway        Gateway
	creditLedger   CreditLedger
	clientKey      string
	logger         *zap.Logger
	nowFn          func() time.Time
	suffixFn       func() string
	confirmRetries int
	retryBackoff   time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces the wall clock (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(service *Service) {
		service.nowFn = now
	}
}

// WithOrderSuffix replaces the random order id suffix source (tests).
func WithOrderSuffix(suffix func() string) ServiceOption {
	return func(service *Service) {
		service.suffixFn = suffix
	}
}

// WithConfirmRetry bounds the transient-error retry loop around gateway
// confirm calls.
func WithConfirmRetry(retries int, backoff time.Duration) ServiceOption {
	return func(service *Service) {
		service.confirmRetries = retries
		service.retryBackoff = backoff
	}
}

// NewService wires a checkout Service.
func NewService(intents IntentStore, gateway Gateway, creditLedger CreditLedger, clientKey string, logger *zap.Logger, options ...ServiceOption) (*Service, error) {
	if intents == nil {
		return nil, fmt.Errorf("%w: intent store is nil", ErrInvalidServiceConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway is nil", ErrInvalidServiceConfig)
	}
	if creditLedger == nil {
		return nil, fmt.Errorf("%w: credit ledger is nil", ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(clientKey) == "" {
		return nil, fmt.Errorf("%w: gateway client key is empty", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{
		intents:        intents,
		gateway:        gateway,
		creditLedger:   creditLedger,
		clientKey:      clientKey,
		logger:         logger,
		nowFn:          time.Now,
		suffixFn:       randomOrderSuffix,
		confirmRetries: defaultConfirmRetry,
		retryBackoff:   defaultRetryBackoff,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Prepare persists a pending intent and returns the session the client needs
// to open the gateway's hosted checkout.
func (service *Service) Prepare(ctx context.Context, request PrepareRequest) (Session, error) {
	if err := request.Validate(); err != nil {
		return Session{}, err
	}
	var lastErr error
	for attempt := 0; attempt < orderIDAttempts; attempt++ {
		orderID := service.newOrderID()
		intent := Intent{
			OrderID:        orderID,
			UserID:         request.UserID,
			ProductID:      request.ProductID,
			ProductName:    request.ProductName,
			Amount:         request.Amount,
			Credits:        request.Credits,
			Email:          request.Email,
			Status:         IntentPending,
			CreatedUnixUTC: service.nowFn().UTC().Unix(),
		}
		err := service.intents.CreateIntent(ctx, intent)
		if errors.Is(err, ErrOrderIDTaken) {
			lastErr = err
			continue
		}
		if err != nil {
			return Session{}, err
		}
		return Session{
			OrderID:       orderID,
			Amount:        request.Amount,
			ProductName:   request.ProductName,
			ClientKey:     service.clientKey,
			CustomerEmail: request.Email,
		}, nil
	}
	return Session{}, fmt.Errorf("order id generation exhausted: %w", lastErr)
}

// Complete reconciles a gateway-approved payment against the stored intent
// and credits the ledger at most once per order. Safe to call repeatedly with
// the same arguments: duplicates are absorbed by the intent status check.
func (service *Service) Complete(ctx context.Context, orderID string, paymentKey string, amount int64) (Receipt, error) {
	intent, err := service.intents.GetIntent(ctx, orderID)
	if err != nil {
		return Receipt{}, err
	}
	switch intent.Status {
	case IntentCancelled:
		return Receipt{}, fmt.Errorf("%w: order %s was cancelled", ErrIntentClosed, orderID)
	case IntentCompleted:
		service.logger.Warn("duplicate payment completion ignored",
			zap.String("order_id", orderID),
			zap.String("payment_key", paymentKey))
		return Receipt{OrderName: intent.ProductName, Credits: intent.Credits, Duplicate: true}, nil
	}
	if intent.Amount != amount {
		return Receipt{}, fmt.Errorf("%w: order %s expects %d, caller sent %d", ErrAmountMismatch, orderID, intent.Amount, amount)
	}

	if _, err := service.confirmWithRetry(ctx, orderID, paymentKey, amount); err != nil {
		return Receipt{}, err
	}

	// The gateway has captured funds. From here on, any local failure is a
	// reconciliation problem, not a payment failure.
	if err := service.intents.CompleteIntent(ctx, orderID, paymentKey); err != nil {
		if errors.Is(err, ErrIntentAlreadyCompleted) {
			service.logger.Warn("intent completed concurrently, skipping credit",
				zap.String("order_id", orderID))
			return Receipt{OrderName: intent.ProductName, Credits: intent.Credits, Duplicate: true}, nil
		}
		return Receipt{}, service.reconciliationFailure(orderID, paymentKey, "intent not marked completed", err)
	}

	userID, err := ledger.NewUserID(intent.UserID)
	if err != nil {
		return Receipt{}, service.reconciliationFailure(orderID, paymentKey, "stored intent has invalid user id", err)
	}
	credits, err := ledger.NewCreditAmount(intent.Credits)
	if err != nil {
		return Receipt{}, service.reconciliationFailure(orderID, paymentKey, "stored intent has invalid credits", err)
	}
	description := fmt.Sprintf("charge for order %s", orderID)
	if _, err := service.creditLedger.Credit(ctx, userID, credits, paymentKey, description); err != nil {
		return Receipt{}, service.reconciliationFailure(orderID, paymentKey, "credits not applied", err)
	}
	return Receipt{OrderName: intent.ProductName, Credits: intent.Credits}, nil
}

// Cancel voids the payment at the gateway, then best-effort closes the local
// intent. The gateway cancellation is authoritative: local bookkeeping
// failures are logged and ignored, never reversed.
func (service *Service) Cancel(ctx context.Context, paymentKey string, reason string) error {
	if strings.TrimSpace(paymentKey) == "" {
		return fmt.Errorf("%w: missing payment key", ErrInvalidRequest)
	}
	if err := service.gateway.Cancel(ctx, paymentKey, reason); err != nil {
		return err
	}
	intent, err := service.intents.FindIntentByPaymentKey(ctx, paymentKey)
	if err != nil {
		service.logger.Warn("cancelled payment has no matching intent",
			zap.String("payment_key", paymentKey),
			zap.Error(err))
		return nil
	}
	if err := service.intents.CancelIntent(ctx, intent.OrderID); err != nil {
		service.logger.Warn("intent not marked cancelled",
			zap.String("order_id", intent.OrderID),
			zap.Error(err))
	}
	return nil
}

// Intent exposes a stored intent for the HTTP layer.
func (service *Service) Intent(ctx context.Context, orderID string) (Intent, error) {
	return service.intents.GetIntent(ctx, orderID)
}

func (service *Service) confirmWithRetry(ctx context.Context, orderID string, paymentKey string, amount int64) (toss.Payment, error) {
	var lastErr error
	for attempt := 0; attempt <= service.confirmRetries; attempt++ {
		if attempt > 0 {
			delay := service.retryBackoff << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return toss.Payment{}, ctx.Err()
			case <-timer.C:
			}
			service.logger.Warn("retrying gateway confirm",
				zap.String("order_id", orderID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
		}
		payment, err := service.gateway.Confirm(ctx, orderID, paymentKey, amount)
		if err == nil {
			return payment, nil
		}
		lastErr = err
		if !toss.IsTransient(err) {
			return toss.Payment{}, fmt.Errorf("%w: %w", ErrPaymentRejected, err)
		}
	}
	return toss.Payment{}, lastErr
}

func (service *Service) reconciliationFailure(orderID string, paymentKey string, detail string, err error) error {
	reconciliationError := &ReconciliationError{OrderID: orderID, PaymentKey: paymentKey, Err: err}
	service.logger.Error("payment captured but not reconciled",
		zap.String("order_id", orderID),
		zap.String("payment_key", paymentKey),
		zap.String("detail", detail),
		zap.Error(err))
	return reconciliationError
}

func (service *Service) newOrderID() string {
	return fmt.Sprintf("order_%d_%s", service.nowFn().UTC().UnixMilli(), service.suffixFn())
}

func randomOrderSuffix() string {
	compact := strings.ReplaceAll(uuid.NewString(), "-", "")
	return compact[:orderSuffixLength]
}
