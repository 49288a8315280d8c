package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/blogsmith/blogsmith/internal/checkout"
)

// IntentStore implements checkout.IntentStore using GORM. Status transitions
// are conditional single-statement updates so concurrent completions race
// safely: exactly one caller moves pending to completed.
type IntentStore struct {
	db *gorm.DB
}

// NewIntentStore returns an IntentStore backed by gorm.DB.
func NewIntentStore(db *gorm.DB) *IntentStore {
	return &IntentStore{db: db}
}

// CreateIntent persists a new pending intent.
func (store *IntentStore) CreateIntent(ctx context.Context, intent checkout.Intent) error {
	createdAt := time.Unix(intent.CreatedUnixUTC, 0).UTC()
	if intent.CreatedUnixUTC == 0 {
		createdAt = time.Now().UTC()
	}
	row := PaymentIntent{
		OrderID:     intent.OrderID,
		UserID:      intent.UserID,
		ProductID:   intent.ProductID,
		ProductName: intent.ProductName,
		Amount:      intent.Amount,
		Credits:     intent.Credits,
		Email:       intent.Email,
		Status:      intent.Status.String(),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if intent.PaymentKey != "" {
		value := intent.PaymentKey
		row.PaymentKey = &value
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return checkout.ErrOrderIDTaken
	}
	if err != nil {
		return fmt.Errorf("create intent %s: %w", intent.OrderID, err)
	}
	return nil
}

// GetIntent loads an intent by order id.
func (store *IntentStore) GetIntent(ctx context.Context, orderID string) (checkout.Intent, error) {
	var row PaymentIntent
	err := store.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return checkout.Intent{}, checkout.ErrIntentNotFound
	}
	if err != nil {
		return checkout.Intent{}, fmt.Errorf("get intent %s: %w", orderID, err)
	}
	return mapIntent(row)
}

// FindIntentByPaymentKey loads the intent a gateway payment was recorded
// against, newest first when keys were reused across orders.
func (store *IntentStore) FindIntentByPaymentKey(ctx context.Context, paymentKey string) (checkout.Intent, error) {
	var row PaymentIntent
	err := store.db.WithContext(ctx).
		Where("payment_key = ?", paymentKey).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return checkout.Intent{}, checkout.ErrIntentNotFound
	}
	if err != nil {
		return checkout.Intent{}, fmt.Errorf("find intent by payment key: %w", err)
	}
	return mapIntent(row)
}

// CompleteIntent moves one pending intent to completed and records the
// payment key. Losers of a concurrent race get ErrIntentAlreadyCompleted.
func (store *IntentStore) CompleteIntent(ctx context.Context, orderID string, paymentKey string) error {
	result := store.db.WithContext(ctx).
		Model(&PaymentIntent{}).
		Where("order_id = ? AND status = ?", orderID, checkout.IntentPending.String()).
		Updates(map[string]interface{}{
			"status":      checkout.IntentCompleted.String(),
			"payment_key": paymentKey,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("complete intent %s: %w", orderID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.explainSkippedTransition(ctx, orderID)
	}
	return nil
}

// CancelIntent moves one pending intent to cancelled.
func (store *IntentStore) CancelIntent(ctx context.Context, orderID string) error {
	result := store.db.WithContext(ctx).
		Model(&PaymentIntent{}).
		Where("order_id = ? AND status = ?", orderID, checkout.IntentPending.String()).
		Updates(map[string]interface{}{
			"status":     checkout.IntentCancelled.String(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("cancel intent %s: %w", orderID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.explainSkippedTransition(ctx, orderID)
	}
	return nil
}

// explainSkippedTransition re-reads an intent whose conditional update
// matched no row and maps its state to the precise sentinel.
func (store *IntentStore) explainSkippedTransition(ctx context.Context, orderID string) error {
	intent, err := store.GetIntent(ctx, orderID)
	if err != nil {
		return err
	}
	switch intent.Status {
	case checkout.IntentCompleted:
		return checkout.ErrIntentAlreadyCompleted
	case checkout.IntentCancelled:
		return checkout.ErrIntentClosed
	}
	return fmt.Errorf("intent %s in unexpected status %s", orderID, intent.Status)
}

func mapIntent(row PaymentIntent) (checkout.Intent, error) {
	status, err := checkout.ParseIntentStatus(row.Status)
	if err != nil {
		return checkout.Intent{}, err
	}
	paymentKey := ""
	if row.PaymentKey != nil {
		paymentKey = *row.PaymentKey
	}
	return checkout.Intent{
		OrderID:        row.OrderID,
		UserID:         row.UserID,
		ProductID:      row.ProductID,
		ProductName:    row.ProductName,
		Amount:         row.Amount,
		Credits:        row.Credits,
		Email:          row.Email,
		Status:         status,
		PaymentKey:     paymentKey,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}
