package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blogsmith/blogsmith/internal/checkout"
)

const (
	sqlInsertIntent = `
		insert into payment_intents(
			order_id, user_id, product_id, product_name, amount, credits, email, status, payment_key, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, nullif($9,''), to_timestamp($10), to_timestamp($10))
	`

	sqlSelectIntent = `
		select order_id, user_id, product_id, product_name, amount, credits,
			coalesce(email,''), status::text, coalesce(payment_key,''),
			extract(epoch from created_at)::bigint
		from payment_intents
		where order_id = $1
	`

	sqlSelectIntentByPaymentKey = `
		select order_id, user_id, product_id, product_name, amount, credits,
			coalesce(email,''), status::text, coalesce(payment_key,''),
			extract(epoch from created_at)::bigint
		from payment_intents
		where payment_key = $1
		order by created_at desc
		limit 1
	`

	sqlCompleteIntent = `
		update payment_intents
		set status = 'completed', payment_key = $2, updated_at = now()
		where order_id = $1 and status = 'pending'
	`

	sqlCancelIntent = `
		update payment_intents
		set status = 'cancelled', updated_at = now()
		where order_id = $1 and status = 'pending'
	`
)

// IntentStore implements checkout.IntentStore over a pgx pool. Completion and
// cancellation are conditional updates: exactly one concurrent caller wins
// the pending transition.
type IntentStore struct {
	pool *pgxpool.Pool
}

// NewIntentStore returns an IntentStore backed by a pgx pool.
func NewIntentStore(pool *pgxpool.Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

func (store *IntentStore) CreateIntent(ctx context.Context, intent checkout.Intent) error {
	_, err := store.pool.Exec(ctx, sqlInsertIntent,
		intent.OrderID,
		intent.UserID,
		intent.ProductID,
		intent.ProductName,
		intent.Amount,
		intent.Credits,
		intent.Email,
		intent.Status.String(),
		intent.PaymentKey,
		intent.CreatedUnixUTC,
	)
	if isUniqueViolation(err) {
		return checkout.ErrOrderIDTaken
	}
	if err != nil {
		return fmt.Errorf("create intent %s: %w", intent.OrderID, err)
	}
	return nil
}

func (store *IntentStore) GetIntent(ctx context.Context, orderID string) (checkout.Intent, error) {
	return store.scanIntent(store.pool.QueryRow(ctx, sqlSelectIntent, orderID))
}

func (store *IntentStore) FindIntentByPaymentKey(ctx context.Context, paymentKey string) (checkout.Intent, error) {
	return store.scanIntent(store.pool.QueryRow(ctx, sqlSelectIntentByPaymentKey, paymentKey))
}

func (store *IntentStore) CompleteIntent(ctx context.Context, orderID string, paymentKey string) error {
	tag, err := store.pool.Exec(ctx, sqlCompleteIntent, orderID, paymentKey)
	if err != nil {
		return fmt.Errorf("complete intent %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.explainSkippedTransition(ctx, orderID)
	}
	return nil
}

func (store *IntentStore) CancelIntent(ctx context.Context, orderID string) error {
	tag, err := store.pool.Exec(ctx, sqlCancelIntent, orderID)
	if err != nil {
		return fmt.Errorf("cancel intent %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.explainSkippedTransition(ctx, orderID)
	}
	return nil
}

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

func (store *IntentStore) scanIntent(row pgx.Row) (checkout.Intent, error) {
	var (
		intent      checkout.Intent
		statusValue string
	)
	err := row.Scan(
		&intent.OrderID,
		&intent.UserID,
		&intent.ProductID,
		&intent.ProductName,
		&intent.Amount,
		&intent.Credits,
		&intent.Email,
		&statusValue,
		&intent.PaymentKey,
		&intent.CreatedUnixUTC,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return checkout.Intent{}, checkout.ErrIntentNotFound
	}
	if err != nil {
		return checkout.Intent{}, fmt.Errorf("scan intent: %w", err)
	}
	status, err := checkout.ParseIntentStatus(statusValue)
	if err != nil {
		return checkout.Intent{}, err
	}
	intent.Status = status
	return intent, nil
}
