package ledger

import (
	"context"
	"fmt"
	"strings"
)

// UserID identifies a balance owner.
type UserID struct {
	value string
}

// CreditAmount is a strictly positive number of credits.
type CreditAmount struct {
	value int64
}

// TransactionType enumerates the kinds of balance mutations.
type TransactionType string

const (
	TransactionCharge TransactionType = "charge"
	TransactionUse    TransactionType = "use"
	TransactionRefund TransactionType = "refund"
	TransactionBonus  TransactionType = "bonus"
)

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewCreditAmount validates an amount and ensures it is strictly positive.
func NewCreditAmount(raw int64) (CreditAmount, error) {
	if raw <= 0 {
		return CreditAmount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidCreditAmount)
	}
	return CreditAmount{value: raw}, nil
}

// Int64 returns the amount as a plain integer.
func (amount CreditAmount) Int64() int64 {
	return amount.value
}

// ParseTransactionType validates a stored transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionCharge, TransactionUse, TransactionRefund, TransactionBonus:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// SignMatches reports whether a signed amount carries the correct sign for
// the type. Debits (use) are negative; everything else is positive.
func (transactionType TransactionType) SignMatches(amount int64) bool {
	if transactionType == TransactionUse {
		return amount < 0
	}
	return amount > 0
}

// ContentDraft is the validated payload persisted alongside a debit.
type ContentDraft struct {
	Topic   string
	Title   string
	Content string
	SEOTips []string
}

// NewContentDraft validates a draft before it may be persisted.
func NewContentDraft(topic string, title string, content string, seoTips []string) (ContentDraft, error) {
	topic = strings.TrimSpace(topic)
	title = strings.TrimSpace(title)
	if topic == "" {
		return ContentDraft{}, fmt.Errorf("%w: empty topic", ErrInvalidContentDraft)
	}
	if title == "" {
		return ContentDraft{}, fmt.Errorf("%w: empty title", ErrInvalidContentDraft)
	}
	if strings.TrimSpace(content) == "" {
		return ContentDraft{}, fmt.Errorf("%w: empty content", ErrInvalidContentDraft)
	}
	tips := make([]string, 0, len(seoTips))
	for _, tip := range seoTips {
		trimmed := strings.TrimSpace(tip)
		if trimmed != "" {
			tips = append(tips, trimmed)
		}
	}
	return ContentDraft{Topic: topic, Title: title, Content: content, SEOTips: tips}, nil
}

// TransactionInput describes one row to append to the audit log.
type TransactionInput struct {
	UserID            UserID
	Type              TransactionType
	Amount            int64
	Description       string
	ExternalReference string
	CreatedUnixUTC    int64
}

// NewTransactionInput validates a transaction before it is appended.
func NewTransactionInput(userID UserID, transactionType TransactionType, amount int64, description string, externalReference string, createdUnixUTC int64) (TransactionInput, error) {
	if _, err := ParseTransactionType(transactionType.String()); err != nil {
		return TransactionInput{}, err
	}
	if amount == 0 {
		return TransactionInput{}, fmt.Errorf("%w: zero amount", ErrInvalidTransactionAmount)
	}
	if !transactionType.SignMatches(amount) {
		return TransactionInput{}, fmt.Errorf("%w: %s amount %d has wrong sign", ErrInvalidTransactionAmount, transactionType, amount)
	}
	return TransactionInput{
		UserID:            userID,
		Type:              transactionType,
		Amount:            amount,
		Description:       description,
		ExternalReference: externalReference,
		CreatedUnixUTC:    createdUnixUTC,
	}, nil
}

// GenerationInput describes one generated content row persisted with a debit.
type GenerationInput struct {
	UserID         UserID
	Draft          ContentDraft
	CreditsUsed    CreditAmount
	CreatedUnixUTC int64
}

// Transaction is a single immutable line in the audit log.
type Transaction struct {
	TransactionID     string
	UserID            string
	Amount            int64
	Type              TransactionType
	Description       string
	ExternalReference string
	CreatedUnixUTC    int64
}

// Generation is a stored content generation record.
type Generation struct {
	GenerationID   string
	UserID         string
	Topic          string
	Title          string
	Content        string
	SEOTips        []string
	CreditsUsed    int64
	CreatedUnixUTC int64
}

// DebitResult reports the outcome of a successful debit.
type DebitResult struct {
	GenerationID     string
	RemainingCredits int64
}

// Store is the persistence contract used by Service. Implementations must
// serialize balance mutations per user: DecrementBalance is a conditional
// "decrement if balance >= amount" executed as one statement, never a
// read-then-write across round trips.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateBalance(ctx context.Context, userID UserID, grantCredits int64, nowUnixUTC int64) (int64, error)
	DecrementBalance(ctx context.Context, userID UserID, amount int64, nowUnixUTC int64) (int64, error)
	IncrementBalance(ctx context.Context, userID UserID, amount int64, nowUnixUTC int64) (int64, error)
	InsertTransaction(ctx context.Context, input TransactionInput) error
	InsertGeneration(ctx context.Context, input GenerationInput) (string, error)
	ListTransactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error)
	ListGenerations(ctx context.Context, userID UserID, limit int) ([]Generation, error)
}
