package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/blogsmith/blogsmith/pkg/ledger"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectBalance   = "balance"
	errorSubjectTxn       = "transaction"
	errorSubjectGen       = "generation"
	errorCodeCreate       = "create"
	errorCodeDecrement    = "decrement"
	errorCodeGet          = "get"
	errorCodeIncrement    = "increment"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeMissing      = "missing"
)

var errBalanceRowMissing = errors.New("balance row does not exist")

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetOrCreateBalance returns the user's balance, lazily inserting the signup
// grant row on first contact. Concurrent first contacts collapse onto the
// same row via the primary key.
func (store *Store) GetOrCreateBalance(ctx context.Context, userID ledger.UserID, grantCredits int64, nowUnixUTC int64) (int64, error) {
	var row UserCredit
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if err == nil {
		return row.Credits, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}

	now := time.Unix(nowUnixUTC, 0).UTC()
	row = UserCredit{
		UserID:    userID.String(),
		Credits:   grantCredits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	createErr := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(createErr) {
		// Another request granted the row first; read theirs.
		err = store.db.WithContext(ctx).
			Where("user_id = ?", userID.String()).
			Take(&row).Error
		if err != nil {
			return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
		}
		return row.Credits, nil
	}
	if createErr != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeCreate, createErr)
	}
	return row.Credits, nil
}

// DecrementBalance subtracts amount as a single conditional statement. Zero
// rows affected means the balance could not cover the amount.
func (store *Store) DecrementBalance(ctx context.Context, userID ledger.UserID, amount int64, nowUnixUTC int64) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&UserCredit{}).
		Where("user_id = ? AND credits >= ?", userID.String(), amount).
		Updates(map[string]interface{}{
			"credits":    gorm.Expr("credits - ?", amount),
			"updated_at": time.Unix(nowUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeDecrement, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeDecrement, ledger.ErrInsufficientCredits)
	}
	return store.readBalance(ctx, userID)
}

// IncrementBalance adds amount to an existing balance row.
func (store *Store) IncrementBalance(ctx context.Context, userID ledger.UserID, amount int64, nowUnixUTC int64) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&UserCredit{}).
		Where("user_id = ?", userID.String()).
		Updates(map[string]interface{}{
			"credits":    gorm.Expr("credits + ?", amount),
			"updated_at": time.Unix(nowUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeIncrement, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeMissing, errBalanceRowMissing)
	}
	return store.readBalance(ctx, userID)
}

// InsertTransaction appends one immutable audit row.
func (store *Store) InsertTransaction(ctx context.Context, input ledger.TransactionInput) error {
	row := CreditTransaction{
		UserID:            input.UserID.String(),
		Type:              input.Type.String(),
		Amount:            input.Amount,
		Description:       input.Description,
		ExternalReference: input.ExternalReference,
		CreatedAt:         time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectTxn, errorCodeInsert, err)
	}
	return nil
}

// InsertGeneration persists a content draft and returns its id.
func (store *Store) InsertGeneration(ctx context.Context, input ledger.GenerationInput) (string, error) {
	tips, err := json.Marshal(input.Draft.SEOTips)
	if err != nil {
		return "", wrapStoreError(errorSubjectGen, errorCodeInvalid, err)
	}
	row := ContentGeneration{
		UserID:      input.UserID.String(),
		Topic:       input.Draft.Topic,
		Title:       input.Draft.Title,
		Content:     input.Draft.Content,
		SEOTips:     tips,
		CreditsUsed: input.CreditsUsed.Int64(),
		CreatedAt:   time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapStoreError(errorSubjectGen, errorCodeInsert, err)
	}
	return row.GenerationID, nil
}

// ListTransactions returns a user's audit rows, newest first.
func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTxn, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transactionType, err := ledger.ParseTransactionType(row.Type)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTxn, errorCodeInvalid, err)
		}
		transactions = append(transactions, ledger.Transaction{
			TransactionID:     row.TransactionID,
			UserID:            row.UserID,
			Amount:            row.Amount,
			Type:              transactionType,
			Description:       row.Description,
			ExternalReference: row.ExternalReference,
			CreatedUnixUTC:    row.CreatedAt.Unix(),
		})
	}
	return transactions, nil
}

// ListGenerations returns a user's stored drafts, newest first.
func (store *Store) ListGenerations(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Generation, error) {
	var rows []ContentGeneration
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectGen, errorCodeList, err)
	}
	generations := make([]ledger.Generation, 0, len(rows))
	for _, row := range rows {
		var tips []string
		if len(row.SEOTips) > 0 {
			if err := json.Unmarshal(row.SEOTips, &tips); err != nil {
				return nil, wrapStoreError(errorSubjectGen, errorCodeInvalid, err)
			}
		}
		generations = append(generations, ledger.Generation{
			GenerationID:   row.GenerationID,
			UserID:         row.UserID,
			Topic:          row.Topic,
			Title:          row.Title,
			Content:        row.Content,
			SEOTips:        tips,
			CreditsUsed:    row.CreditsUsed,
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return generations, nil
}

func (store *Store) readBalance(ctx context.Context, userID ledger.UserID) (int64, error) {
	var row UserCredit
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return row.Credits, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
