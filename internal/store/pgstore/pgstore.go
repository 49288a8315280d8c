package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blogsmith/blogsmith/pkg/ledger"
)

const (
	pgUniqueViolationCode = "23505"
	errorOperationStore   = "store"
	errorSubjectBalance   = "balance"
	errorSubjectTxn       = "transaction"
	errorSubjectGen       = "generation"
	errorCodeBegin        = "begin"
	errorCodeCommit       = "commit"
	errorCodeDecrement    = "decrement"
	errorCodeGet          = "get"
	errorCodeIncrement    = "increment"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeMissing      = "missing"

	sqlInsertOrGetBalance = `
		insert into user_credits(user_id, credits, created_at, updated_at)
		values($1, $2, to_timestamp($3), to_timestamp($3))
		on conflict (user_id) do update set user_id = excluded.user_id
		returning credits
	`

	sqlDecrementBalance = `
		update user_credits
		set credits = credits - $2, updated_at = to_timestamp($3)
		where user_id = $1 and credits >= $2
		returning credits
	`

	sqlIncrementBalance = `
		update user_credits
		set credits = credits + $2, updated_at = to_timestamp($3)
		where user_id = $1
		returning credits
	`

	sqlInsertTransaction = `
		insert into credit_transactions(
			transaction_id, user_id, type, amount, description, external_reference, created_at
		)
		values(gen_random_uuid(), $1, $2, $3, $4, $5, to_timestamp($6))
	`

	sqlInsertGeneration = `
		insert into content_generations(
			generation_id, user_id, topic, title, content, seo_tips, credits_used, created_at
		)
		values(gen_random_uuid(), $1, $2, $3, $4, coalesce(nullif($5,''),'[]')::jsonb, $6, to_timestamp($7))
		returning generation_id
	`

	sqlListTransactions = `
		select
			transaction_id::text,
			user_id,
			type::text,
			amount,
			coalesce(description,''),
			coalesce(external_reference,''),
			extract(epoch from created_at)::bigint
		from credit_transactions
		where user_id = $1
		order by created_at desc
		limit $2
	`

	sqlListGenerations = `
		select
			generation_id::text,
			user_id,
			topic,
			title,
			content,
			coalesce(seo_tips::text,'[]'),
			credits_used,
			extract(epoch from created_at)::bigint
		from content_generations
		where user_id = $1
		order by created_at desc
		limit $2
	`
)

var errBalanceRowMissing = errors.New("balance row does not exist")

// querier is the slice of pgx shared by pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit
// outside WithTx).
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// WithTx executes fn within a transaction. Nested calls reuse the open
// transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTxn, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTxn, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateBalance(ctx context.Context, userID ledger.UserID, grantCredits int64, nowUnixUTC int64) (int64, error) {
	var credits int64
	err := store.q.QueryRow(ctx, sqlInsertOrGetBalance, userID.String(), grantCredits, nowUnixUTC).Scan(&credits)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return credits, nil
}

func (store *Store) DecrementBalance(ctx context.Context, userID ledger.UserID, amount int64, nowUnixUTC int64) (int64, error) {
	var credits int64
	err := store.q.QueryRow(ctx, sqlDecrementBalance, userID.String(), amount, nowUnixUTC).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeDecrement, ledger.ErrInsufficientCredits)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeDecrement, err)
	}
	return credits, nil
}

func (store *Store) IncrementBalance(ctx context.Context, userID ledger.UserID, amount int64, nowUnixUTC int64) (int64, error) {
	var credits int64
	err := store.q.QueryRow(ctx, sqlIncrementBalance, userID.String(), amount, nowUnixUTC).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeMissing, errBalanceRowMissing)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeIncrement, err)
	}
	return credits, nil
}

func (store *Store) InsertTransaction(ctx context.Context, input ledger.TransactionInput) error {
	_, err := store.q.Exec(ctx, sqlInsertTransaction,
		input.UserID.String(),
		input.Type.String(),
		input.Amount,
		input.Description,
		input.ExternalReference,
		input.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectTxn, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) InsertGeneration(ctx context.Context, input ledger.GenerationInput) (string, error) {
	tips, err := json.Marshal(input.Draft.SEOTips)
	if err != nil {
		return "", wrapStoreError(errorSubjectGen, errorCodeInvalid, err)
	}
	var generationID string
	err = store.q.QueryRow(ctx, sqlInsertGeneration,
		input.UserID.String(),
		input.Draft.Topic,
		input.Draft.Title,
		input.Draft.Content,
		string(tips),
		input.CreditsUsed.Int64(),
		input.CreatedUnixUTC,
	).Scan(&generationID)
	if err != nil {
		return "", wrapStoreError(errorSubjectGen, errorCodeInsert, err)
	}
	return generationID, nil
}

func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	rows, err := store.q.Query(ctx, sqlListTransactions, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTxn, errorCodeList, err)
	}
	defer rows.Close()
	transactions := make([]ledger.Transaction, 0, limit)
	for rows.Next() {
		var (
			transaction ledger.Transaction
			typeValue   string
		)
		if err := rows.Scan(
			&transaction.TransactionID,
			&transaction.UserID,
			&typeValue,
			&transaction.Amount,
			&transaction.Description,
			&transaction.ExternalReference,
			&transaction.CreatedUnixUTC,
		); err != nil {
			return nil, wrapStoreError(errorSubjectTxn, errorCodeInvalid, err)
		}
		transactionType, err := ledger.ParseTransactionType(typeValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTxn, errorCodeInvalid, err)
		}
		transaction.Type = transactionType
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTxn, errorCodeList, err)
	}
	return transactions, nil
}

func (store *Store) ListGenerations(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Generation, error) {
	rows, err := store.q.Query(ctx, sqlListGenerations, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectGen, errorCodeList, err)
	}
	defer rows.Close()
	generations := make([]ledger.Generation, 0, limit)
	for rows.Next() {
		var (
			generation ledger.Generation
			tipsValue  string
		)
		if err := rows.Scan(
			&generation.GenerationID,
			&generation.UserID,
			&generation.Topic,
			&generation.Title,
			&generation.Content,
			&tipsValue,
			&generation.CreditsUsed,
			&generation.CreatedUnixUTC,
		); err != nil {
			return nil, wrapStoreError(errorSubjectGen, errorCodeInvalid, err)
		}
		if err := json.Unmarshal([]byte(tipsValue), &generation.SEOTips); err != nil {
			return nil, wrapStoreError(errorSubjectGen, errorCodeInvalid, err)
		}
		generations = append(generations, generation)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectGen, errorCodeList, err)
	}
	return generations, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
