package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubStore is an in-memory Store with snapshot rollback so WithTx behaves
// atomically, the way a real database transaction does.
type stubStore struct {
	mu           sync.Mutex
	balances     map[string]int64
	transactions []Transaction
	generations  []Generation
	nextID       int

	failGeneration  error
	failTransaction error
	failDecrement   error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{balances: map[string]int64{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	backupBalances := make(map[string]int64, len(store.balances))
	for key, value := range store.balances {
		backupBalances[key] = value
	}
	backupTransactions := len(store.transactions)
	backupGenerations := len(store.generations)

	if err := fn(ctx, (*stubTxStore)(store)); err != nil {
		store.balances = backupBalances
		store.transactions = store.transactions[:backupTransactions]
		store.generations = store.generations[:backupGenerations]
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateBalance(ctx context.Context, userID UserID, grantCredits int64, nowUnixUTC int64) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubTxStore)(store).GetOrCreateBalance(ctx, userID, grantCredits, nowUnixUTC)
}

func (store *stubStore) DecrementBalance(ctx context.Context, userID UserID, amount int64, nowUnixUTC int64) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubTxStore)(store).DecrementBalance(ctx, userID, amount, nowUnixUTC)
}

func (store *stubStore) IncrementBalance(ctx context.Context, userID UserID, amount int64, nowUnixUTC int64) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubTxStore)(store).IncrementBalance(ctx, userID, amount, nowUnixUTC)
}

func (store *stubStore) InsertTransaction(ctx context.Context, input TransactionInput) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubTxStore)(store).InsertTransaction(ctx, input)
}

func (store *stubStore) InsertGeneration(ctx context.Context, input GenerationInput) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubTxStore)(store).InsertGeneration(ctx, input)
}

func (store *stubStore) ListTransactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubTxStore)(store).ListTransactions(ctx, userID, limit)
}

func (store *stubStore) ListGenerations(ctx context.Context, userID UserID, limit int) ([]Generation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return (*stubTxStore)(store).ListGenerations(ctx, userID, limit)
}

// stubTxStore is the in-transaction view; the enclosing WithTx already holds
// the lock.
type stubTxStore stubStore

func (store *stubTxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubTxStore) GetOrCreateBalance(_ context.Context, userID UserID, grantCredits int64, _ int64) (int64, error) {
	balance, ok := store.balances[userID.String()]
	if !ok {
		store.balances[userID.String()] = grantCredits
		return grantCredits, nil
	}
	return balance, nil
}

func (store *stubTxStore) DecrementBalance(_ context.Context, userID UserID, amount int64, _ int64) (int64, error) {
	if store.failDecrement != nil {
		return 0, store.failDecrement
	}
	balance := store.balances[userID.String()]
	if balance < amount {
		return 0, ErrInsufficientCredits
	}
	store.balances[userID.String()] = balance - amount
	return balance - amount, nil
}

func (store *stubTxStore) IncrementBalance(_ context.Context, userID UserID, amount int64, _ int64) (int64, error) {
	store.balances[userID.String()] += amount
	return store.balances[userID.String()], nil
}

func (store *stubTxStore) InsertTransaction(_ context.Context, input TransactionInput) error {
	if store.failTransaction != nil {
		return store.failTransaction
	}
	store.nextID++
	store.transactions = append(store.transactions, Transaction{
		TransactionID:     fmt.Sprintf("tx-%d", store.nextID),
		UserID:            input.UserID.String(),
		Amount:            input.Amount,
		Type:              input.Type,
		Description:       input.Description,
		ExternalReference: input.ExternalReference,
		CreatedUnixUTC:    input.CreatedUnixUTC,
	})
	return nil
}

func (store *stubTxStore) InsertGeneration(_ context.Context, input GenerationInput) (string, error) {
	if store.failGeneration != nil {
		return "", store.failGeneration
	}
	store.nextID++
	generationID := fmt.Sprintf("gen-%d", store.nextID)
	store.generations = append(store.generations, Generation{
		GenerationID:   generationID,
		UserID:         input.UserID.String(),
		Topic:          input.Draft.Topic,
		Title:          input.Draft.Title,
		Content:        input.Draft.Content,
		SEOTips:        input.Draft.SEOTips,
		CreditsUsed:    input.CreditsUsed.Int64(),
		CreatedUnixUTC: input.CreatedUnixUTC,
	})
	return generationID, nil
}

func (store *stubTxStore) ListTransactions(_ context.Context, userID UserID, limit int) ([]Transaction, error) {
	listed := make([]Transaction, 0, limit)
	for i := len(store.transactions) - 1; i >= 0 && len(listed) < limit; i-- {
		if store.transactions[i].UserID == userID.String() {
			listed = append(listed, store.transactions[i])
		}
	}
	return listed, nil
}

func (store *stubTxStore) ListGenerations(_ context.Context, userID UserID, limit int) ([]Generation, error) {
	listed := make([]Generation, 0, limit)
	for i := len(store.generations) - 1; i >= 0 && len(listed) < limit; i-- {
		if store.generations[i].UserID == userID.String() {
			listed = append(listed, store.generations[i])
		}
	}
	return listed, nil
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustCreditAmount(test *testing.T, raw int64) CreditAmount {
	test.Helper()
	amount, err := NewCreditAmount(raw)
	if err != nil {
		test.Fatalf("credit amount %d: %v", raw, err)
	}
	return amount
}

func mustDraft(test *testing.T, topic string) ContentDraft {
	test.Helper()
	draft, err := NewContentDraft(topic, "Title: "+topic, "# "+topic+"\n\nBody.", []string{"tip one"})
	if err != nil {
		test.Fatalf("draft %q: %v", topic, err)
	}
	return draft
}
