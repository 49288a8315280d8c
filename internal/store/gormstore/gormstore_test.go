package gormstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/blogsmith/blogsmith/pkg/ledger"
)

func mustOpenDB(test *testing.T) *gorm.DB {
	test.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", test.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&UserCredit{}, &CreditTransaction{}, &ContentGeneration{}, &PaymentIntent{}); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return db
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func TestGetOrCreateBalanceGrantsOnceAndSticks(test *testing.T) {
	store := New(mustOpenDB(test))
	userID := mustUserID(test, "user-1")

	balance, err := store.GetOrCreateBalance(context.Background(), userID, 10, 1700000000)
	if err != nil {
		test.Fatalf("first lookup: %v", err)
	}
	if balance != 10 {
		test.Fatalf("expected grant of 10, got %d", balance)
	}

	if _, err := store.DecrementBalance(context.Background(), userID, 4, 1700000001); err != nil {
		test.Fatalf("decrement: %v", err)
	}
	balance, err = store.GetOrCreateBalance(context.Background(), userID, 10, 1700000002)
	if err != nil {
		test.Fatalf("second lookup: %v", err)
	}
	if balance != 6 {
		test.Fatalf("grant must not re-apply, got %d", balance)
	}
}

func TestDecrementBalanceRefusesOverdraw(test *testing.T) {
	store := New(mustOpenDB(test))
	userID := mustUserID(test, "user-1")
	if _, err := store.GetOrCreateBalance(context.Background(), userID, 3, 1700000000); err != nil {
		test.Fatalf("seed: %v", err)
	}

	_, err := store.DecrementBalance(context.Background(), userID, 5, 1700000001)
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	balance, err := store.GetOrCreateBalance(context.Background(), userID, 3, 1700000002)
	if err != nil {
		test.Fatalf("lookup: %v", err)
	}
	if balance != 3 {
		test.Fatalf("failed decrement must not change the balance, got %d", balance)
	}

	remaining, err := store.DecrementBalance(context.Background(), userID, 3, 1700000003)
	if err != nil {
		test.Fatalf("exact decrement: %v", err)
	}
	if remaining != 0 {
		test.Fatalf("expected zero remaining, got %d", remaining)
	}
}

func TestIncrementBalanceRequiresExistingRow(test *testing.T) {
	store := New(mustOpenDB(test))
	userID := mustUserID(test, "user-1")

	if _, err := store.IncrementBalance(context.Background(), userID, 100, 1700000000); err == nil {
		test.Fatalf("expected error for missing balance row")
	}

	if _, err := store.GetOrCreateBalance(context.Background(), userID, 10, 1700000001); err != nil {
		test.Fatalf("seed: %v", err)
	}
	balance, err := store.IncrementBalance(context.Background(), userID, 100, 1700000002)
	if err != nil {
		test.Fatalf("increment: %v", err)
	}
	if balance != 110 {
		test.Fatalf("expected 110, got %d", balance)
	}
}

func TestInsertAndListTransactionsNewestFirst(test *testing.T) {
	store := New(mustOpenDB(test))
	userID := mustUserID(test, "user-1")

	for index := 0; index < 3; index++ {
		input, err := ledger.NewTransactionInput(userID, ledger.TransactionCharge, 100, fmt.Sprintf("charge %d", index), fmt.Sprintf("pay_%d", index), int64(1700000000+index))
		if err != nil {
			test.Fatalf("input %d: %v", index, err)
		}
		if err := store.InsertTransaction(context.Background(), input); err != nil {
			test.Fatalf("insert %d: %v", index, err)
		}
	}

	transactions, err := store.ListTransactions(context.Background(), userID, 2)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactions) != 2 {
		test.Fatalf("expected limit of 2, got %d", len(transactions))
	}
	if transactions[0].ExternalReference != "pay_2" || transactions[1].ExternalReference != "pay_1" {
		test.Fatalf("expected newest first, got %s then %s", transactions[0].ExternalReference, transactions[1].ExternalReference)
	}
	if transactions[0].Type != ledger.TransactionCharge || transactions[0].Amount != 100 {
		test.Fatalf("unexpected row %+v", transactions[0])
	}
}

func TestInsertGenerationRoundTripsDraft(test *testing.T) {
	store := New(mustOpenDB(test))
	userID := mustUserID(test, "user-1")
	draft, err := ledger.NewContentDraft("coffee brewing", "A Guide to Brewing", "Grind fresh.", []string{"use the keyword early", "add alt text"})
	if err != nil {
		test.Fatalf("draft: %v", err)
	}
	creditsUsed, err := ledger.NewCreditAmount(1)
	if err != nil {
		test.Fatalf("credits: %v", err)
	}

	generationID, err := store.InsertGeneration(context.Background(), ledger.GenerationInput{
		UserID:         userID,
		Draft:          draft,
		CreditsUsed:    creditsUsed,
		CreatedUnixUTC: 1700000000,
	})
	if err != nil {
		test.Fatalf("insert: %v", err)
	}
	if generationID == "" {
		test.Fatalf("expected generated id")
	}

	generations, err := store.ListGenerations(context.Background(), userID, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(generations) != 1 {
		test.Fatalf("expected one generation, got %d", len(generations))
	}
	stored := generations[0]
	if stored.GenerationID != generationID || stored.Topic != "coffee brewing" || stored.Title != "A Guide to Brewing" {
		test.Fatalf("unexpected generation %+v", stored)
	}
	if len(stored.SEOTips) != 2 || stored.SEOTips[0] != "use the keyword early" {
		test.Fatalf("tips did not survive storage: %v", stored.SEOTips)
	}
	if stored.CreditsUsed != 1 {
		test.Fatalf("expected one credit used, got %d", stored.CreditsUsed)
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	store := New(mustOpenDB(test))
	userID := mustUserID(test, "user-1")
	if _, err := store.GetOrCreateBalance(context.Background(), userID, 10, 1700000000); err != nil {
		test.Fatalf("seed: %v", err)
	}

	injected := errors.New("abort")
	err := store.WithTx(context.Background(), func(ctx context.Context, txStore ledger.Store) error {
		if _, err := txStore.DecrementBalance(ctx, userID, 5, 1700000001); err != nil {
			return err
		}
		return injected
	})
	if !errors.Is(err, injected) {
		test.Fatalf("expected injected error, got %v", err)
	}

	balance, err := store.GetOrCreateBalance(context.Background(), userID, 10, 1700000002)
	if err != nil {
		test.Fatalf("lookup: %v", err)
	}
	if balance != 10 {
		test.Fatalf("rollback must restore the balance, got %d", balance)
	}
}

func TestLedgerServiceDebitOverSQLite(test *testing.T) {
	db := mustOpenDB(test)
	service, err := ledger.NewService(New(db), func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	userID := mustUserID(test, "user-1")
	one, err := ledger.NewCreditAmount(1)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	draft, err := ledger.NewContentDraft("tea", "All About Tea", "Steep gently.", nil)
	if err != nil {
		test.Fatalf("draft: %v", err)
	}

	result, err := service.Debit(context.Background(), userID, one, draft)
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if result.RemainingCredits != ledger.DefaultGrantCredits-1 {
		test.Fatalf("expected %d remaining, got %d", ledger.DefaultGrantCredits-1, result.RemainingCredits)
	}

	transactions, err := service.Transactions(context.Background(), userID, 10)
	if err != nil {
		test.Fatalf("transactions: %v", err)
	}
	if len(transactions) != 1 || transactions[0].Amount != -1 || transactions[0].Type != ledger.TransactionUse {
		test.Fatalf("unexpected audit rows %+v", transactions)
	}
	if transactions[0].ExternalReference != result.GenerationID {
		test.Fatalf("transaction must reference the generation row")
	}
}
