package ledger

import (
	"context"
	"errors"
	"testing"
)

type failingStore struct {
	Store
	err error
}

func (store failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.err
}

func (store failingStore) GetOrCreateBalance(context.Context, UserID, int64, int64) (int64, error) {
	return 0, store.err
}

func TestNewServiceRejectsNilDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}

func TestBalancePropagatesStoreFailures(test *testing.T) {
	test.Parallel()
	storageDown := errors.New("connection refused")
	service := mustNewService(test, failingStore{err: storageDown})

	_, err := service.Balance(context.Background(), mustUserID(test, "user"))
	if !errors.Is(err, storageDown) {
		test.Fatalf("expected storage error to propagate, got %v", err)
	}
}

func TestDebitPropagatesStoreFailures(test *testing.T) {
	test.Parallel()
	storageDown := errors.New("connection refused")
	service := mustNewService(test, failingStore{err: storageDown})

	_, err := service.Debit(context.Background(), mustUserID(test, "user"), mustCreditAmount(test, 1), mustDraft(test, "topic"))
	if !errors.Is(err, storageDown) {
		test.Fatalf("expected storage error to propagate, got %v", err)
	}
}

func TestCreditPropagatesStoreFailures(test *testing.T) {
	test.Parallel()
	storageDown := errors.New("connection refused")
	service := mustNewService(test, failingStore{err: storageDown})

	_, err := service.Credit(context.Background(), mustUserID(test, "user"), mustCreditAmount(test, 5), "ref", "desc")
	if !errors.Is(err, storageDown) {
		test.Fatalf("expected storage error to propagate, got %v", err)
	}
}
