package ledger

import (
	"context"
	"fmt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the user's current credits, creating the balance row with
// the default grant on first access.
func (service *Service) Balance(ctx context.Context, userID UserID) (int64, error) {
	balance, err := service.store.GetOrCreateBalance(ctx, userID, DefaultGrantCredits, service.nowFn())
	if err != nil {
		return 0, err
	}
	if balance < 0 {
		return 0, WrapError("service", "balance", "negative_balance", ErrInvalidBalance)
	}
	return balance, nil
}

// Debit atomically decrements the balance, persists the generated content,
// and appends one "use" transaction. All three effects commit together or
// not at all; the store's conditional decrement is the overdraft guard.
func (service *Service) Debit(ctx context.Context, userID UserID, amount CreditAmount, draft ContentDraft) (DebitResult, error) {
	var result DebitResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		nowUnixUTC := service.nowFn()
		balance, err := transactionStore.GetOrCreateBalance(ctx, userID, DefaultGrantCredits, nowUnixUTC)
		if err != nil {
			return err
		}
		if balance < amount.Int64() {
			return ErrInsufficientCredits
		}
		remaining, err := transactionStore.DecrementBalance(ctx, userID, amount.Int64(), nowUnixUTC)
		if err != nil {
			return err
		}
		generationID, err := transactionStore.InsertGeneration(ctx, GenerationInput{
			UserID:         userID,
			Draft:          draft,
			CreditsUsed:    amount,
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		transactionInput, err := NewTransactionInput(
			userID,
			TransactionUse,
			-amount.Int64(),
			fmt.Sprintf("content generation: %s", draft.Topic),
			generationID,
			nowUnixUTC,
		)
		if err != nil {
			return err
		}
		if err := transactionStore.InsertTransaction(ctx, transactionInput); err != nil {
			return err
		}
		result = DebitResult{GenerationID: generationID, RemainingCredits: remaining}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:         operationDebit,
		UserID:            userID,
		Amount:            -amount.Int64(),
		ExternalReference: result.GenerationID,
		Error:             operationError,
	})
	return result, operationError
}

// Credit atomically increments the balance and appends one "charge"
// transaction. Deduplication by external reference is the caller's job.
func (service *Service) Credit(ctx context.Context, userID UserID, amount CreditAmount, externalReference string, description string) (int64, error) {
	var newBalance int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		nowUnixUTC := service.nowFn()
		if _, err := transactionStore.GetOrCreateBalance(ctx, userID, DefaultGrantCredits, nowUnixUTC); err != nil {
			return err
		}
		balance, err := transactionStore.IncrementBalance(ctx, userID, amount.Int64(), nowUnixUTC)
		if err != nil {
			return err
		}
		transactionInput, err := NewTransactionInput(
			userID,
			TransactionCharge,
			amount.Int64(),
			description,
			externalReference,
			nowUnixUTC,
		)
		if err != nil {
			return err
		}
		if err := transactionStore.InsertTransaction(ctx, transactionInput); err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:         operationCredit,
		UserID:            userID,
		Amount:            amount.Int64(),
		ExternalReference: externalReference,
		Error:             operationError,
	})
	return newBalance, operationError
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
