package ledger

import "context"

// Transactions lists the user's audit log, newest first.
func (service *Service) Transactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return service.store.ListTransactions(ctx, userID, limit)
}

// Generations lists the user's generated content, newest first.
func (service *Service) Generations(ctx context.Context, userID UserID, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return service.store.ListGenerations(ctx, userID, limit)
}

const defaultHistoryLimit = 50
