package ledger

// DefaultGrantCredits is the balance a user starts with the first time their
// balance row is touched.
const DefaultGrantCredits int64 = 10

const (
	operationDebit  = "debit"
	operationCredit = "credit"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
