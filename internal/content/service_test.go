package content

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/blogsmith/blogsmith/internal/generator"
	"github.com/blogsmith/blogsmith/pkg/ledger"
)

type stubGenerator struct {
	draft generator.Draft
	err   error
	block bool
	calls int
}

func (stub *stubGenerator) Generate(ctx context.Context, topic string) (generator.Draft, error) {
	stub.calls++
	if stub.block {
		<-ctx.Done()
		return generator.Draft{}, ctx.Err()
	}
	if stub.err != nil {
		return generator.Draft{}, stub.err
	}
	return stub.draft, nil
}

type stubLedger struct {
	debits      []ledger.ContentDraft
	remaining   int64
	debitErr    error
	generations []ledger.Generation
	lastLimit   int
}

func (stub *stubLedger) Debit(_ context.Context, _ ledger.UserID, amount ledger.CreditAmount, draft ledger.ContentDraft) (ledger.DebitResult, error) {
	if stub.debitErr != nil {
		return ledger.DebitResult{}, stub.debitErr
	}
	stub.debits = append(stub.debits, draft)
	stub.remaining -= amount.Int64()
	return ledger.DebitResult{GenerationID: "gen-1", RemainingCredits: stub.remaining}, nil
}

func (stub *stubLedger) Generations(_ context.Context, _ ledger.UserID, limit int) ([]ledger.Generation, error) {
	stub.lastLimit = limit
	return stub.generations, nil
}

func mustContentService(test *testing.T, contentGenerator generator.Generator, creditLedger Ledger, options ...Option) *Service {
	test.Helper()
	service, err := NewService(contentGenerator, creditLedger, zap.NewNop(), options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustUser(test *testing.T) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID("user-1")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func TestGenerateDebitsOneCreditAndStoresDraft(test *testing.T) {
	test.Parallel()
	stub := &stubGenerator{draft: generator.Draft{
		Title:   "All About Tea",
		Content: "Steep gently.",
		SEOTips: []string{"use the keyword"},
	}}
	creditLedger := &stubLedger{remaining: 10}
	service := mustContentService(test, stub, creditLedger)

	result, err := service.Generate(context.Background(), mustUser(test), "tea")
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if result.Title != "All About Tea" || result.Fallback {
		test.Fatalf("unexpected result %+v", result)
	}
	if result.RemainingCredits != 9 {
		test.Fatalf("expected 9 remaining, got %d", result.RemainingCredits)
	}
	if len(creditLedger.debits) != 1 || creditLedger.debits[0].Topic != "tea" {
		test.Fatalf("unexpected debit %+v", creditLedger.debits)
	}
}

func TestGenerateFallsBackWhenModelFailsAndStillDebits(test *testing.T) {
	test.Parallel()
	stub := &stubGenerator{err: errors.New("model unavailable")}
	creditLedger := &stubLedger{remaining: 10}
	service := mustContentService(test, stub, creditLedger)

	result, err := service.Generate(context.Background(), mustUser(test), "tea")
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if !result.Fallback {
		test.Fatalf("expected fallback draft")
	}
	if result.RemainingCredits != 9 || len(creditLedger.debits) != 1 {
		test.Fatalf("fallback drafts still cost a credit")
	}
}

func TestGenerateFallsBackWhenModelTimesOut(test *testing.T) {
	test.Parallel()
	stub := &stubGenerator{block: true}
	creditLedger := &stubLedger{remaining: 5}
	service := mustContentService(test, stub, creditLedger, WithGenerateTimeout(5*time.Millisecond))

	result, err := service.Generate(context.Background(), mustUser(test), "tea")
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if !result.Fallback || result.RemainingCredits != 4 {
		test.Fatalf("unexpected result %+v", result)
	}
}

func TestGenerateFallsBackWhenModelDraftIsInvalid(test *testing.T) {
	test.Parallel()
	stub := &stubGenerator{draft: generator.Draft{Title: "", Content: ""}}
	creditLedger := &stubLedger{remaining: 5}
	service := mustContentService(test, stub, creditLedger)

	result, err := service.Generate(context.Background(), mustUser(test), "tea")
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if !result.Fallback {
		test.Fatalf("expected fallback draft for invalid model output")
	}
}

func TestGenerateSurfacesInsufficientCredits(test *testing.T) {
	test.Parallel()
	stub := &stubGenerator{draft: generator.Draft{Title: "T", Content: "C"}}
	creditLedger := &stubLedger{debitErr: ledger.ErrInsufficientCredits}
	service := mustContentService(test, stub, creditLedger)

	_, err := service.Generate(context.Background(), mustUser(test), "tea")
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestGenerateRejectsEmptyTopic(test *testing.T) {
	test.Parallel()
	creditLedger := &stubLedger{}
	service := mustContentService(test, &stubGenerator{}, creditLedger)

	if _, err := service.Generate(context.Background(), mustUser(test), "   "); !errors.Is(err, ErrEmptyTopic) {
		test.Fatalf("expected ErrEmptyTopic, got %v", err)
	}
	if len(creditLedger.debits) != 0 {
		test.Fatalf("empty topic must not debit")
	}
}

func TestHistoryClampsLimit(test *testing.T) {
	test.Parallel()
	creditLedger := &stubLedger{}
	service := mustContentService(test, &stubGenerator{}, creditLedger)

	if _, err := service.History(context.Background(), mustUser(test), 0); err != nil {
		test.Fatalf("history: %v", err)
	}
	if creditLedger.lastLimit != defaultHistoryPageLimit {
		test.Fatalf("expected default limit, got %d", creditLedger.lastLimit)
	}
	if _, err := service.History(context.Background(), mustUser(test), 500); err != nil {
		test.Fatalf("history: %v", err)
	}
	if creditLedger.lastLimit != defaultHistoryPageLimit {
		test.Fatalf("expected clamped limit, got %d", creditLedger.lastLimit)
	}
}
