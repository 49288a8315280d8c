// Package content orchestrates draft generation against the credit ledger:
// one generated post costs one credit, charged only when a draft is stored.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blogsmith/blogsmith/internal/generator"
	"github.com/blogsmith/blogsmith/pkg/ledger"
)

const (
	generationCost          = 1
	defaultGenerateTimeout  = 45 * time.Second
	defaultHistoryPageLimit = 50
)

var (
	ErrEmptyTopic           = errors.New("topic is empty")
	ErrInvalidServiceConfig = errors.New("invalid content service config")
)

// Ledger is the slice of the credit ledger the content service uses.
type Ledger interface {
	Debit(ctx context.Context, userID ledger.UserID, amount ledger.CreditAmount, draft ledger.ContentDraft) (ledger.DebitResult, error)
	Generations(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Generation, error)
}

// Result is a stored draft plus the balance it left behind.
type Result struct {
	GenerationID     string
	Topic            string
	Title            string
	Content          string
	SEOTips          []string
	RemainingCredits int64
	Fallback         bool
}

// Service generates drafts and debits the ledger for them.
type Service struct {
	generator generator.Generator
	ledger    Ledger
	logger    *zap.Logger
	timeout   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithGenerateTimeout bounds the model call. The fallback draft takes over
// when the deadline passes.
func WithGenerateTimeout(timeout time.Duration) Option {
	return func(service *Service) {
		if timeout > 0 {
			service.timeout = timeout
		}
	}
}

// NewService wires a content Service.
func NewService(contentGenerator generator.Generator, creditLedger Ledger, logger *zap.Logger, options ...Option) (*Service, error) {
	if contentGenerator == nil {
		return nil, fmt.Errorf("%w: generator is nil", ErrInvalidServiceConfig)
	}
	if creditLedger == nil {
		return nil, fmt.Errorf("%w: ledger is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{
		generator: contentGenerator,
		ledger:    creditLedger,
		logger:    logger,
		timeout:   defaultGenerateTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Generate produces a draft for the topic and debits one credit. A failed or
// timed-out model call degrades to the templated fallback draft; the debit
// still applies because a draft is stored either way. Insufficient credits
// surface before anything is persisted.
func (service *Service) Generate(ctx context.Context, userID ledger.UserID, topic string) (Result, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Result{}, ErrEmptyTopic
	}

	draft, usedFallback := service.draftFor(ctx, topic)
	validated, err := ledger.NewContentDraft(topic, draft.Title, draft.Content, draft.SEOTips)
	if err != nil {
		service.logger.Warn("model draft failed validation, using fallback",
			zap.String("topic", topic),
			zap.Error(err))
		fallback := generator.FallbackDraft(topic)
		validated, err = ledger.NewContentDraft(topic, fallback.Title, fallback.Content, fallback.SEOTips)
		if err != nil {
			return Result{}, err
		}
		usedFallback = true
	}

	cost, err := ledger.NewCreditAmount(generationCost)
	if err != nil {
		return Result{}, err
	}
	debit, err := service.ledger.Debit(ctx, userID, cost, validated)
	if err != nil {
		return Result{}, err
	}
	return Result{
		GenerationID:     debit.GenerationID,
		Topic:            validated.Topic,
		Title:            validated.Title,
		Content:          validated.Content,
		SEOTips:          validated.SEOTips,
		RemainingCredits: debit.RemainingCredits,
		Fallback:         usedFallback,
	}, nil
}

// History lists a user's stored drafts, newest first.
func (service *Service) History(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Generation, error) {
	if limit <= 0 || limit > defaultHistoryPageLimit {
		limit = defaultHistoryPageLimit
	}
	return service.ledger.Generations(ctx, userID, limit)
}

func (service *Service) draftFor(ctx context.Context, topic string) (generator.Draft, bool) {
	generateCtx, cancel := context.WithTimeout(ctx, service.timeout)
	defer cancel()

	draft, err := service.generator.Generate(generateCtx, topic)
	if err == nil {
		return draft, false
	}
	service.logger.Warn("draft generation failed, using fallback",
		zap.String("topic", topic),
		zap.Error(err))
	return generator.FallbackDraft(topic), true
}
