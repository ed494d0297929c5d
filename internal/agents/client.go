package agents

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/logging"
	"candle-quiz/internal/models"
	"candle-quiz/pkg/utils"
)

// IssueRecorder counts payloads that could not be parsed.
type IssueRecorder interface {
	GenIssue(ctx context.Context)
}

// Generator is the external item source as the session controller sees it.
type Generator interface {
	RequestSingle(ctx context.Context, p Params, accept func(models.RawCandidate) error) (models.RawCandidate, error)
	RequestBatch(ctx context.Context, p Params) ([]models.RawCandidate, error)
}

// GenerationClient requests quiz items from an LLM and coerces the
// replies into raw candidates.
type GenerationClient struct {
	llm    LLMClient
	retry  utils.RetryConfig
	issues IssueRecorder
	logger zerolog.Logger
}

// NewGenerationClient creates a client. issues may be nil.
func NewGenerationClient(llm LLMClient, retry utils.RetryConfig, issues IssueRecorder, logger zerolog.Logger) *GenerationClient {
	if retry.MaxAttempts <= 0 {
		retry = utils.DefaultRetryConfig()
	}
	return &GenerationClient{
		llm:    llm,
		retry:  retry,
		issues: issues,
		logger: logger.With().Str("component", "generation_client").Logger(),
	}
}

// RequestSingle asks for one item, retrying with exponential backoff.
// When accept is non-nil a candidate it rejects counts as a failed attempt.
func (g *GenerationClient) RequestSingle(ctx context.Context, p Params, accept func(models.RawCandidate) error) (models.RawCandidate, error) {
	system, user := SinglePrompt(p)
	attempts := 0

	rc, err := utils.RetryWithResult(ctx, g.retry, func() (models.RawCandidate, error) {
		attempts++
		payload, err := g.call(ctx, "single", system, user)
		if err != nil {
			return models.RawCandidate{}, err
		}
		rc, ok := CoerceSingle(payload)
		if !ok {
			g.issue(ctx)
			return models.RawCandidate{}, qerrors.Wrap(qerrors.ErrInvalidJSON, "expected an object")
		}
		if accept != nil {
			if err := accept(rc); err != nil {
				return models.RawCandidate{}, err
			}
		}
		return rc, nil
	})
	if err != nil {
		return models.RawCandidate{}, qerrors.NewExternalError("single", attempts, err)
	}
	return rc, nil
}

// RequestBatch asks for up to MaxBatch items in a single attempt.
func (g *GenerationClient) RequestBatch(ctx context.Context, p Params) ([]models.RawCandidate, error) {
	system, user := BatchPrompt(p)
	payload, err := g.call(ctx, "batch", system, user)
	if err != nil {
		return nil, qerrors.NewExternalError("batch", 1, err)
	}

	limit := p.Count
	if limit <= 0 || limit > MaxBatch {
		limit = MaxBatch
	}
	return CoerceBatch(payload, limit), nil
}

func (g *GenerationClient) call(ctx context.Context, op, system, user string) (any, error) {
	start := time.Now()
	text, err := g.llm.CompleteWithSystem(ctx, system, user)
	logging.LogAPICall(logging.WithOperation(g.logger, op), "POST", "chat/completions", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	payload, err := ExtractJSON(text)
	if err != nil {
		g.issue(ctx)
		return nil, err
	}
	return payload, nil
}

func (g *GenerationClient) issue(ctx context.Context) {
	if g.issues != nil {
		g.issues.GenIssue(ctx)
	}
}
