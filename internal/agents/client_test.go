package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/models"
	"candle-quiz/internal/resilience"
	"candle-quiz/pkg/utils"
)

// scriptedLLM replays canned replies in order, repeating the last one.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *scriptedLLM) CompleteWithSystem(_ context.Context, _, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.replies)-1)
	s.calls++
	s.prompts = append(s.prompts, prompt)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.replies[i], err
}

type issueCounter struct {
	mu sync.Mutex
	n  int
}

func (c *issueCounter) GenIssue(context.Context) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func quickRetry() utils.RetryConfig {
	return utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

const itemJSON = `{"id":"ai-7","candles":[{"o":50,"h":51,"l":44,"c":45},{"o":44,"h":53,"l":43,"c":52}],"label":"bullish","rationale":["a","b"]}`

func TestRequestSingleRetriesUntilParsed(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"I cannot help with that", "```json\n" + itemJSON + "\n```"}}
	issues := &issueCounter{}
	client := NewGenerationClient(llm, quickRetry(), issues, zerolog.Nop())

	rc, err := client.RequestSingle(context.Background(), Params{Bars: 2, Horizon: 1, Difficulty: models.DifficultyEasy, Avoid: []string{"Doji"}}, nil)
	if err != nil {
		t.Fatalf("RequestSingle: %v", err)
	}
	if rc.ID == nil || *rc.ID != "ai-7" || len(rc.Candles) != 2 {
		t.Errorf("candidate = %+v", rc)
	}
	if llm.calls != 2 || issues.n != 1 {
		t.Errorf("calls %d issues %d, want 2/1", llm.calls, issues.n)
	}
	if !strings.Contains(llm.prompts[0], "avoid: Doji") || !strings.Contains(llm.prompts[0], "single JSON OBJECT") {
		t.Errorf("prompt = %q", llm.prompts[0])
	}
}

func TestRequestSingleRejectedCandidatesCountAsFailures(t *testing.T) {
	llm := &scriptedLLM{replies: []string{itemJSON}}
	client := NewGenerationClient(llm, quickRetry(), nil, zerolog.Nop())

	rejectErr := errors.New("bad geometry")
	_, err := client.RequestSingle(context.Background(), Params{}, func(models.RawCandidate) error { return rejectErr })

	var extErr *qerrors.ExternalError
	if !errors.As(err, &extErr) {
		t.Fatalf("err = %v, want ExternalError", err)
	}
	if extErr.Attempts != 3 || !errors.Is(err, rejectErr) || !errors.Is(err, qerrors.ErrExternalUnavailable) {
		t.Errorf("err = %+v", extErr)
	}
}

func TestRequestSingleSurfacesTransportError(t *testing.T) {
	overloaded := &qerrors.HTTPStatusError{Status: 503, Message: "overloaded"}
	llm := &scriptedLLM{replies: []string{""}, errs: []error{overloaded, overloaded, overloaded}}
	client := NewGenerationClient(llm, quickRetry(), nil, zerolog.Nop())

	_, err := client.RequestSingle(context.Background(), Params{}, nil)
	var status *qerrors.HTTPStatusError
	if !errors.As(err, &status) || status.Status != 503 {
		t.Fatalf("err = %v, want wrapped 503", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("message %q should mention the status", err.Error())
	}
}

func TestRequestBatch(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"[" + itemJSON + "," + itemJSON + "," + itemJSON + "]"}}
	client := NewGenerationClient(llm, quickRetry(), nil, zerolog.Nop())

	out, err := client.RequestBatch(context.Background(), Params{Count: 2})
	if err != nil {
		t.Fatalf("RequestBatch: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("len = %d, want 2", len(out))
	}
	if llm.calls != 1 {
		t.Errorf("batch should not retry, calls = %d", llm.calls)
	}
	if !strings.Contains(llm.prompts[0], "JSON ARRAY of 2") {
		t.Errorf("prompt = %q", llm.prompts[0])
	}

	failing := &scriptedLLM{replies: []string{"not json"}}
	issues := &issueCounter{}
	_, err = NewGenerationClient(failing, quickRetry(), issues, zerolog.Nop()).RequestBatch(context.Background(), Params{})
	if !errors.Is(err, qerrors.ErrInvalidJSON) || !errors.Is(err, qerrors.ErrExternalUnavailable) {
		t.Errorf("err = %v", err)
	}
	if issues.n != 1 || failing.calls != 1 {
		t.Errorf("issues %d calls %d, want 1/1", issues.n, failing.calls)
	}
}

func TestBatchPromptCapsCount(t *testing.T) {
	_, user := BatchPrompt(Params{Count: 99})
	if !strings.Contains(user, "JSON ARRAY of 20") {
		t.Errorf("prompt = %q", user)
	}
	_, user = SinglePrompt(Params{})
	if !strings.Contains(user, "avoid: None") {
		t.Errorf("prompt = %q", user)
	}
}

// countingGenerator fails every call.
type countingGenerator struct {
	calls int
}

func (c *countingGenerator) RequestSingle(context.Context, Params, func(models.RawCandidate) error) (models.RawCandidate, error) {
	c.calls++
	return models.RawCandidate{}, qerrors.NewExternalError("single", 1, errors.New("timeout"))
}

func (c *countingGenerator) RequestBatch(context.Context, Params) ([]models.RawCandidate, error) {
	c.calls++
	return nil, qerrors.NewExternalError("batch", 1, errors.New("timeout"))
}

func TestGuardedGeneratorFailsFastWhenOpen(t *testing.T) {
	inner := &countingGenerator{}
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	guarded := NewGuardedGenerator(inner, resilience.NewCircuitBreaker("external", cfg))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := guarded.RequestBatch(ctx, Params{}); err == nil {
			t.Fatal("expected failure")
		}
	}
	if guarded.Breaker().State() != resilience.CircuitOpen {
		t.Fatalf("state = %s, want OPEN", guarded.Breaker().State())
	}

	_, err := guarded.RequestSingle(ctx, Params{}, nil)
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, qerrors.ErrExternalUnavailable) {
		t.Errorf("err = %v, want open circuit as ExternalError", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}

func TestGuardedGeneratorIgnoresCancellation(t *testing.T) {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	guarded := NewGuardedGenerator(&cancelledGenerator{}, resilience.NewCircuitBreaker("external", cfg))

	if _, err := guarded.RequestBatch(context.Background(), Params{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if guarded.Breaker().State() != resilience.CircuitClosed {
		t.Error("a cancelled call should not open the circuit")
	}
}

type cancelledGenerator struct{}

func (cancelledGenerator) RequestSingle(context.Context, Params, func(models.RawCandidate) error) (models.RawCandidate, error) {
	return models.RawCandidate{}, context.Canceled
}

func (cancelledGenerator) RequestBatch(context.Context, Params) ([]models.RawCandidate, error) {
	return nil, qerrors.NewExternalError("batch", 1, context.Canceled)
}
