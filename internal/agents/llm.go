// Package agents talks to the external item-generation service.
package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	qerrors "candle-quiz/internal/errors"
)

// LLMClient defines the interface for LLM interactions.
type LLMClient interface {
	// Complete sends a prompt to the LLM and returns the response.
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, system, prompt string) (string, error)
}

// OpenAIClient implements LLMClient using an OpenAI-compatible API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	APIKey  string
	Model   string
	BaseURL string // empty uses the OpenAI default
	Timeout time.Duration
}

// NewOpenAIClient creates a new OpenAI LLM client.
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		timeout: opts.Timeout,
	}
}

// Complete sends a prompt to the LLM and returns the response.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	})
}

// CompleteWithSystem sends a prompt with system message to the LLM.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	})
}

func (c *OpenAIClient) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", statusError(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// statusError lifts the HTTP status out of go-openai's error types so
// callers can tell overload from other failures.
func statusError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &qerrors.HTTPStatusError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &qerrors.HTTPStatusError{Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}
