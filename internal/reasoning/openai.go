package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ricesearch/rice-eval/internal/metrics"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// OpenAIConfig configures an OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OpenAI is a Service backed by an OpenAI-compatible chat completions API.
type OpenAI struct {
	client  *openai.Client
	cfg     OpenAIConfig
	metrics *metrics.Metrics
}

// NewOpenAI creates a chat client. m may be nil.
func NewOpenAI(cfg OpenAIConfig, m *metrics.Metrics) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientConfig),
		cfg:     cfg,
		metrics: m,
	}, nil
}

// Complete sends messages and returns the first choice's content.
func (c *OpenAI) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.metrics.RecordReasoningCall(time.Since(start), "transport_error")
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		c.metrics.RecordReasoningCall(time.Since(start), "empty")
		return "", apperrors.ValidationError("no choices returned from reasoning service")
	}

	c.metrics.RecordReasoningCall(time.Since(start), "ok")
	return resp.Choices[0].Message.Content, nil
}

// classify maps client errors onto error kinds. Every failure to obtain a
// completion counts as transport, including 4xx responses other than
// rate limiting, which a later attempt may still clear.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperrors.TransportError("reasoning", err).
			WithDetail("status", fmt.Sprintf("%d", apiErr.HTTPStatusCode))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperrors.TransportError("reasoning", err).
			WithDetail("status", fmt.Sprintf("%d", reqErr.HTTPStatusCode))
	}
	return apperrors.TransportError("reasoning", err)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}
