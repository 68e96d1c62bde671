// Package embed turns query text into vectors for vector-database backends.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Embedder produces one dense vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAI is an Embedder backed by an OpenAI-compatible embeddings API.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI creates an embeddings client.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAI{client: openai.NewClientWithConfig(clientConfig), cfg: cfg}, nil
}

// Embed implements Embedder.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.cfg.Model),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.TransportError("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.BackendError(
			fmt.Sprintf("embedding service returned %d vectors for %d texts", len(resp.Data), len(texts)), nil)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, apperrors.BackendError(fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// One embeds a single text.
func One(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, apperrors.BackendError("embedding service returned no vector", nil)
	}
	return vecs[0], nil
}
