// Package synth writes search queries for documents that have none.
package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/metrics"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/reasoning"
	"github.com/ricesearch/rice-eval/internal/retry"
)

// Defaults.
const (
	DefaultMaxTokens = 1000
	DefaultDelay     = 2 * time.Second
	DefaultBackoff   = 30 * time.Second
)

const systemPrompt = `You are an assistant specialized in writing search queries.
Given an article, create one concise natural-language query, phrased the way a person would type it, that should retrieve this article.
Do not copy sentences from the article verbatim.
Return only the query, with no quotes, labels or explanation.`

const userPrompt = "Read the following article, named '%s', and create a search query based on its content. The article's content is as follows:\n%s"

// quoteStripper removes straight and typographic quotes.
var quoteStripper = strings.NewReplacer(
	`"`, "",
	`'`, "",
	"“", "", "”", "",
	"‘", "", "’", "",
	"«", "", "»", "",
)

// Config configures a Synthesizer.
type Config struct {
	MaxTokens int
	Policy    retry.Policy
	// Delay separates consecutive documents in GenerateAndSave.
	Delay time.Duration
}

// DefaultConfig retries transport failures forever with a fixed 30s wait.
func DefaultConfig() Config {
	return Config{
		MaxTokens: DefaultMaxTokens,
		Policy: retry.Policy{
			Transport:  retry.Fixed(DefaultBackoff),
			Validation: retry.Fixed(DefaultBackoff),
		},
		Delay: DefaultDelay,
	}
}

// Writer receives synthesized records.
type Writer interface {
	Write(record any) error
}

// Synthesizer asks a reasoning service for one query per document.
type Synthesizer struct {
	svc     reasoning.Service
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a synthesizer. log and m may be nil.
func New(svc reasoning.Service, cfg Config, log *logger.Logger, m *metrics.Metrics) (*Synthesizer, error) {
	if svc == nil {
		return nil, fmt.Errorf("reasoning service is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("delay cannot be negative")
	}
	return &Synthesizer{
		svc:     svc,
		cfg:     cfg,
		log:     logger.OrDefault(log).WithComponent("synth"),
		metrics: m,
	}, nil
}

// GenerateQuery returns a synthetic query for doc. Documents without a title
// or body are rejected without calling the service.
func (s *Synthesizer) GenerateQuery(ctx context.Context, doc corpus.Document) (corpus.Query, error) {
	if err := doc.Validate(); err != nil {
		return corpus.Query{}, apperrors.ValidationError(err.Error())
	}

	messages := []reasoning.Message{
		reasoning.System(systemPrompt),
		reasoning.User(fmt.Sprintf(userPrompt, doc.Title, doc.Body)),
	}
	log := s.log.WithContext(ctx).With("document_id", doc.ID)

	onRetry := func(a retry.Attempt) {
		log.Warn("query synthesis failed, retrying",
			"attempt", a.Number,
			"error_kind", apperrors.Kind(a.Err),
			"wait", a.Wait.String(),
			"error", a.Err.Error(),
		)
	}

	text, attempts, err := retry.Do(ctx, s.cfg.Policy, onRetry, func(ctx context.Context) (string, error) {
		out, err := s.svc.Complete(ctx, messages, s.cfg.MaxTokens)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !apperrors.IsTransport(err) && !apperrors.IsValidation(err) {
				err = apperrors.TransportError("reasoning", err)
			}
			return "", err
		}
		q := Normalize(out)
		if q == "" {
			return "", apperrors.ValidationError("reasoning service returned an empty query")
		}
		return q, nil
	})
	if err != nil {
		return corpus.Query{}, err
	}

	s.metrics.RecordQuerySynthesized()
	log.Debug("query synthesized", "query", text, "attempts", attempts)
	return corpus.Query{Text: text, Origin: corpus.OriginSynthetic, SourceID: doc.ID}, nil
}

// GenerateAndSave synthesizes queries for the first limit documents (all
// when limit <= 0) and writes one record per document. It waits the
// configured delay between documents and stops early when ctx is done;
// records already written are kept. It returns the number written.
func (s *Synthesizer) GenerateAndSave(ctx context.Context, docs []corpus.Document, limit int, w Writer) (int, error) {
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}

	written := 0
	for i, doc := range docs {
		if i > 0 {
			if err := retry.Sleep(ctx, s.cfg.Delay); err != nil {
				return written, err
			}
		}

		q, err := s.GenerateQuery(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			if apperrors.IsValidation(err) {
				s.metrics.RecordSkip("synth")
				s.log.Warn("skipping document", "document_id", doc.ID, "error", err.Error())
				continue
			}
			return written, err
		}

		if err := w.Write(corpus.NewRecord(doc, q)); err != nil {
			return written, fmt.Errorf("failed to write record for %s: %w", doc.ID, err)
		}
		written++
	}

	s.log.Info("query synthesis finished", "documents", len(docs), "written", written)
	return written, nil
}

// Normalize strips quotes and surrounding whitespace from a model answer.
// Case is preserved.
func Normalize(text string) string {
	return strings.TrimSpace(quoteStripper.Replace(text))
}
