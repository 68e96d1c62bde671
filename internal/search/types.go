package search

import (
	"context"

	"github.com/ricesearch/rice-eval/internal/corpus"
)

// Well-known signal names.
const (
	SignalLexical         = "lexical"
	SignalVector          = "vector"
	SignalLateInteraction = "late_interaction"
)

// Hit is one backend result with its per-signal scores.
type Hit struct {
	Document corpus.Document    `json:"document"`
	Signals  map[string]float64 `json:"signals"`

	// TokenEmbeddings holds per-passage token embeddings for in-process
	// late-interaction scoring: [passage][token][dim].
	TokenEmbeddings [][][]float32 `json:"token_embeddings,omitempty"`
}

// ScoredCandidate is a document's position in a fused ranking.
// Rank is 1-based; FusedScore never increases as Rank grows.
type ScoredCandidate struct {
	DocumentID string             `json:"document_id"`
	Signals    map[string]float64 `json:"signals"`
	FusedScore float64            `json:"fused_score"`
	Rank       int                `json:"rank"`
}

// Backend retrieves candidates for a query. It returns fewer than nHits
// only when the collection is exhausted, and never truncates on error.
type Backend interface {
	Search(ctx context.Context, query string, nHits int) ([]Hit, error)
	Name() string
}

// Ranker fuses per-signal scores into one ordered list.
type Ranker interface {
	Rank(ctx context.Context, query string, hits []Hit) ([]ScoredCandidate, error)
}

// Result is the fused ranking for one query along with the documents it
// references.
type Result struct {
	Query      corpus.Query               `json:"query"`
	Candidates []ScoredCandidate          `json:"candidates"`
	Documents  map[string]corpus.Document `json:"-"`
}

// Document returns the document for a ranked candidate.
func (r *Result) Document(id string) (corpus.Document, bool) {
	d, ok := r.Documents[id]
	return d, ok
}
