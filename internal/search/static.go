package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// StaticBackend serves precomputed hits keyed by query text. It stands in
// for a live index when replaying recorded rankings.
type StaticBackend struct {
	results map[string][]Hit
}

// NewStaticBackend creates a backend over the given results.
func NewStaticBackend(results map[string][]Hit) *StaticBackend {
	return &StaticBackend{results: results}
}

// LoadStaticBackend reads a JSON object mapping query text to hits.
func LoadStaticBackend(path string) (*StaticBackend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading static hits: %w", err)
	}
	var results map[string][]Hit
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decoding static hits: %w", err)
	}
	return NewStaticBackend(results), nil
}

// Name implements Backend.
func (b *StaticBackend) Name() string { return "static" }

// Search implements Backend. Unknown queries have no hits.
func (b *StaticBackend) Search(ctx context.Context, query string, nHits int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := b.results[query]
	if nHits > 0 && len(hits) > nHits {
		hits = hits[:nHits]
	}
	out := make([]Hit, len(hits))
	copy(out, hits)
	return out, nil
}
