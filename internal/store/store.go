// Package store persists validated judgments, one per (query, document)
// pair. Writing a pair again overwrites the earlier judgment.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/judge"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/hash"
)

// Store is the interface for judgment persistence.
type Store interface {
	// Put saves a judgment, replacing any earlier one for the same pair.
	Put(ctx context.Context, j judge.Judgment) error

	// Get loads the judgment of a pair. A missing pair is a NOT_FOUND error.
	Get(ctx context.Context, query, documentID string) (judge.Judgment, error)

	// List returns every judgment ordered by query, then document ID.
	List(ctx context.Context) ([]judge.Judgment, error)

	// Close releases resources.
	Close() error
}

// Key returns the storage key of a pair.
func Key(query, documentID string) string {
	return hash.PairKey(query, documentID)
}

// New creates the store selected by cfg. The "none" type yields a nil
// store.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(cfg.Dir), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.KeyPrefix)
	default:
		return nil, errors.ValidationErrorf("unknown store type: %s", cfg.Type)
	}
}

// Memory keeps judgments in memory.
type Memory struct {
	judgments map[string]judge.Judgment
	mu        sync.RWMutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{judgments: make(map[string]judge.Judgment)}
}

func (m *Memory) Put(ctx context.Context, j judge.Judgment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.judgments[Key(j.QueryText, j.DocumentID)] = j
	return nil
}

func (m *Memory) Get(ctx context.Context, query, documentID string) (judge.Judgment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.judgments[Key(query, documentID)]
	if !ok {
		return judge.Judgment{}, notFound(query, documentID)
	}
	return j, nil
}

func (m *Memory) List(ctx context.Context) ([]judge.Judgment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]judge.Judgment, 0, len(m.judgments))
	for _, j := range m.judgments {
		out = append(out, j)
	}
	sortJudgments(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

func notFound(query, documentID string) error {
	return errors.NotFoundError(fmt.Sprintf("judgment for document %s and query %q", documentID, query))
}

func sortJudgments(js []judge.Judgment) {
	sort.Slice(js, func(a, b int) bool {
		if js[a].QueryText != js[b].QueryText {
			return js[a].QueryText < js[b].QueryText
		}
		return js[a].DocumentID < js[b].DocumentID
	})
}
