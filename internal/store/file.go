package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ricesearch/rice-eval/internal/judge"
)

// File stores each judgment as a JSON file named by its pair key.
type File struct {
	basePath string
	mu       sync.RWMutex
}

// NewFile creates a file store rooted at basePath.
func NewFile(basePath string) *File {
	return &File{basePath: basePath}
}

func (f *File) path(query, documentID string) string {
	return filepath.Join(f.basePath, Key(query, documentID)+".json")
}

func (f *File) Put(ctx context.Context, j judge.Judgment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal judgment: %w", err)
	}

	if err := os.WriteFile(f.path(j.QueryText, j.DocumentID), data, 0644); err != nil {
		return fmt.Errorf("failed to write judgment file: %w", err)
	}
	return nil
}

func (f *File) Get(ctx context.Context, query, documentID string) (judge.Judgment, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(query, documentID))
	if err != nil {
		if os.IsNotExist(err) {
			return judge.Judgment{}, notFound(query, documentID)
		}
		return judge.Judgment{}, fmt.Errorf("failed to read judgment file: %w", err)
	}

	var j judge.Judgment
	if err := json.Unmarshal(data, &j); err != nil {
		return judge.Judgment{}, fmt.Errorf("failed to unmarshal judgment: %w", err)
	}
	return j, nil
}

func (f *File) List(ctx context.Context) ([]judge.Judgment, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []judge.Judgment{}, nil
		}
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	out := []judge.Judgment{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(f.basePath, entry.Name()))
		if err != nil {
			continue // Skip files we can't read
		}

		var j judge.Judgment
		if err := json.Unmarshal(data, &j); err != nil {
			continue // Skip invalid files
		}
		out = append(out, j)
	}

	sortJudgments(out)
	return out, nil
}

func (f *File) Close() error { return nil }
