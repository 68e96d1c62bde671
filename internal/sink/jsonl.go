// Package sink writes pipeline results: append-only JSON lines and
// metric tables.
package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

const maxLineSize = 4 * 1024 * 1024

// JSONLWriter appends JSON records, one per line. It is safe for
// concurrent use; each record is flushed before Write returns.
type JSONLWriter struct {
	mu      sync.Mutex
	closer  io.Closer
	syncer  interface{ Sync() error }
	encoder *json.Encoder
}

// NewJSONLWriter wraps w. Closing the writer does not close w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{encoder: json.NewEncoder(w)}
}

// OpenJSONL opens path for appending, creating it and its directory.
func OpenJSONL(path string) (*JSONLWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	return &JSONLWriter{
		closer:  file,
		syncer:  file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Write appends one record.
func (j *JSONLWriter) Write(record any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.encoder == nil {
		return errors.New(errors.CodeInternal, "jsonl writer is closed")
	}
	if err := j.encoder.Encode(record); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if j.syncer != nil {
		if err := j.syncer.Sync(); err != nil {
			return fmt.Errorf("failed to sync output file: %w", err)
		}
	}
	return nil
}

// Close releases the underlying file, if the writer owns one.
func (j *JSONLWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.encoder = nil
	if j.closer == nil {
		return nil
	}
	err := j.closer.Close()
	j.closer = nil
	if err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	return nil
}

// ReadJSONL decodes every line of r into a T. Blank lines are skipped;
// a malformed line is an error naming its line number.
func ReadJSONL[T any](r io.Reader) ([]T, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var out []T
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan input: %w", err)
	}
	return out, nil
}

// ReadJSONLFile reads a JSON lines file.
func ReadJSONLFile[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	out, err := ReadJSONL[T](f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
