package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CSVTable keeps each sheet as <dir>/<sheet>.csv.
type CSVTable struct {
	dir string
	mu  sync.Mutex
}

// NewCSVTable creates a table rooted at dir.
func NewCSVTable(dir string) (*CSVTable, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create table directory: %w", err)
	}
	return &CSVTable{dir: dir}, nil
}

// Upsert implements Table.
func (t *CSVTable) Upsert(ctx context.Context, sheet, rowKey, colKey, value string) error {
	return t.update(ctx, sheet, func(g *grid) { g.upsert(rowKey, colKey, value) })
}

// Append implements Table.
func (t *CSVTable) Append(ctx context.Context, sheet string, values map[string]string) error {
	return t.update(ctx, sheet, func(g *grid) { g.append(values) })
}

// Read returns the rows of sheet, header first.
func (t *CSVTable) Read(sheet string) ([][]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(sheet)
}

func (t *CSVTable) update(ctx context.Context, sheet string, fn func(*grid)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.load(sheet)
	if err != nil {
		return err
	}
	g := newGrid(rows)
	fn(g)
	return t.save(sheet, g.padded())
}

func (t *CSVTable) path(sheet string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(sheet)
	return filepath.Join(t.dir, name+".csv")
}

func (t *CSVTable) load(sheet string) ([][]string, error) {
	f, err := os.Open(t.path(sheet))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open sheet %s: %w", sheet, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

// save writes through a temporary file so a crash never leaves a torn sheet.
func (t *CSVTable) save(sheet string, rows [][]string) error {
	path := t.path(sheet)
	tmp, err := os.CreateTemp(t.dir, ".sheet-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write sheet %s: %w", sheet, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close sheet %s: %w", sheet, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace sheet %s: %w", sheet, err)
	}
	return nil
}
