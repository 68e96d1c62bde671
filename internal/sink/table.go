package sink

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Table stores values in named sheets of rows and columns. The first row of
// a sheet is its header and the first column holds row keys.
type Table interface {
	// Upsert sets the cell at (rowKey, colKey), adding the row or column
	// when missing.
	Upsert(ctx context.Context, sheet, rowKey, colKey, value string) error
	// Append adds a row, matching values to header names and extending the
	// header with unknown names.
	Append(ctx context.Context, sheet string, values map[string]string) error
}

// RowKeyHeader labels the row key column of sheets created by Upsert.
const RowKeyHeader = "query"

// ColumnName returns the A1 letters of a zero-based column index: 0 is A,
// 25 is Z, 26 is AA.
func ColumnName(index int) string {
	if index < 0 {
		return ""
	}
	var b []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		b = append(b, byte('A'+(n-1)%26))
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// CellRef returns the A1 reference of a zero-based cell in sheet.
func CellRef(sheet string, row, col int) string {
	return fmt.Sprintf("%s!%s%d", sheet, ColumnName(col), row+1)
}

// grid is an in-memory sheet shared by the table implementations.
type grid struct {
	rows [][]string
}

func newGrid(rows [][]string) *grid {
	g := &grid{rows: rows}
	if len(g.rows) == 0 {
		g.rows = [][]string{{}}
	}
	return g
}

func (g *grid) header() []string { return g.rows[0] }

func (g *grid) column(name string) int {
	for i, h := range g.header() {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	g.rows[0] = append(g.rows[0], name)
	return len(g.rows[0]) - 1
}

func (g *grid) row(key string) int {
	for i := 1; i < len(g.rows); i++ {
		if len(g.rows[i]) > 0 && strings.TrimSpace(g.rows[i][0]) == key {
			return i
		}
	}
	g.rows = append(g.rows, []string{key})
	return len(g.rows) - 1
}

func (g *grid) set(row, col int, value string) {
	for len(g.rows[row]) <= col {
		g.rows[row] = append(g.rows[row], "")
	}
	g.rows[row][col] = value
}

func (g *grid) upsert(rowKey, colKey, value string) {
	if len(g.header()) == 0 {
		g.rows[0] = []string{RowKeyHeader}
	}
	col := g.column(colKey)
	row := g.row(rowKey)
	g.set(row, col, value)
}

func (g *grid) append(values map[string]string) {
	// Known columns keep header order; new ones are added sorted so the
	// layout does not depend on map iteration.
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	slices.Sort(names)

	row := len(g.rows)
	g.rows = append(g.rows, nil)
	for _, name := range names {
		g.set(row, g.column(name), values[name])
	}
}

// width returns the widest row, so every written row can be padded.
func (g *grid) width() int {
	w := 0
	for _, r := range g.rows {
		w = max(w, len(r))
	}
	return w
}

func (g *grid) padded() [][]string {
	w := g.width()
	out := make([][]string, len(g.rows))
	for i, r := range g.rows {
		row := make([]string, w)
		copy(row, r)
		out[i] = row
	}
	return out
}
