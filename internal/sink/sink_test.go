package sink

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ricesearch/rice-eval/internal/corpus"
)

func TestColumnName(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{51, "AZ"},
		{52, "BA"},
		{701, "ZZ"},
		{702, "AAA"},
		{-1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ColumnName(tt.index); got != tt.want {
				t.Errorf("ColumnName(%d) = %q, want %q", tt.index, got, tt.want)
			}
		})
	}

	if got := CellRef("ndcg", 0, 27); got != "ndcg!AB1" {
		t.Errorf("CellRef() = %q", got)
	}
}

func TestJSONL_RoundTripFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "queries.jsonl")

	w, err := OpenJSONL(path)
	if err != nil {
		t.Fatalf("OpenJSONL() error = %v", err)
	}
	recs := []corpus.Record{
		{ID: "a1", Title: "GNN traffic", Body: "b", Query: "traffic gnn", Origin: corpus.OriginSynthetic},
		{ID: "b2", Title: "Folding", Body: "c"},
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Write(recs[0]); err == nil {
		t.Error("Write() after Close succeeded")
	}

	// Reopening appends.
	w, err = OpenJSONL(path)
	if err != nil {
		t.Fatalf("OpenJSONL() error = %v", err)
	}
	if err := w.Write(corpus.Record{ID: "c3", Title: "t", Body: "b"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	w.Close()

	got, err := ReadJSONLFile[corpus.Record](path)
	if err != nil {
		t.Fatalf("ReadJSONLFile() error = %v", err)
	}
	if len(got) != 3 || got[0].Query != "traffic gnn" || got[2].ID != "c3" {
		t.Errorf("unexpected records %+v", got)
	}
}

func TestReadJSONL_Errors(t *testing.T) {
	in := "{\"id\":\"a\"}\n\n   \n{not json}\n"
	_, err := ReadJSONL[corpus.Record](strings.NewReader(in))
	if err == nil || !strings.Contains(err.Error(), "line 4") {
		t.Errorf("ReadJSONL() error = %v, want line 4", err)
	}
}

func TestJSONLWriter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Write(map[string]int{"n": 1})
		}()
	}
	wg.Wait()

	got, err := ReadJSONL[map[string]int](&buf)
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if len(got) != 20 {
		t.Errorf("records = %d, want 20", len(got))
	}
}

func TestCSVTable_Upsert(t *testing.T) {
	ctx := context.Background()
	table, err := NewCSVTable(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVTable() error = %v", err)
	}

	steps := []struct{ row, col, val string }{
		{"gnn traffic", "llm_query", "0.91"},
		{"protein folding", "llm_query", "0.40"},
		{"gnn traffic", "title_query", "0.75"},
		{"gnn traffic", "llm_query", "0.93"},
	}
	for _, s := range steps {
		if err := table.Upsert(ctx, "ndcg@10", s.row, s.col, s.val); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	got, err := table.Read("ndcg@10")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := [][]string{
		{"query", "llm_query", "title_query"},
		{"gnn traffic", "0.93", "0.75"},
		{"protein folding", "0.40", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sheet mismatch (-want +got):\n%s", diff)
	}
}

func TestCSVTable_Append(t *testing.T) {
	ctx := context.Background()
	table, err := NewCSVTable(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVTable() error = %v", err)
	}

	if err := table.Append(ctx, "runs", map[string]string{"query": "q1", "status": "completed"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := table.Append(ctx, "runs", map[string]string{"query": "q2", "judged": "4", "status": "aborted"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := table.Read("runs")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := [][]string{
		{"query", "status", "judged"},
		{"q1", "completed", ""},
		{"q2", "aborted", "4"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sheet mismatch (-want +got):\n%s", diff)
	}
}

// fakeSheets keeps tabs in memory.
type fakeSheets struct {
	tabs  map[string][][]string
	added []string
	puts  []string
}

func (f *fakeSheets) titles(ctx context.Context) ([]string, error) {
	var out []string
	for k := range f.tabs {
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeSheets) addSheet(ctx context.Context, title string) error {
	f.added = append(f.added, title)
	f.tabs[title] = nil
	return nil
}

func (f *fakeSheets) get(ctx context.Context, rng string) ([][]string, error) {
	tab, _, _ := strings.Cut(rng, "!")
	return f.tabs[tab], nil
}

func (f *fakeSheets) put(ctx context.Context, rng string, rows [][]string) error {
	f.puts = append(f.puts, rng)
	tab, _, _ := strings.Cut(rng, "!")
	f.tabs[tab] = rows
	return nil
}

func TestSheetsTable_Upsert(t *testing.T) {
	ctx := context.Background()
	api := &fakeSheets{tabs: map[string][][]string{
		"mrr": {{"query", "llm_query"}, {"gnn traffic", "1"}},
	}}
	table := newSheetsTable(api, "")

	if err := table.Upsert(ctx, "mrr", "gnn traffic", "title_query", "0.5"); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := table.Upsert(ctx, "ap", "gnn traffic", "llm_query", "0.8"); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if diff := cmp.Diff([]string{"ap"}, api.added); diff != "" {
		t.Errorf("added sheets mismatch (-want +got):\n%s", diff)
	}
	want := [][]string{{"query", "llm_query", "title_query"}, {"gnn traffic", "1", "0.5"}}
	if diff := cmp.Diff(want, api.tabs["mrr"]); diff != "" {
		t.Errorf("mrr mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"mrr!A1", "ap!A1"}, api.puts); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}
