package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ricesearch/rice-eval/internal/corpus"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

type failingBackend struct{ err error }

func (b failingBackend) Search(context.Context, string, int) ([]Hit, error) { return nil, b.err }
func (b failingBackend) Name() string { return "failing" }

// orderRanker ranks hits in backend order.
type orderRanker struct{ err error }

func (r orderRanker) Rank(_ context.Context, _ string, hits []Hit) ([]ScoredCandidate, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]ScoredCandidate, len(hits))
	for i, h := range hits {
		out[i] = ScoredCandidate{
			DocumentID: h.Document.ID,
			Signals:    h.Signals,
			FusedScore: float64(len(hits) - i),
			Rank:       i + 1,
		}
	}
	return out, nil
}

var (
	gnnDoc     = corpus.Document{ID: "a1", Title: "Graph networks for traffic", Body: "GNN forecasting."}
	proteinDoc = corpus.Document{ID: "b2", Title: "Protein folding", Body: "Structure prediction."}
)

func TestService_Search(t *testing.T) {
	backend := NewStaticBackend(map[string][]Hit{
		"gnn": {
			{Document: gnnDoc, Signals: map[string]float64{SignalVector: 0.9}},
			{Document: proteinDoc, Signals: map[string]float64{SignalVector: 0.4}},
			{Document: gnnDoc, Signals: map[string]float64{SignalVector: 0.1}},
		},
	})
	svc := NewService(backend, orderRanker{}, 0, logger.Discard(), nil)

	res, err := svc.Search(t.Context(), corpus.Query{Text: "gnn", SourceID: "a1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Candidates) != 3 || res.Candidates[0].Rank != 1 {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if diff := cmp.Diff(map[string]corpus.Document{"a1": gnnDoc, "b2": proteinDoc}, res.Documents); diff != "" {
		t.Errorf("Documents mismatch (-want +got):\n%s", diff)
	}
	if d, ok := res.Document("b2"); !ok || d.Title != proteinDoc.Title {
		t.Errorf("Document(b2) = %+v, %v", d, ok)
	}
	if _, ok := res.Document("zz"); ok {
		t.Error("Document() found an unranked id")
	}

	empty, err := svc.Search(t.Context(), corpus.Query{Text: "unknown"})
	if err != nil || len(empty.Candidates) != 0 {
		t.Errorf("Search(unknown) = %+v, %v", empty, err)
	}
}

func TestService_SearchErrors(t *testing.T) {
	rankErr := errors.New("missing signal")
	tests := []struct {
		name        string
		backend     Backend
		ranker      Ranker
		wantBackend bool
		wantErr     error
	}{
		{"backend failure", failingBackend{err: errors.New("connection refused")}, orderRanker{}, true, nil},
		{"backend error kept", failingBackend{err: apperrors.BackendError("bad hit", nil)}, orderRanker{}, true, nil},
		{"cancelled", failingBackend{err: context.Canceled}, orderRanker{}, false, context.Canceled},
		{"ranking failure", NewStaticBackend(map[string][]Hit{"q": {{Document: gnnDoc}}}), orderRanker{err: rankErr}, true, rankErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.backend, tt.ranker, 5, logger.Discard(), nil)
			_, err := svc.Search(t.Context(), corpus.Query{Text: "q"})
			if err == nil {
				t.Fatal("Search() error = nil")
			}
			if got := apperrors.IsBackend(err); got != tt.wantBackend {
				t.Errorf("IsBackend(%v) = %v, want %v", err, got, tt.wantBackend)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tt.wantErr)
			}
		})
	}
}

func TestStaticBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits.json")
	data := `{"gnn": [
		{"document": {"id": "a1", "title": "Graph networks"}, "signals": {"vector": 0.9}},
		{"document": {"id": "b2", "title": "Protein folding"}, "signals": {"vector": 0.2}}
	]}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	b, err := LoadStaticBackend(path)
	if err != nil {
		t.Fatalf("LoadStaticBackend() error = %v", err)
	}
	hits, err := b.Search(t.Context(), "gnn", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Document.ID != "a1" || hits[0].Signals[SignalVector] != 0.9 {
		t.Errorf("hits = %+v", hits)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := b.Search(ctx, "gnn", 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Search(cancelled) error = %v", err)
	}

	if _, err := LoadStaticBackend(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadStaticBackend() accepted a missing file")
	}
}
