package fusion

import (
	"context"
	"testing"

	"github.com/ricesearch/rice-eval/internal/search"
)

func TestRRF_EqualWeights(t *testing.T) {
	hits := []search.Hit{
		hit("doc1", map[string]float64{"lexical": 10.0, "vector": 0.90}),
		hit("doc2", map[string]float64{"lexical": 8.0, "vector": 0.95}),
		hit("doc3", map[string]float64{"lexical": 6.0, "vector": 0.10}),
		hit("doc4", map[string]float64{"lexical": 1.0, "vector": 0.85}),
	}

	r := NewRRF(Policy{RRFK: 60, GlobalWeights: map[string]float64{"lexical": 0.5, "vector": 0.5}})
	got, err := r.Rank(context.Background(), "q", hits)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}

	// doc1: 0.5/61 + 0.5/62 and doc2: 0.5/62 + 0.5/61 tie; ids break it.
	// doc3 and doc4 tie the same way one step lower.
	if want := []string{"doc1", "doc2", "doc3", "doc4"}; !equalIDs(ids(got), want) {
		t.Errorf("order = %v, want %v", ids(got), want)
	}
	if got[0].FusedScore != got[1].FusedScore {
		t.Errorf("expected doc1 and doc2 to tie: %v vs %v", got[0].FusedScore, got[1].FusedScore)
	}
	assertRankInvariants(t, got)
}

func TestRRF_LexicalHeavy(t *testing.T) {
	hits := []search.Hit{
		hit("doc1", map[string]float64{"lexical": 10, "vector": 0.1}),
		hit("doc2", map[string]float64{"lexical": 1, "vector": 0.9}),
	}

	r := NewRRF(Policy{GlobalWeights: map[string]float64{"lexical": 0.8, "vector": 0.2}})
	got, err := r.Rank(context.Background(), "q", hits)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if got[0].DocumentID != "doc1" {
		t.Errorf("expected lexical winner first, got %v", ids(got))
	}
}

func TestNew_SelectsRanker(t *testing.T) {
	r, err := New(Policy{Kind: KindRRF, GlobalWeights: map[string]float64{"vector": 1}}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := r.(*RRF); !ok {
		t.Errorf("New(rrf) = %T, want *RRF", r)
	}
}
