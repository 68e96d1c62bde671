package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// countingEmbedder returns [len(text)] for each text and records batches.
type countingEmbedder struct {
	batches [][]string
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCache_Eviction(t *testing.T) {
	c := NewCache(3)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("c", []float32{3})

	// Touch "a" so "b" becomes the oldest.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}
	c.Set("d", []float32{4})

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("expected %s to be present", k)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := NewCache(0)
	v := []float32{0.1, 0.2}
	c.Set("q", v)
	v[0] = 9

	got, _ := c.Get("q")
	got[1] = 9

	again, _ := c.Get("q")
	if diff := cmp.Diff([]float32{0.1, 0.2}, again); diff != "" {
		t.Errorf("cached vector mutated (-want +got):\n%s", diff)
	}
}

func TestCached_OnlyMissesReachNext(t *testing.T) {
	next := &countingEmbedder{}
	c := NewCached(next, 10, nil)
	ctx := context.Background()

	if _, err := c.Embed(ctx, []string{"gnn", "traffic"}); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	got, err := c.Embed(ctx, []string{"traffic", "graphs", "gnn"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if diff := cmp.Diff([][]float32{{7}, {6}, {3}}, got); diff != "" {
		t.Errorf("vectors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"gnn", "traffic"}, {"graphs"}}, next.batches); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestSparse(t *testing.T) {
	v := Sparse("Traffic, traffic and GNN!")
	if len(v.Indices) != 3 || len(v.Values) != 3 {
		t.Fatalf("Sparse() = %+v, want 3 terms", v)
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i-1] >= v.Indices[i] {
			t.Errorf("indices not ascending: %v", v.Indices)
		}
	}
	var total float32
	for _, x := range v.Values {
		total += x
	}
	if total != 4 {
		t.Errorf("total weight = %v, want 4", total)
	}
	if empty := Sparse("  ,. "); len(empty.Indices) != 0 {
		t.Errorf("Sparse(punctuation) = %+v, want empty", empty)
	}
}

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "text-embedding-3-small" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		// Reverse order to check the index mapping.
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
	defer srv.Close()

	e, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "text-embedding-3-small"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	got, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if diff := cmp.Diff([][]float32{{0, 1}, {1, 1}}, got); diff != "" {
		t.Errorf("vectors mismatch (-want +got):\n%s", diff)
	}

	v, err := One(context.Background(), e, "a")
	if err != nil || len(v) != 2 {
		t.Errorf("One() = %v, %v", v, err)
	}
}

func TestOpenAI_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, _ := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	_, err := e.Embed(context.Background(), []string{"a"})
	if !apperrors.IsTransport(err) {
		t.Errorf("Embed() error = %v, want transport error", err)
	}
}

func TestNewOpenAI_RequiresModel(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Error("NewOpenAI() without model succeeded")
	}
}

func TestTokens_EncodeTokens(t *testing.T) {
	e := &countingEmbedder{}
	got, err := Tokens{Embedder: e}.EncodeTokens(context.Background(), "GNN, traffic!")
	if err != nil {
		t.Fatalf("EncodeTokens() error = %v", err)
	}
	if diff := cmp.Diff([][]float32{{3}, {7}}, got); diff != "" {
		t.Errorf("EncodeTokens() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"gnn", "traffic"}}, e.batches); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}

	if _, err := (Tokens{Embedder: e}).EncodeTokens(context.Background(), " ,; "); !apperrors.IsValidation(err) {
		t.Errorf("EncodeTokens() error = %v, want validation error", err)
	}
}
