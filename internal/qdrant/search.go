package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/embed"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/search"
)

// ScoredDocument is a point's document and its score for one query.
type ScoredDocument struct {
	Document corpus.Document
	Score    float64
}

// DenseSearch returns the limit nearest documents to vec.
func (c *Client) DenseSearch(ctx context.Context, vec []float32, limit uint64) ([]ScoredDocument, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("dense vector is required")
	}
	return c.query(ctx, &qdrant.QueryPoints{
		CollectionName: c.config.Collection,
		Query:          qdrant.NewQueryDense(vec),
		Using:          qdrant.PtrOf(c.config.DenseVector),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
}

// SparseSearch scores the given documents against a sparse query vector.
// Documents that share no term with the query are absent from the result.
func (c *Client) SparseSearch(ctx context.Context, sv embed.SparseVector, documentIDs []string) ([]ScoredDocument, error) {
	if len(sv.Indices) == 0 || len(documentIDs) == 0 {
		return nil, nil
	}
	return c.query(ctx, &qdrant.QueryPoints{
		CollectionName: c.config.Collection,
		Query:          qdrant.NewQuerySparse(sv.Indices, sv.Values),
		Using:          qdrant.PtrOf(c.config.SparseVector),
		Filter:         documentFilter(documentIDs),
		Limit:          qdrant.PtrOf(uint64(len(documentIDs))),
		WithPayload:    qdrant.NewWithPayload(true),
	})
}

func (c *Client) query(ctx context.Context, req *qdrant.QueryPoints) ([]ScoredDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	points, err := c.api.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query on %s failed: %w", req.GetUsing(), err)
	}

	out := make([]ScoredDocument, 0, len(points))
	for _, p := range points {
		doc := fromPayload(p.GetPayload())
		if doc.ID == "" {
			return nil, fmt.Errorf("point %s has no %s payload", pointIDString(p.GetId()), payloadDocID)
		}
		out = append(out, ScoredDocument{Document: doc, Score: float64(p.GetScore())})
	}
	return out, nil
}

func documentFilter(ids []string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: payloadDocID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: ids},
						},
					},
				},
			},
		}},
	}
}

func pointIDString(id *qdrant.PointId) string {
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

// Backend is a search.Backend over a Qdrant collection. The dense vector
// selects the pool and supplies the vector signal; the sparse vector scores
// the same pool for the lexical signal.
type Backend struct {
	client   *Client
	embedder embed.Embedder
	log      *logger.Logger
}

// NewBackend creates a backend. log may be nil.
func NewBackend(client *Client, embedder embed.Embedder, log *logger.Logger) (*Backend, error) {
	if client == nil || embedder == nil {
		return nil, fmt.Errorf("qdrant client and embedder are required")
	}
	return &Backend{client: client, embedder: embedder, log: logger.OrDefault(log).WithComponent("qdrant")}, nil
}

// Name implements search.Backend.
func (b *Backend) Name() string { return "qdrant" }

// Search implements search.Backend.
func (b *Backend) Search(ctx context.Context, query string, nHits int) ([]search.Hit, error) {
	if nHits <= 0 {
		nHits = search.DefaultNHits
	}

	vec, err := embed.One(ctx, b.embedder, query)
	if err != nil {
		return nil, err
	}

	pool, err := b.client.DenseSearch(ctx, vec, uint64(nHits))
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, nil
	}

	ids := make([]string, len(pool))
	for i, p := range pool {
		ids[i] = p.Document.ID
	}
	lexical, err := b.client.SparseSearch(ctx, embed.Sparse(query), ids)
	if err != nil {
		return nil, err
	}
	lexicalByID := make(map[string]float64, len(lexical))
	for _, l := range lexical {
		lexicalByID[l.Document.ID] = l.Score
	}

	hits := make([]search.Hit, len(pool))
	for i, p := range pool {
		hits[i] = search.Hit{
			Document: p.Document,
			Signals: map[string]float64{
				search.SignalVector:  p.Score,
				search.SignalLexical: lexicalByID[p.Document.ID],
			},
		}
	}

	b.log.WithContext(ctx).Debug("qdrant search", "query", query, "hits", len(hits), "lexical_matches", len(lexical))
	return hits, nil
}

// Index embeds title and body of each document and upserts them, creating
// the collection on first use. It returns the number of documents written.
func (b *Backend) Index(ctx context.Context, docs []corpus.Document, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	written := 0
	for i := 0; i < len(docs); i += batchSize {
		batch := docs[i:min(i+batchSize, len(docs))]

		texts := make([]string, len(batch))
		for j, d := range batch {
			texts[j] = d.Title + "\n" + d.Body
		}
		vecs, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("embedding batch at %d: %w", i, err)
		}
		if len(vecs) != len(batch) || len(vecs[0]) == 0 {
			return written, fmt.Errorf("embedding batch at %d: got %d vectors for %d documents", i, len(vecs), len(batch))
		}
		if i == 0 {
			if err := b.client.EnsureCollection(ctx, uint64(len(vecs[0]))); err != nil {
				return written, err
			}
		}

		points := make([]Point, len(batch))
		for j, d := range batch {
			points[j] = Point{Document: d, Dense: vecs[j], Sparse: embed.Sparse(texts[j])}
		}
		if err := b.client.UpsertPoints(ctx, points, batchSize); err != nil {
			return written, err
		}
		written += len(batch)
		b.log.Info("indexed batch", "documents", written, "total", len(docs))
	}
	return written, nil
}
