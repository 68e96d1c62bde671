// Package search turns a query into a fused ranking over a retrieval backend.
package search

import (
	"context"
	"errors"
	"time"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/metrics"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// DefaultNHits is the number of hits requested when none is configured.
const DefaultNHits = 10

// Service runs a backend search and fuses its hits.
type Service struct {
	backend Backend
	ranker  Ranker
	nHits   int
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewService creates a search service. log and m may be nil.
func NewService(backend Backend, ranker Ranker, nHits int, log *logger.Logger, m *metrics.Metrics) *Service {
	if nHits <= 0 {
		nHits = DefaultNHits
	}
	return &Service{
		backend: backend,
		ranker:  ranker,
		nHits:   nHits,
		log:     logger.OrDefault(log).WithComponent("search"),
		metrics: m,
	}
}

// Search retrieves and ranks candidates for q. Backend failures and
// unusable candidates are reported as backend errors.
func (s *Service) Search(ctx context.Context, q corpus.Query) (*Result, error) {
	start := time.Now()

	hits, err := s.backend.Search(ctx, q.Text, s.nHits)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !apperrors.IsBackend(err) {
			err = apperrors.BackendError(s.backend.Name()+" search failed", err)
		}
		return nil, err
	}

	candidates, err := s.ranker.Rank(ctx, q.Text, hits)
	if err != nil {
		if !apperrors.IsBackend(err) && ctx.Err() == nil {
			err = apperrors.BackendError("ranking failed", err)
		}
		return nil, err
	}

	docs := make(map[string]corpus.Document, len(hits))
	for _, h := range hits {
		if _, ok := docs[h.Document.ID]; !ok {
			docs[h.Document.ID] = h.Document
		}
	}

	s.metrics.RecordSearch(s.backend.Name(), time.Since(start), len(candidates))
	s.log.Debug("search complete",
		"query", q.Text,
		"backend", s.backend.Name(),
		"hits", len(hits),
		"candidates", len(candidates),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{Query: q, Candidates: candidates, Documents: docs}, nil
}
