package fusion

import (
	"context"
	"sort"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/search"
)

// DefaultK is the RRF smoothing constant.
// Higher values reduce the impact of rank position differences.
const DefaultK = 60

// RRF fuses signals with weighted reciprocal rank fusion.
//
// Formula: score = Σ weight_s / (k + rank_s), where rank_s is the 1-based
// position of the candidate when all hits are ordered by signal s.
type RRF struct {
	policy Policy
}

// NewRRF creates an RRF ranker over the weighted signals of p.
func NewRRF(p Policy) *RRF {
	p.Kind = KindRRF
	return &RRF{policy: p}
}

// Rank implements search.Ranker.
func (r *RRF) Rank(ctx context.Context, query string, hits []search.Hit) ([]search.ScoredCandidate, error) {
	hits = dedupe(hits)

	signals := weightedSignals(r.policy.GlobalWeights)
	if err := validateSignals(hits, signals); err != nil {
		return nil, apperrors.BackendError("unusable candidates", err)
	}

	k := r.policy.RRFK
	if k == 0 {
		k = DefaultK
	}

	candidates := make([]search.ScoredCandidate, len(hits))
	for i, h := range hits {
		candidates[i] = search.ScoredCandidate{
			DocumentID: h.Document.ID,
			Signals:    copySignals(h.Signals),
		}
	}

	order := make([]int, len(candidates))
	for _, s := range signals {
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool {
			ca, cb := candidates[order[a]], candidates[order[b]]
			if ca.Signals[s] != cb.Signals[s] {
				return ca.Signals[s] > cb.Signals[s]
			}
			return ca.DocumentID < cb.DocumentID
		})
		w := r.policy.GlobalWeights[s]
		for rank, idx := range order {
			candidates[idx].FusedScore += w / float64(k+rank+1)
		}
	}

	sortCandidates(candidates)
	assignRanks(candidates)
	return candidates, nil
}
