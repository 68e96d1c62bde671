package fusion

import (
	"context"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/search"
)

// TokenEncoder produces per-token query embeddings for late interaction.
type TokenEncoder interface {
	EncodeTokens(ctx context.Context, text string) ([][]float32, error)
}

// Phased ranks candidates in up to three phases: a first-phase order and
// pool cut, an optional second-phase re-rank of the pool, and an optional
// weighted global re-rank of the top window.
type Phased struct {
	policy  Policy
	encoder TokenEncoder
}

// NewPhased creates a phased ranker. encoder may be nil.
func NewPhased(p Policy, encoder TokenEncoder) *Phased {
	p.Kind = KindPhased
	return &Phased{policy: p, encoder: encoder}
}

// Rank implements search.Ranker.
func (r *Phased) Rank(ctx context.Context, query string, hits []search.Hit) ([]search.ScoredCandidate, error) {
	hits = dedupe(hits)

	if err := r.fillLateInteraction(ctx, query, hits); err != nil {
		return nil, err
	}
	if err := validateSignals(hits, r.policy.RequiredSignals()); err != nil {
		return nil, apperrors.BackendError("unusable candidates", err)
	}

	candidates := make([]search.ScoredCandidate, len(hits))
	for i, h := range hits {
		candidates[i] = search.ScoredCandidate{
			DocumentID: h.Document.ID,
			Signals:    copySignals(h.Signals),
			FusedScore: h.Signals[r.policy.FirstPhase],
		}
	}
	sortCandidates(candidates)
	if pool := r.policy.FirstPhasePool; pool > 0 && len(candidates) > pool {
		candidates = candidates[:pool]
	}

	if second := r.policy.SecondPhase; second != "" {
		for i := range candidates {
			candidates[i].FusedScore = candidates[i].Signals[second]
		}
		sortCandidates(candidates)
	}

	if len(r.policy.GlobalWeights) > 0 {
		window := r.policy.GlobalWindow
		if window == 0 {
			window = DefaultGlobalWindow
		}
		if len(candidates) > window {
			candidates = candidates[:window]
		}
		signals := weightedSignals(r.policy.GlobalWeights)
		for i := range candidates {
			score := 0.0
			for _, s := range signals {
				score += r.policy.GlobalWeights[s] * candidates[i].Signals[s]
			}
			candidates[i].FusedScore = score
		}
		sortCandidates(candidates)
	}

	assignRanks(candidates)
	return candidates, nil
}

// fillLateInteraction computes the late-interaction signal in process for
// hits that carry token embeddings but no backend score.
func (r *Phased) fillLateInteraction(ctx context.Context, query string, hits []search.Hit) error {
	if r.encoder == nil || !r.usesLateInteraction() {
		return nil
	}

	var queryTokens [][]float32
	for i := range hits {
		if _, ok := hits[i].Signals[search.SignalLateInteraction]; ok || len(hits[i].TokenEmbeddings) == 0 {
			continue
		}
		if queryTokens == nil {
			var err error
			queryTokens, err = r.encoder.EncodeTokens(ctx, query)
			if err != nil {
				return apperrors.BackendError("encoding query tokens", err)
			}
		}

		signals := copySignals(hits[i].Signals)
		if r.policy.LateInteraction == MaxSimGlobal {
			signals[search.SignalLateInteraction] = GlobalMaxSim(queryTokens, hits[i].TokenEmbeddings)
		} else {
			signals[search.SignalLateInteraction] = LocalMaxSim(queryTokens, hits[i].TokenEmbeddings)
		}
		hits[i].Signals = signals
	}
	return nil
}

func (r *Phased) usesLateInteraction() bool {
	for _, s := range r.policy.RequiredSignals() {
		if s == search.SignalLateInteraction {
			return true
		}
	}
	return false
}
