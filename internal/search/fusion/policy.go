// Package fusion turns per-signal candidate scores into one ranked list.
package fusion

import (
	"fmt"
	"math"
	"sort"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/search"
)

// Kind selects a fusion strategy.
type Kind string

const (
	// KindPhased ranks in successive phases, each re-scoring the survivors
	// of the previous one.
	KindPhased Kind = "phased"
	// KindRRF combines per-signal ranks with weighted reciprocal rank fusion.
	KindRRF Kind = "rrf"
)

// LateInteraction selects how passage token matches are aggregated.
type LateInteraction string

const (
	MaxSimLocal  LateInteraction = "local"
	MaxSimGlobal LateInteraction = "global"
)

// DefaultGlobalWindow is the number of candidates the global phase re-ranks.
const DefaultGlobalWindow = 1000

// Policy configures fusion.
type Policy struct {
	Kind Kind

	// FirstPhase orders every hit. FirstPhasePool keeps the top N (0 keeps all).
	FirstPhase     string
	FirstPhasePool int

	// SecondPhase, if set, re-ranks the first-phase pool by this signal.
	SecondPhase string

	// LateInteraction chooses the in-process MaxSim variant used when a hit
	// carries token embeddings instead of a late-interaction score.
	LateInteraction LateInteraction

	// GlobalWeights, if non-empty, re-ranks the top GlobalWindow candidates
	// by the weighted sum of these signals. For KindRRF they weight each
	// signal's reciprocal rank.
	GlobalWeights map[string]float64
	GlobalWindow  int

	// RRFK is the reciprocal rank smoothing constant.
	RRFK int
}

// DefaultPolicy orders by vector similarity and re-ranks by lexical plus
// vector score.
func DefaultPolicy() Policy {
	return Policy{
		Kind:            KindPhased,
		FirstPhase:      search.SignalVector,
		LateInteraction: MaxSimLocal,
		GlobalWeights:   map[string]float64{search.SignalLexical: 1, search.SignalVector: 1},
		GlobalWindow:    DefaultGlobalWindow,
		RRFK:            DefaultK,
	}
}

// PolicyFrom converts loaded configuration into a Policy.
func PolicyFrom(c config.FusionConfig) Policy {
	return Policy{
		Kind:            Kind(c.Kind),
		FirstPhase:      c.FirstPhase,
		FirstPhasePool:  c.FirstPhasePool,
		SecondPhase:     c.SecondPhase,
		LateInteraction: LateInteraction(c.LateInteraction),
		GlobalWeights:   c.GlobalWeights,
		GlobalWindow:    c.GlobalWindow,
		RRFK:            c.RRFK,
	}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	switch p.Kind {
	case KindPhased:
		if p.FirstPhase == "" {
			return fmt.Errorf("phased fusion requires a first-phase signal")
		}
	case KindRRF:
		if len(p.GlobalWeights) == 0 {
			return fmt.Errorf("rrf fusion requires at least one weighted signal")
		}
	default:
		return fmt.Errorf("unknown fusion kind %q", p.Kind)
	}
	if p.FirstPhasePool < 0 || p.GlobalWindow < 0 || p.RRFK < 0 {
		return fmt.Errorf("fusion windows cannot be negative")
	}
	switch p.LateInteraction {
	case "", MaxSimLocal, MaxSimGlobal:
	default:
		return fmt.Errorf("unknown late interaction %q", p.LateInteraction)
	}
	return nil
}

// RequiredSignals returns, in a stable order, every signal the policy reads.
func (p Policy) RequiredSignals() []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	if p.Kind == KindPhased {
		add(p.FirstPhase)
		add(p.SecondPhase)
	}
	for _, s := range weightedSignals(p.GlobalWeights) {
		add(s)
	}
	return out
}

// weightedSignals returns the weight keys in sorted order so sums are
// computed identically on every run.
func weightedSignals(weights map[string]float64) []string {
	out := make([]string, 0, len(weights))
	for s := range weights {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// New returns the ranker for p.
func New(p Policy, encoder TokenEncoder) (search.Ranker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Kind {
	case KindRRF:
		return &RRF{policy: p}, nil
	default:
		return &Phased{policy: p, encoder: encoder}, nil
	}
}

// validateSignals reports every (document, signal) pair that is absent or
// not a finite number.
func validateSignals(hits []search.Hit, required []string) error {
	var missing []MissingSignal
	for _, h := range hits {
		for _, s := range required {
			v, ok := h.Signals[s]
			switch {
			case !ok:
				missing = append(missing, MissingSignal{DocumentID: h.Document.ID, Signal: s, Reason: "absent"})
			case math.IsNaN(v) || math.IsInf(v, 0):
				missing = append(missing, MissingSignal{DocumentID: h.Document.ID, Signal: s, Reason: "not finite"})
			}
		}
	}
	if len(missing) > 0 {
		return &MissingSignalError{Missing: missing}
	}
	return nil
}

// dedupe keeps the first hit per document.
func dedupe(hits []search.Hit) []search.Hit {
	seen := make(map[string]bool, len(hits))
	out := make([]search.Hit, 0, len(hits))
	for _, h := range hits {
		if seen[h.Document.ID] {
			continue
		}
		seen[h.Document.ID] = true
		out = append(out, h)
	}
	return out
}

// sortCandidates orders by score descending, then document ID ascending.
func sortCandidates(c []search.ScoredCandidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].FusedScore != c[j].FusedScore {
			return c[i].FusedScore > c[j].FusedScore
		}
		return c[i].DocumentID < c[j].DocumentID
	})
}

func assignRanks(c []search.ScoredCandidate) {
	for i := range c {
		c[i].Rank = i + 1
	}
}

func copySignals(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
