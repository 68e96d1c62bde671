package vespa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ricesearch/rice-eval/internal/corpus"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/search"
)

// queryResponse is the subset of the Vespa query API result the backend reads.
type queryResponse struct {
	Root struct {
		Fields struct {
			TotalCount int `json:"totalCount"`
		} `json:"fields"`
		Errors   []queryError `json:"errors"`
		Children []queryHit   `json:"children"`
	} `json:"root"`
}

type queryError struct {
	Code    int    `json:"code"`
	Summary string `json:"summary"`
	Message string `json:"message"`
}

type queryHit struct {
	ID        string  `json:"id"`
	Relevance float64 `json:"relevance"`
	Fields    struct {
		ID            string                     `json:"id"`
		Title         string                     `json:"title"`
		Body          string                     `json:"body"`
		Authors       []string                   `json:"authors"`
		MatchFeatures map[string]json.RawMessage `json:"matchfeatures"`
	} `json:"fields"`
}

// Backend is a search.Backend over a Vespa ranking profile.
type Backend struct {
	client *Client
	cfg    Config
	log    *logger.Logger
}

// NewBackend creates a backend. log may be nil.
func NewBackend(cfg Config, log *logger.Logger) (*Backend, error) {
	if cfg.Ranking == "" {
		cfg.Ranking = DefaultRanking
	}
	if cfg.YQL == "" {
		cfg.YQL = DefaultYQL
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Backend{client: client, cfg: cfg, log: logger.OrDefault(log).WithComponent("vespa")}, nil
}

// Name implements search.Backend.
func (b *Backend) Name() string { return "vespa" }

// Search implements search.Backend.
func (b *Backend) Search(ctx context.Context, query string, nHits int) ([]search.Hit, error) {
	if nHits <= 0 {
		nHits = search.DefaultNHits
	}

	var resp queryResponse
	if err := b.client.post(ctx, "/search/", b.request(query, nHits), &resp); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperrors.BackendError("vespa query failed", err)
	}
	if len(resp.Root.Errors) > 0 {
		e := resp.Root.Errors[0]
		return nil, apperrors.BackendError(
			fmt.Sprintf("vespa returned error %d: %s: %s", e.Code, e.Summary, e.Message), nil)
	}

	hits := make([]search.Hit, 0, len(resp.Root.Children))
	for _, c := range resp.Root.Children {
		hit, err := b.toHit(c)
		if err != nil {
			return nil, apperrors.BackendError("unusable vespa hit", err)
		}
		hits = append(hits, hit)
	}

	b.log.WithContext(ctx).Debug("vespa search",
		"query", query,
		"ranking", b.cfg.Ranking,
		"hits", len(hits),
		"total", resp.Root.Fields.TotalCount,
	)
	return hits, nil
}

// request builds the query API body. Each configured query tensor is
// computed server-side from the query text.
func (b *Backend) request(query string, nHits int) map[string]any {
	body := map[string]any{
		"yql":     b.cfg.YQL,
		"query":   query,
		"ranking": b.cfg.Ranking,
		"hits":    nHits,
	}
	if b.cfg.Timeout > 0 {
		body["timeout"] = b.cfg.Timeout.String()
	}

	names := make([]string, 0, len(b.cfg.Embedders))
	for name := range b.cfg.Embedders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		body["input.query("+name+")"] = embedExpr(b.cfg.Embedders[name], query)
	}
	return body
}

func embedExpr(embedder, text string) string {
	if embedder == "" {
		return "embed(" + strconv.Quote(text) + ")"
	}
	return "embed(" + embedder + ", " + strconv.Quote(text) + ")"
}

func (b *Backend) toHit(c queryHit) (search.Hit, error) {
	id := c.Fields.ID
	if id == "" {
		id = documentIDFromVespaID(c.ID)
	}
	if id == "" {
		return search.Hit{}, fmt.Errorf("hit %q has no document id", c.ID)
	}

	signals := make(map[string]float64, len(c.Fields.MatchFeatures))
	for feature, raw := range c.Fields.MatchFeatures {
		name := feature
		if len(b.cfg.Features) > 0 {
			mapped, ok := b.cfg.Features[feature]
			if !ok {
				continue
			}
			name = mapped
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			// Tensor-valued features are not signals.
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return search.Hit{}, fmt.Errorf("hit %s: feature %s is not finite", id, feature)
		}
		signals[name] = v
	}

	return search.Hit{
		Document: corpus.Document{
			ID:      id,
			Title:   c.Fields.Title,
			Body:    c.Fields.Body,
			Authors: c.Fields.Authors,
		},
		Signals: signals,
	}, nil
}

// documentIDFromVespaID extracts the user-specified part of
// "id:<namespace>:<type>::<id>".
func documentIDFromVespaID(vespaID string) string {
	if _, rest, ok := strings.Cut(vespaID, "::"); ok {
		return rest
	}
	return ""
}
