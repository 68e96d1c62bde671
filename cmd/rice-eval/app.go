package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/embed"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/judge"
	"github.com/ricesearch/rice-eval/internal/metrics"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/pkg/security"
	"github.com/ricesearch/rice-eval/internal/qdrant"
	"github.com/ricesearch/rice-eval/internal/reasoning"
	"github.com/ricesearch/rice-eval/internal/retry"
	"github.com/ricesearch/rice-eval/internal/search"
	"github.com/ricesearch/rice-eval/internal/search/fusion"
	"github.com/ricesearch/rice-eval/internal/sink"
	"github.com/ricesearch/rice-eval/internal/store"
	"github.com/ricesearch/rice-eval/internal/synth"
	"github.com/ricesearch/rice-eval/internal/vespa"
)

// app builds components from configuration on first use and closes them
// in reverse order.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	svc      reasoning.Service
	embedder embed.Embedder
	st       store.Store
	stLoaded bool
	emitter  *bus.Emitter
	emLoaded bool
	closers  []func() error
}

func loadApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Debug("configuration loaded",
		"backend", cfg.Backend.Type,
		"reasoning_url", cfg.Reasoning.BaseURL,
		"reasoning_model", cfg.Reasoning.Model,
		"reasoning_api_key", security.MaskSecret(cfg.Reasoning.APIKey),
		"judge_mode", cfg.Judge.Mode,
		"store", cfg.Store.Type,
		"bus", cfg.Bus.Type,
	)
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	return &app{cfg: cfg, log: log, metrics: m}, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases every component opened so far.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err.Error())
		}
	}
	a.closers = nil
}

// reasoning returns the chat service, rate limited and behind a breaker as
// configured.
func (a *app) reasoning() (reasoning.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	rc := a.cfg.Reasoning
	client, err := reasoning.NewOpenAI(reasoning.OpenAIConfig{
		BaseURL:     rc.BaseURL,
		APIKey:      rc.APIKey,
		Model:       rc.Model,
		Temperature: rc.Temperature,
		Timeout:     rc.Timeout,
	}, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("reasoning client: %w", err)
	}

	var svc reasoning.Service = client
	if rc.RequestsPerSecond > 0 {
		svc = reasoning.NewLimited(svc, rc.RequestsPerSecond, rc.Burst)
	}
	if rc.Breaker.Enabled {
		svc = reasoning.NewBreaker(svc, reasoning.BreakerSettings{
			FailureThreshold: rc.Breaker.FailureThreshold,
			OpenTimeout:      rc.Breaker.OpenTimeout,
			HalfOpenRequests: rc.Breaker.HalfOpenRequests,
		}, a.log, a.metrics)
	}
	a.svc = svc
	return svc, nil
}

func (a *app) synthesizer() (*synth.Synthesizer, error) {
	svc, err := a.reasoning()
	if err != nil {
		return nil, err
	}
	sc := a.cfg.Synth
	cfg := synth.DefaultConfig()
	cfg.MaxTokens = a.cfg.Reasoning.MaxTokens
	cfg.Delay = sc.Delay
	cfg.Policy.MaxAttempts = sc.MaxAttempts
	if sc.Backoff > 0 {
		cfg.Policy.Transport = retry.Fixed(sc.Backoff)
		cfg.Policy.Validation = retry.Fixed(sc.Backoff)
	}
	return synth.New(svc, cfg, a.log, a.metrics)
}

func (a *app) judge() (*judge.Judge, error) {
	svc, err := a.reasoning()
	if err != nil {
		return nil, err
	}
	jc := a.cfg.Judge
	mode, err := judge.ParseMode(jc.Mode)
	if err != nil {
		return nil, err
	}
	return judge.New(svc, judge.Config{
		Mode:      mode,
		MaxTokens: a.cfg.Reasoning.MaxTokens,
		Policy: retry.Policy{
			MaxAttempts: jc.MaxAttempts,
			Transport:   retry.Fixed(jc.TransportBackoff),
			Validation:  retry.Fixed(jc.ValidationBackoff),
		},
		RepairJSON: jc.RepairJSON,
	}, a.log, a.metrics)
}

func (a *app) embeddings() (embed.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	ec := a.cfg.Embedding
	client, err := embed.NewOpenAI(embed.OpenAIConfig{
		BaseURL: ec.BaseURL,
		APIKey:  ec.APIKey,
		Model:   ec.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	a.embedder = embed.NewCached(client, ec.CacheSize, a.metrics)
	return a.embedder, nil
}

func (a *app) qdrantBackend() (*qdrant.Backend, error) {
	client, err := qdrant.NewClient(qdrant.ConfigFrom(a.cfg.Qdrant))
	if err != nil {
		return nil, err
	}
	a.onClose(client.Close)

	e, err := a.embeddings()
	if err != nil {
		return nil, err
	}
	return qdrant.NewBackend(client, e, a.log)
}

func (a *app) backend() (search.Backend, error) {
	switch a.cfg.Backend.Type {
	case "vespa":
		return vespa.NewBackend(vespa.ConfigFrom(a.cfg.Vespa), a.log)
	case "qdrant":
		return a.qdrantBackend()
	case "static":
		return search.LoadStaticBackend(a.cfg.Backend.StaticPath)
	default:
		return nil, fmt.Errorf("unknown backend: %s", a.cfg.Backend.Type)
	}
}

func (a *app) searcher() (*search.Service, error) {
	b, err := a.backend()
	if err != nil {
		return nil, err
	}

	// Vespa scores late interaction itself.
	var encoder fusion.TokenEncoder
	if a.cfg.Backend.Type != "vespa" && a.cfg.Embedding.Model != "" {
		e, err := a.embeddings()
		if err != nil {
			return nil, err
		}
		encoder = embed.Tokens{Embedder: e}
	}

	ranker, err := fusion.New(fusion.PolicyFrom(a.cfg.Fusion), encoder)
	if err != nil {
		return nil, fmt.Errorf("fusion policy: %w", err)
	}
	return search.NewService(b, ranker, a.cfg.Backend.NHits, a.log, a.metrics), nil
}

func (a *app) store(ctx context.Context) (store.Store, error) {
	if a.stLoaded {
		return a.st, nil
	}
	st, err := store.New(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}
	if st != nil {
		a.onClose(st.Close)
	}
	a.st, a.stLoaded = st, true
	return st, nil
}

func (a *app) table(ctx context.Context) (sink.Table, error) {
	sc := a.cfg.Sink
	switch sc.Table {
	case "csv":
		return sink.NewCSVTable(sc.CSVDir)
	case "sheets":
		return sink.NewSheetsTable(ctx, sink.SheetsConfig{
			SpreadsheetID:   sc.SpreadsheetID,
			CredentialsFile: sc.CredentialsFile,
			Range:           sc.Range,
		})
	default:
		return nil, nil
	}
}

func (a *app) events() (*bus.Emitter, error) {
	if a.emLoaded {
		return a.emitter, nil
	}
	b, err := bus.NewBus(a.cfg.Bus, a.log, a.metrics)
	if err != nil {
		return nil, err
	}
	a.emLoaded = true
	if b == nil {
		return nil, nil
	}
	a.onClose(b.Close)
	a.emitter = bus.NewEmitter(b, a.cfg.Bus.Topic, "rice-eval")
	return a.emitter, nil
}

func (a *app) orchestrator(ctx context.Context) (*evaluation.Orchestrator, error) {
	deps := evaluation.Deps{}
	var err error

	if deps.Synth, err = a.synthesizer(); err != nil {
		return nil, err
	}
	if deps.Search, err = a.searcher(); err != nil {
		return nil, err
	}
	if deps.Judge, err = a.judge(); err != nil {
		return nil, err
	}
	if deps.Store, err = a.store(ctx); err != nil {
		return nil, err
	}
	if deps.Events, err = a.events(); err != nil {
		return nil, err
	}
	if deps.Table, err = a.table(ctx); err != nil {
		return nil, err
	}
	if path := a.cfg.Sink.JudgmentsLog; path != "" {
		w, err := sink.OpenJSONL(path)
		if err != nil {
			return nil, err
		}
		a.onClose(w.Close)
		deps.Judgments = w
	}

	ec := a.cfg.Eval
	return evaluation.New(evaluation.Config{
		SampleLimit: ec.SampleLimit,
		Workers:     ec.Workers,
		JudgeTopK:   ec.JudgeTopK,
		ModelName:   ec.ModelName,
		Ks:          ec.Ks,
	}, deps, a.log, a.metrics)
}
