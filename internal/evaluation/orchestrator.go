// Package evaluation drives query synthesis, retrieval, fusion and judging
// over a batch of documents and reports retrieval metrics.
package evaluation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/judge"
	"github.com/ricesearch/rice-eval/internal/metrics"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/search"
	"github.com/ricesearch/rice-eval/internal/sink"
	"github.com/ricesearch/rice-eval/internal/store"
)

// Defaults.
const (
	DefaultWorkers   = 4
	DefaultModelName = "default"
	RunsSheet        = "runs"
)

// DefaultKs are the cut-offs metrics are reported at.
var DefaultKs = []int{1, 3, 5, 10}

// QueryGenerator writes a query for a document.
type QueryGenerator interface {
	GenerateQuery(ctx context.Context, doc corpus.Document) (corpus.Query, error)
}

// Searcher returns the fused ranking for a query.
type Searcher interface {
	Search(ctx context.Context, q corpus.Query) (*search.Result, error)
}

// Judger labels a (query, document) pair.
type Judger interface {
	Judge(ctx context.Context, query string, doc corpus.Document) (judge.Judgment, error)
	Mode() judge.Mode
}

// RecordWriter receives one record per validated judgment.
type RecordWriter interface {
	Write(record any) error
}

// Config configures an Orchestrator.
type Config struct {
	// SampleLimit bounds the number of tasks per run (0 = all).
	SampleLimit int
	Workers     int
	// JudgeTopK bounds the candidates judged per query (0 = all).
	JudgeTopK int
	ModelName string
	Ks        []int
}

// Deps are the collaborators of an Orchestrator. Search and Judge are
// required; the rest may be nil.
type Deps struct {
	Synth     QueryGenerator
	Search    Searcher
	Judge     Judger
	Store     store.Store
	Events    *bus.Emitter
	Table     sink.Table
	Judgments RecordWriter
}

// Orchestrator runs evaluations.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates an orchestrator. log and m may be nil.
func New(cfg Config, deps Deps, log *logger.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if deps.Search == nil || deps.Judge == nil {
		return nil, fmt.Errorf("search and judge are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.SampleLimit < 0 || cfg.JudgeTopK < 0 {
		return nil, fmt.Errorf("limits cannot be negative")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModelName
	}
	if len(cfg.Ks) == 0 {
		cfg.Ks = DefaultKs
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		log:     logger.OrDefault(log).WithComponent("evaluation"),
		metrics: m,
	}, nil
}

// prepared is the stage A output of one task.
type prepared struct {
	ranking Ranking
	docs    map[string]corpus.Document
}

// pair is one stage B unit of work.
type pair struct {
	query string
	doc   corpus.Document
}

// pairRef places a judged pair at a ranking position.
type pairRef struct {
	ranking int
	pair    int
}

// Run evaluates tasks in input order. Queries are obtained, searched and
// ranked on a bounded pool; the top candidates of each ranking are then
// judged on a second pool. Backend failures skip the task and the run
// continues. When ctx is cancelled the run is returned as aborted with the
// judgments validated so far, along with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, tasks []Task) (*Run, error) {
	return o.RunAs(ctx, uuid.NewString(), tasks)
}

// RunAs is Run with a caller-chosen run ID.
func (o *Orchestrator) RunAs(ctx context.Context, id string, tasks []Task) (*Run, error) {
	tasks = o.limit(tasks)

	run := &Run{
		ID:        id,
		ModelName: o.cfg.ModelName,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	ctx = logger.NewContext(ctx, run.ID)
	log := o.log.WithContext(ctx)
	log.Info("evaluation started", "tasks", len(tasks), "workers", o.cfg.Workers, "model", run.ModelName)
	o.emit(ctx, bus.TypeRunStarted, run.ID, runStarted{ID: run.ID, ModelName: run.ModelName, Tasks: len(tasks)})

	// Stage A.
	slots := make([]*prepared, len(tasks))
	taskSkips := make([]*Skip, len(tasks))
	var ga errgroup.Group
	ga.SetLimit(o.cfg.Workers)
	for i, t := range tasks {
		ga.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			p, err := o.prepare(ctx, run.ID, t)
			if err != nil {
				if ctx.Err() == nil {
					taskSkips[i] = o.skip(ctx, run.ID, StageTask, t.Document.ID, queryText(t.Query), err)
				}
				return nil
			}
			slots[i] = p
			return nil
		})
	}
	_ = ga.Wait()

	// Stage B. A pair shared by several rankings is judged once.
	var pairs []pair
	var refs []pairRef
	seen := make(map[string]int)
	for i, p := range slots {
		if p == nil {
			continue
		}
		run.Rankings = append(run.Rankings, p.ranking)
		for _, c := range p.ranking.Candidates {
			key := store.Key(p.ranking.Query.Text, c.DocumentID)
			idx, ok := seen[key]
			if !ok {
				doc, found := p.docs[c.DocumentID]
				if !found {
					doc = corpus.Document{ID: c.DocumentID}
				}
				idx = len(pairs)
				seen[key] = idx
				pairs = append(pairs, pair{query: p.ranking.Query.Text, doc: doc})
			}
			refs = append(refs, pairRef{ranking: i, pair: idx})
		}
	}

	judged := make([]*judge.Judgment, len(pairs))
	pairSkips := make([]*Skip, len(pairs))
	var gb errgroup.Group
	gb.SetLimit(o.cfg.Workers)
	for i, pr := range pairs {
		gb.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			j, err := o.deps.Judge.Judge(ctx, pr.query, pr.doc)
			if err != nil {
				if ctx.Err() == nil {
					pairSkips[i] = o.skip(ctx, run.ID, StagePair, pr.doc.ID, pr.query, err)
				}
				return nil
			}
			if err := o.record(ctx, run.ID, j); err != nil {
				if ctx.Err() == nil {
					pairSkips[i] = o.skip(ctx, run.ID, StageStore, pr.doc.ID, pr.query, err)
				}
				return nil
			}
			judged[i] = &j
			return nil
		})
	}
	_ = gb.Wait()

	for _, s := range taskSkips {
		if s != nil {
			run.Skipped = append(run.Skipped, *s)
		}
	}
	for _, s := range pairSkips {
		if s != nil {
			run.Skipped = append(run.Skipped, *s)
		}
	}
	for _, j := range judged {
		if j != nil {
			run.Judgments = append(run.Judgments, *j)
		}
	}

	run.Results = o.score(slots, refs, judged)
	run.Summary = Summarize(run.Results)

	run.Status = StatusCompleted
	if ctx.Err() != nil {
		run.Status = StatusAborted
	}
	run.FinishedAt = time.Now()

	// Cancellation must not prevent the partial run from being reported.
	finishCtx := context.WithoutCancel(ctx)
	o.writeTable(finishCtx, run)
	if err := o.deps.Events.Emit(finishCtx, bus.TypeRunFinished, run.ID, runSummary(run)); err != nil {
		log.Warn("failed to publish run event", "error", err.Error())
	}
	o.metrics.RecordRun(string(run.Status), run.FinishedAt.Sub(run.StartedAt))

	log.Info("evaluation finished",
		"status", run.Status,
		"rankings", len(run.Rankings),
		"judgments", len(run.Judgments),
		"skipped", len(run.Skipped),
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	)

	if run.Status == StatusAborted {
		return run, ctx.Err()
	}
	return run, nil
}

// limit applies the sample limit.
func (o *Orchestrator) limit(tasks []Task) []Task {
	if o.cfg.SampleLimit > 0 && len(tasks) > o.cfg.SampleLimit {
		return tasks[:o.cfg.SampleLimit]
	}
	return tasks
}

func (o *Orchestrator) prepare(ctx context.Context, runID string, t Task) (*prepared, error) {
	var q corpus.Query
	if t.Query != nil && strings.TrimSpace(t.Query.Text) != "" {
		q = *t.Query
	} else {
		if o.deps.Synth == nil {
			return nil, apperrors.ValidationErrorf("document %s has no query and no synthesizer is configured", t.Document.ID)
		}
		gen, err := o.deps.Synth.GenerateQuery(ctx, t.Document)
		if err != nil {
			return nil, err
		}
		q = gen
		o.emit(ctx, bus.TypeQuerySynthesized, runID, corpus.NewRecord(t.Document, q))
	}

	res, err := o.deps.Search.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	candidates := res.Candidates
	if o.cfg.JudgeTopK > 0 && len(candidates) > o.cfg.JudgeTopK {
		candidates = candidates[:o.cfg.JudgeTopK]
	}
	return &prepared{
		ranking: Ranking{Query: q, SourceID: t.Document.ID, Candidates: candidates},
		docs:    res.Documents,
	}, nil
}

// record persists a validated judgment. A store failure leaves the pair
// out of the run so the run and the store agree.
func (o *Orchestrator) record(ctx context.Context, runID string, j judge.Judgment) error {
	if o.deps.Store != nil {
		if err := o.deps.Store.Put(ctx, j); err != nil {
			if !apperrors.IsBackend(err) {
				err = apperrors.BackendError("storing judgment failed", err)
			}
			return err
		}
	}
	if o.deps.Judgments != nil {
		if err := o.deps.Judgments.Write(j); err != nil {
			o.log.WithContext(ctx).WithPair(j.QueryText, j.DocumentID).Warn("failed to write judgment", "error", err.Error())
		}
	}
	o.emit(ctx, bus.TypeJudgmentRecorded, runID, j)
	return nil
}

func (o *Orchestrator) skip(ctx context.Context, runID, stage, documentID, query string, err error) *Skip {
	s := &Skip{
		Stage:      stage,
		DocumentID: documentID,
		Query:      query,
		Kind:       apperrors.Kind(err),
		Reason:     err.Error(),
	}
	o.metrics.RecordSkip(stage)
	o.log.WithContext(ctx).Warn("skipping "+stage,
		"document_id", documentID,
		"query", query,
		"error_kind", s.Kind,
		"error", s.Reason,
	)

	eventType := bus.TypePairSkipped
	if stage == StageTask {
		eventType = bus.TypeTaskSkipped
	}
	o.emit(ctx, eventType, runID, s)
	return s
}

func (o *Orchestrator) emit(ctx context.Context, eventType, runID string, payload any) {
	if err := o.deps.Events.Emit(ctx, eventType, runID, payload); err != nil {
		o.log.WithContext(ctx).Warn("failed to publish event", "type", eventType, "error", err.Error())
	}
}

// score computes metrics for every ranking whose candidates were all judged,
// using labels in rank order.
func (o *Orchestrator) score(slots []*prepared, refs []pairRef, judged []*judge.Judgment) []*QueryResult {
	labels := make(map[int][]int)
	complete := make(map[int]bool)
	for i, p := range slots {
		if p != nil {
			complete[i] = true
		}
	}
	for _, r := range refs {
		j := judged[r.pair]
		if j == nil {
			complete[r.ranking] = false
			continue
		}
		labels[r.ranking] = append(labels[r.ranking], j.FinalLabel)
	}

	threshold := o.deps.Judge.Mode().RelevantThreshold()
	var results []*QueryResult
	for i, p := range slots {
		if p == nil || !complete[i] {
			continue
		}
		results = append(results, Score(p.ranking.Query.Text, labels[i], o.cfg.Ks, threshold))
	}
	return results
}

// writeTable upserts per-query metrics into one sheet per metric, keyed by
// query and model name, and appends a row to the runs sheet. Failures are
// logged; the run itself is already complete.
func (o *Orchestrator) writeTable(ctx context.Context, run *Run) {
	if o.deps.Table == nil {
		return
	}
	log := o.log.WithContext(ctx)

	for _, r := range run.Results {
		for _, c := range metricCells(r, o.cfg.Ks) {
			if err := o.deps.Table.Upsert(ctx, c.sheet, r.Query, run.ModelName, formatMetric(c.value)); err != nil {
				log.Warn("failed to write metric", "sheet", c.sheet, "query", r.Query, "error", err.Error())
				return
			}
		}
	}

	row := map[string]string{
		"run_id":    run.ID,
		"model":     run.ModelName,
		"status":    string(run.Status),
		"queries":   strconv.Itoa(len(run.Rankings)),
		"judgments": strconv.Itoa(len(run.Judgments)),
		"skipped":   strconv.Itoa(len(run.Skipped)),
	}
	if run.Summary != nil {
		row["mean_mrr"] = formatMetric(run.Summary.MeanMRR)
		row["map"] = formatMetric(run.Summary.MAP)
	}
	if err := o.deps.Table.Append(ctx, RunsSheet, row); err != nil {
		log.Warn("failed to append run row", "error", err.Error())
	}
}

type metricCell struct {
	sheet string
	value float64
}

func metricCells(r *QueryResult, ks []int) []metricCell {
	cells := make([]metricCell, 0, 3*len(ks)+2)
	for _, k := range ks {
		cells = append(cells,
			metricCell{fmt.Sprintf("ndcg@%d", k), r.NDCG[k]},
			metricCell{fmt.Sprintf("precision@%d", k), r.Precision[k]},
			metricCell{fmt.Sprintf("recall@%d", k), r.Recall[k]},
		)
	}
	return append(cells, metricCell{"mrr", r.MRR}, metricCell{"ap", r.AP})
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func queryText(q *corpus.Query) string {
	if q == nil {
		return ""
	}
	return q.Text
}

// runStarted is the payload of a run.started event.
type runStarted struct {
	ID        string `json:"id"`
	ModelName string `json:"model_name"`
	Tasks     int    `json:"tasks"`
}

// runFinished is the payload of a run.finished event.
type runFinished struct {
	ID        string   `json:"id"`
	ModelName string   `json:"model_name"`
	Status    Status   `json:"status"`
	Queries   int      `json:"queries"`
	Judgments int      `json:"judgments"`
	Skipped   int      `json:"skipped"`
	Summary   *Summary `json:"summary,omitempty"`
}

func runSummary(r *Run) runFinished {
	return runFinished{
		ID:        r.ID,
		ModelName: r.ModelName,
		Status:    r.Status,
		Queries:   len(r.Rankings),
		Judgments: len(r.Judgments),
		Skipped:   len(r.Skipped),
		Summary:   r.Summary,
	}
}
