package evaluation

import (
	"time"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/judge"
	"github.com/ricesearch/rice-eval/internal/search"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Task is one document to evaluate. A nil Query is synthesized.
type Task struct {
	Document corpus.Document `json:"document"`
	Query    *corpus.Query   `json:"query,omitempty"`
}

// TasksFromRecords builds tasks from document records, keeping any query a
// record already carries.
func TasksFromRecords(records []corpus.Record) []Task {
	tasks := make([]Task, len(records))
	for i, r := range records {
		tasks[i] = Task{Document: r.Document(), Query: r.ToQuery()}
	}
	return tasks
}

// TitleTasks uses each document's title as a human-authored query.
func TitleTasks(docs []corpus.Document) []Task {
	tasks := make([]Task, len(docs))
	for i, d := range docs {
		q := corpus.HumanQuery(d.Title)
		tasks[i] = Task{Document: d, Query: &q}
	}
	return tasks
}

// Ranking is the fused candidate list judged for one query.
type Ranking struct {
	Query      corpus.Query             `json:"query"`
	SourceID   string                   `json:"source_id"`
	Candidates []search.ScoredCandidate `json:"candidates"`
}

// Skip stages.
const (
	StageTask  = "task"
	StagePair  = "pair"
	StageStore = "store"
)

// Skip records a task or pair that produced no recorded judgment.
type Skip struct {
	Stage      string `json:"stage"`
	DocumentID string `json:"document_id"`
	Query      string `json:"query,omitempty"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
}

// Run accumulates the results of one evaluation.
type Run struct {
	ID         string           `json:"id"`
	ModelName  string           `json:"model_name"`
	Status     Status           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	Judgments  []judge.Judgment `json:"judgments"`
	Rankings   []Ranking        `json:"rankings"`
	Skipped    []Skip           `json:"skipped,omitempty"`
	Results    []*QueryResult   `json:"results,omitempty"`
	Summary    *Summary         `json:"summary,omitempty"`
}

// QueryResult holds IR metrics for a single query.
type QueryResult struct {
	Query       string          `json:"query"`
	NDCG        map[int]float64 `json:"ndcg"`
	Recall      map[int]float64 `json:"recall"`
	Precision   map[int]float64 `json:"precision"`
	MRR         float64         `json:"mrr"`
	AP          float64         `json:"ap"`
	ResultCount int             `json:"result_count"`
}

// Summary aggregates metrics across queries.
type Summary struct {
	QueryCount    int             `json:"query_count"`
	MeanNDCG      map[int]float64 `json:"mean_ndcg"`
	MeanRecall    map[int]float64 `json:"mean_recall"`
	MeanPrecision map[int]float64 `json:"mean_precision"`
	MeanMRR       float64         `json:"mean_mrr"`
	MAP           float64         `json:"map"`
}
