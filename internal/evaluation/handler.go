package evaluation

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/judge"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/security"
	"github.com/ricesearch/rice-eval/internal/store"
)

// maxKeptRuns bounds the runs served by GET /v1/evaluation/runs/{id}.
const maxKeptRuns = 100

// Handler provides HTTP handlers for evaluation.
type Handler struct {
	orchestrator *Orchestrator
	judge        Judger
	synth        QueryGenerator
	store        store.Store

	progress *Progress
	baseCtx  context.Context
	pending  sync.WaitGroup

	mu    sync.Mutex
	runs  map[string]*Run
	order []string
}

// NewHandler creates an evaluation handler. synth and st may be nil.
func NewHandler(o *Orchestrator, j Judger, synth QueryGenerator, st store.Store) *Handler {
	return &Handler{
		orchestrator: o,
		judge:        j,
		synth:        synth,
		store:        st,
		progress:     NewProgress(),
		baseCtx:      context.Background(),
		runs:         make(map[string]*Run),
	}
}

// WithProgress replaces the tracker unfinished runs are served from.
func (h *Handler) WithProgress(p *Progress) *Handler {
	h.progress = p
	return h
}

// WithBaseContext sets the context background runs execute under.
// Cancelling it aborts them.
func (h *Handler) WithBaseContext(ctx context.Context) *Handler {
	h.baseCtx = ctx
	return h
}

// Wait blocks until every background run has finished.
func (h *Handler) Wait() {
	h.pending.Wait()
}

// RegisterRoutes registers evaluation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluation/run", h.handleRun)
	mux.HandleFunc("GET /v1/evaluation/runs/{id}", h.handleGetRun)
	mux.HandleFunc("POST /v1/evaluation/judge", h.handleJudge)
	mux.HandleFunc("GET /v1/evaluation/judgments", h.handleGetJudgment)
	mux.HandleFunc("POST /v1/evaluation/queries", h.handleQueries)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// RunRequest is the body of POST /v1/evaluation/run. Records without a
// query are synthesized unless UseTitles is set. An async run answers 202
// with its progress at once; otherwise the finished run is returned.
type RunRequest struct {
	Documents []corpus.Record `json:"documents"`
	UseTitles bool            `json:"use_titles,omitempty"`
	Async     bool            `json:"async,omitempty"`
}

// JudgeRequest is the body of POST /v1/evaluation/judge.
type JudgeRequest struct {
	Query    string          `json:"query"`
	Document corpus.Document `json:"document"`
}

// QueriesRequest is the body of POST /v1/evaluation/queries.
type QueriesRequest struct {
	Documents []corpus.Document `json:"documents"`
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError(err.Error()))
		return
	}
	if err := security.ValidateBatch(len(req.Documents)); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}
	for _, rec := range req.Documents {
		if err := security.ValidateDocument(rec.Document()); err != nil {
			apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
			return
		}
	}

	tasks := TasksFromRecords(req.Documents)
	if req.UseTitles {
		docs := make([]corpus.Document, len(req.Documents))
		for i, rec := range req.Documents {
			docs[i] = rec.Document()
		}
		tasks = TitleTasks(docs)
	}

	if req.Async {
		h.startRun(w, tasks)
		return
	}

	run, err := h.orchestrator.Run(r.Context(), tasks)
	if run != nil {
		h.keep(run)
	}
	if err != nil && run == nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// startRun runs tasks in the background and answers with the run's
// initial progress.
func (h *Handler) startRun(w http.ResponseWriter, tasks []Task) {
	id := uuid.NewString()
	tasks = h.orchestrator.limit(tasks)
	h.progress.Begin(id, len(tasks))
	progress, _ := h.progress.Get(id)

	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		run, _ := h.orchestrator.RunAs(h.baseCtx, id, tasks)
		h.keep(run)
	}()
	writeJSON(w, http.StatusAccepted, progress)
}

// handleGetRun returns a finished run, or the progress of one still
// running. Progress counts come from bus events when the tracker is
// subscribed.
func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.Lock()
	run, ok := h.runs[id]
	h.mu.Unlock()

	if ok {
		writeJSON(w, http.StatusOK, run)
		return
	}
	if p, ok := h.progress.Get(id); ok {
		writeJSON(w, http.StatusOK, p)
		return
	}
	apperrors.WriteError(w, apperrors.NotFoundError("run"))
}

func (h *Handler) handleJudge(w http.ResponseWriter, r *http.Request) {
	var req JudgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError(err.Error()))
		return
	}
	if err := security.ValidateQuery(req.Query); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}
	if err := security.ValidateDocument(req.Document); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}

	j, err := h.judge.Judge(r.Context(), req.Query, req.Document)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if h.store != nil {
		if err := h.store.Put(r.Context(), j); err != nil {
			apperrors.WriteError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handler) handleGetJudgment(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		apperrors.WriteError(w, apperrors.NotFoundError("judgment store"))
		return
	}

	query := r.URL.Query().Get("query")
	docID := r.URL.Query().Get("document_id")
	if query == "" && docID == "" {
		js, err := h.store.List(r.Context())
		if err != nil {
			apperrors.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]judge.Judgment{"judgments": js})
		return
	}

	j, err := h.store.Get(r.Context(), query, docID)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handler) handleQueries(w http.ResponseWriter, r *http.Request) {
	if h.synth == nil {
		apperrors.WriteError(w, apperrors.NotFoundError("query synthesizer"))
		return
	}

	var req QueriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError(err.Error()))
		return
	}

	if err := security.ValidateBatch(len(req.Documents)); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}

	records := make([]corpus.Record, 0, len(req.Documents))
	for _, d := range req.Documents {
		if err := security.ValidateDocument(d); err != nil {
			apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
			return
		}
		q, err := h.synth.GenerateQuery(r.Context(), d)
		if err != nil {
			if r.Context().Err() != nil || !apperrors.IsValidation(err) {
				apperrors.WriteError(w, err)
				return
			}
			continue
		}
		records = append(records, corpus.NewRecord(d, q))
	}
	writeJSON(w, http.StatusOK, map[string][]corpus.Record{"records": records})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) keep(run *Run) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.runs[run.ID]; !ok {
		h.order = append(h.order, run.ID)
	}
	h.runs[run.ID] = run
	for len(h.order) > maxKeptRuns {
		delete(h.runs, h.order[0])
		h.order = h.order[1:]
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
