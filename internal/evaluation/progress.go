package evaluation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ricesearch/rice-eval/internal/bus"
)

// RunProgress is the live state of a run as seen on the event bus.
type RunProgress struct {
	ID        string    `json:"id"`
	ModelName string    `json:"model_name,omitempty"`
	Status    Status    `json:"status"`
	Tasks     int       `json:"tasks"`
	Queries   int       `json:"queries_synthesized"`
	Judgments int       `json:"judgments"`
	Skipped   int       `json:"skipped"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress tracks runs from their bus events. Events may arrive out of
// order; a finished run never returns to running.
type Progress struct {
	mu    sync.Mutex
	runs  map[string]*RunProgress
	order []string
	now   func() time.Time
}

// NewProgress creates an empty tracker.
func NewProgress() *Progress {
	return &Progress{
		runs: make(map[string]*RunProgress),
		now:  time.Now,
	}
}

// Subscribe feeds the tracker from the emitter's topic.
func (p *Progress) Subscribe(ctx context.Context, e *bus.Emitter) error {
	return e.Subscribe(ctx, p.Handle)
}

// Begin registers a run before its first event arrives.
func (p *Progress) Begin(id string, tasks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rp := p.entry(id)
	rp.Tasks = tasks
}

// Get returns a copy of a run's progress.
func (p *Progress) Get(id string) (RunProgress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rp, ok := p.runs[id]
	if !ok {
		return RunProgress{}, false
	}
	return *rp, true
}

// Handle applies one event. It is a bus.Handler.
func (p *Progress) Handle(ctx context.Context, e bus.Event) error {
	if e.RunID == "" {
		return nil
	}

	var started runStarted
	var finished runFinished
	switch e.Type {
	case bus.TypeRunStarted:
		if err := decodePayload(e.Payload, &started); err != nil {
			return err
		}
	case bus.TypeRunFinished:
		if err := decodePayload(e.Payload, &finished); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	rp := p.entry(e.RunID)
	switch e.Type {
	case bus.TypeRunStarted:
		rp.ModelName = started.ModelName
		rp.Tasks = started.Tasks
	case bus.TypeQuerySynthesized:
		rp.Queries++
	case bus.TypeJudgmentRecorded:
		rp.Judgments++
	case bus.TypeTaskSkipped, bus.TypePairSkipped:
		rp.Skipped++
	case bus.TypeRunFinished:
		rp.ModelName = finished.ModelName
		if finished.Status != "" {
			rp.Status = finished.Status
		}
	}
	return nil
}

// entry returns the progress of id, creating it. Callers hold p.mu.
func (p *Progress) entry(id string) *RunProgress {
	rp, ok := p.runs[id]
	if !ok {
		rp = &RunProgress{ID: id, Status: StatusRunning}
		p.runs[id] = rp
		p.order = append(p.order, id)
		for len(p.order) > maxKeptRuns {
			delete(p.runs, p.order[0])
			p.order = p.order[1:]
		}
	}
	rp.UpdatedAt = p.now()
	return rp
}

// decodePayload converts an event payload into v. Payloads are typed
// values on the memory bus and generic JSON after a Kafka round trip.
func decodePayload(payload any, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
