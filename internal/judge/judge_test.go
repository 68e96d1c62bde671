package judge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ricesearch/rice-eval/internal/corpus"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/reasoning"
	"github.com/ricesearch/rice-eval/internal/retry"
)

type reply struct {
	text string
	err  error
}

// scripted answers calls in order and records every conversation it saw.
type scripted struct {
	mu      sync.Mutex
	replies []reply
	calls   [][]reasoning.Message
}

func (s *scripted) Complete(ctx context.Context, messages []reasoning.Message, maxTokens int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messages)
	if len(s.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.text, r.err
}

var trafficDoc = corpus.Document{
	ID:    "a1",
	Title: "Graph neural networks for traffic forecasting",
	Body:  "We model road networks as graphs and predict traffic flow with GNNs.",
}

const trafficQuery = "what methods predict traffic using graph neural networks"

func newTestJudge(t *testing.T, svc reasoning.Service, mode Mode, onTransition func(Transition)) *Judge {
	t.Helper()
	j, err := New(svc, Config{
		Mode:         mode,
		Policy:       retry.Immediate(10),
		RepairJSON:   true,
		OnTransition: onTransition,
	}, logger.Discard(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return j
}

func TestJudge_GradedHappyPath(t *testing.T) {
	svc := &scripted{replies: []reply{
		{text: " 3 \n"},
		{text: `{"explanation": "The article is exactly about GNN traffic prediction.", "eval": 3}`},
	}}
	var states []State
	j := newTestJudge(t, svc, ModeGraded, func(tr Transition) { states = append(states, tr.To) })

	got, err := j.Judge(context.Background(), trafficQuery, trafficDoc)
	if err != nil {
		t.Fatalf("Judge() error = %v", err)
	}

	want := Judgment{
		QueryText:       trafficQuery,
		DocumentID:      "a1",
		Title:           trafficDoc.Title,
		Mode:            ModeGraded,
		InitialResponse: "3",
		InitialLabel:    3,
		FinalLabel:      3,
		Explanation:     "The article is exactly about GNN traffic prediction.",
		Attempts:        2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Judge() mismatch (-want +got):\n%s", diff)
	}

	wantStates := []State{StateAwaitingInitial, StateAwaitingFeedback, StateParsingFeedback, StateValidated}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}

	// The critique round must quote the first answer and the query.
	feedback := svc.calls[1][len(svc.calls[1])-1].Content
	if !strings.Contains(feedback, trafficQuery) || !strings.Contains(feedback, "3") {
		t.Errorf("feedback prompt does not carry the query and initial answer: %q", feedback)
	}
}

func TestJudge_OutOfRangeEvalRetriesFeedbackOnly(t *testing.T) {
	svc := &scripted{replies: []reply{
		{text: "2"},
		{text: `{"explanation": "very relevant", "eval": "5"}`},
		{text: `{"explanation": "relevant", "eval": "2"}`},
	}}
	var retries []State
	j := newTestJudge(t, svc, ModeGraded, func(tr Transition) {
		if tr.To == StateRetryValidation {
			retries = append(retries, tr.From)
		}
	})

	got, err := j.Judge(context.Background(), trafficQuery, trafficDoc)
	if err != nil {
		t.Fatalf("Judge() error = %v", err)
	}
	if got.FinalLabel != 2 || got.Attempts != 3 {
		t.Errorf("got eval=%d attempts=%d, want eval=2 attempts=3", got.FinalLabel, got.Attempts)
	}
	if diff := cmp.Diff([]State{StateParsingFeedback}, retries); diff != "" {
		t.Errorf("retry origins mismatch (-want +got):\n%s", diff)
	}
	// Round 1 is not asked again: the third call is another critique.
	if len(svc.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(svc.calls))
	}
	if diff := cmp.Diff(svc.calls[1], svc.calls[2]); diff != "" {
		t.Errorf("retried critique differs from the first one:\n%s", diff)
	}
}

func TestJudge_TransportFailureThenSuccess(t *testing.T) {
	svc := &scripted{replies: []reply{
		{err: apperrors.TransportError("reasoning", errors.New("connection reset"))},
		{text: "1"},
		{err: errors.New("unclassified")},
		{text: `{"explanation": "same topic only", "eval": 1}`},
	}}
	var kinds []State
	j := newTestJudge(t, svc, ModeGraded, func(tr Transition) {
		if tr.To == StateRetryTransport || tr.To == StateRetryValidation {
			kinds = append(kinds, tr.To)
		}
	})

	got, err := j.Judge(context.Background(), trafficQuery, trafficDoc)
	if err != nil {
		t.Fatalf("Judge() error = %v", err)
	}
	if got.FinalLabel != 1 || got.InitialLabel != 1 || got.Attempts != 4 {
		t.Errorf("unexpected judgment %+v", got)
	}
	if diff := cmp.Diff([]State{StateRetryTransport, StateRetryTransport}, kinds); diff != "" {
		t.Errorf("retry kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestJudge_Boolean(t *testing.T) {
	tests := []struct {
		name     string
		replies  []reply
		want     int
		attempts int
	}{
		{name: "relevant", replies: []reply{{text: "1"}}, want: 1, attempts: 1},
		{name: "not relevant with whitespace", replies: []reply{{text: "\n0 "}}, want: 0, attempts: 1},
		{name: "graded answer rejected", replies: []reply{{text: "2"}, {text: "1"}}, want: 1, attempts: 2},
		{name: "prose rejected", replies: []reply{{text: "Yes, relevant."}, {text: "0"}}, want: 0, attempts: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &scripted{replies: tt.replies}
			j := newTestJudge(t, svc, ModeBoolean, nil)

			got, err := j.Judge(context.Background(), trafficQuery, trafficDoc)
			if err != nil {
				t.Fatalf("Judge() error = %v", err)
			}
			if got.FinalLabel != tt.want || got.Attempts != tt.attempts {
				t.Errorf("got eval=%d attempts=%d, want eval=%d attempts=%d",
					got.FinalLabel, got.Attempts, tt.want, tt.attempts)
			}
			if got.Explanation != "" {
				t.Errorf("boolean judgment has explanation %q", got.Explanation)
			}
		})
	}
}

func TestJudge_Deterministic(t *testing.T) {
	script := func() *scripted {
		return &scripted{replies: []reply{
			{text: "2"},
			{text: "Sure! ```json\n{\"explanation\": \"close\", \"eval\": 2}\n```"},
		}}
	}

	first, err := newTestJudge(t, script(), ModeGraded, nil).Judge(context.Background(), trafficQuery, trafficDoc)
	if err != nil {
		t.Fatalf("first Judge() error = %v", err)
	}
	second, err := newTestJudge(t, script(), ModeGraded, nil).Judge(context.Background(), trafficQuery, trafficDoc)
	if err != nil {
		t.Fatalf("second Judge() error = %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-run differs (-first +second):\n%s", diff)
	}
}

func TestJudge_GivesUpUnderBoundedPolicy(t *testing.T) {
	svc := &scripted{replies: []reply{
		{text: "1"},
		{text: "not json"},
		{text: "still not json"},
	}}
	j, err := New(svc, Config{Mode: ModeGraded, Policy: retry.Immediate(2)}, logger.Discard(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = j.Judge(context.Background(), trafficQuery, trafficDoc)
	if !apperrors.IsValidation(err) {
		t.Fatalf("Judge() error = %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), "giving up after 2") {
		t.Errorf("error %q does not report the attempt budget", err)
	}
}

func TestJudge_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := reasoning.ServiceFunc(func(ctx context.Context, _ []reasoning.Message, _ int) (string, error) {
		cancel()
		return "", apperrors.TransportError("reasoning", errors.New("connection reset"))
	})
	j, err := New(svc, Config{Mode: ModeGraded, Policy: retry.DefaultPolicy()}, logger.Discard(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = j.Judge(ctx, trafficQuery, trafficDoc)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Judge() error = %v, want context.Canceled", err)
	}
}

func TestJudgeAll(t *testing.T) {
	svc := &scripted{replies: []reply{{text: "1"}, {text: "0"}}}
	j := newTestJudge(t, svc, ModeBoolean, nil)

	docs := []corpus.Document{trafficDoc, {ID: "b2", Title: "Protein folding", Body: "Folding dynamics."}}
	got, err := j.JudgeAll(context.Background(), trafficQuery, docs)
	if err != nil {
		t.Fatalf("JudgeAll() error = %v", err)
	}
	if len(got) != 2 || got[0].DocumentID != "a1" || got[1].DocumentID != "b2" || got[1].FinalLabel != 0 {
		t.Errorf("unexpected judgments %+v", got)
	}
}

func TestNew_Validation(t *testing.T) {
	svc := &scripted{}
	if _, err := New(nil, Config{Mode: ModeGraded}, nil, nil); err == nil {
		t.Error("New(nil service) succeeded")
	}
	if _, err := New(svc, Config{Mode: "fuzzy"}, nil, nil); err == nil {
		t.Error("New(unknown mode) succeeded")
	}
	if _, err := New(svc, Config{Mode: ModeBoolean, Policy: retry.Policy{MaxAttempts: -1}}, nil, nil); err == nil {
		t.Error("New(negative attempts) succeeded")
	}
}
