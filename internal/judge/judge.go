// Package judge labels (query, document) pairs with a relevance grade using
// a reasoning service, retrying until the answer is well formed.
package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/metrics"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/reasoning"
	"github.com/ricesearch/rice-eval/internal/retry"
)

// DefaultMaxTokens bounds each answer.
const DefaultMaxTokens = 1000

// Judgment is the validated relevance label of one (query, document) pair.
// It carries no timestamps: identical inputs and answers produce identical
// records.
type Judgment struct {
	QueryText       string `json:"query"`
	DocumentID      string `json:"document_id"`
	Title           string `json:"title"`
	Mode            Mode   `json:"mode"`
	InitialResponse string `json:"initial_response,omitempty"`
	// InitialLabel is the first-round answer when it parses as a label,
	// otherwise -1.
	InitialLabel int    `json:"initial_label"`
	FinalLabel   int    `json:"eval"`
	Explanation  string `json:"explanation,omitempty"`
	// Attempts counts reasoning service calls, including failed ones.
	Attempts int `json:"attempts"`
}

// Config configures a Judge.
type Config struct {
	Mode      Mode
	MaxTokens int
	Policy    retry.Policy
	// RepairJSON lets the critique parser repair near-JSON answers.
	RepairJSON bool
	// OnTransition, if set, observes every state change.
	OnTransition func(Transition)
}

// Judge runs the judging protocol.
type Judge struct {
	svc     reasoning.Service
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a judge. log and m may be nil.
func New(svc reasoning.Service, cfg Config, log *logger.Logger, m *metrics.Metrics) (*Judge, error) {
	if svc == nil {
		return nil, fmt.Errorf("reasoning service is required")
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Judge{
		svc:     svc,
		cfg:     cfg,
		log:     logger.OrDefault(log).WithComponent("judge"),
		metrics: m,
	}, nil
}

// Mode returns the judge's mode.
func (j *Judge) Mode() Mode { return j.cfg.Mode }

// session holds the protocol state of one pair.
type session struct {
	query string
	doc   corpus.Document
	log   *logger.Logger

	state    State
	resume   State
	round    int
	attempts int
	failures int
	lastErr  error

	initial  string
	feedback string
	result   Judgment
}

// Judge labels doc for query. Under an unbounded policy it only returns an
// error when ctx is done; nothing is recorded for an aborted pair.
func (j *Judge) Judge(ctx context.Context, query string, doc corpus.Document) (Judgment, error) {
	s := &session{
		query: query,
		doc:   doc,
		log:   j.log.WithContext(ctx).WithPair(query, doc.ID),
		state: StatePrompted,
	}

	for {
		if err := ctx.Err(); err != nil {
			return Judgment{}, err
		}

		switch s.state {
		case StatePrompted:
			s.round = 1
			j.moveTo(s, StateAwaitingInitial, nil)

		case StateAwaitingInitial:
			if err := j.stepInitial(ctx, s); err != nil {
				if err := j.fail(s, err, StateAwaitingInitial); err != nil {
					return Judgment{}, err
				}
			}

		case StateAwaitingFeedback:
			s.round = 2
			text, err := j.call(ctx, s, feedbackMessages(s.query, s.doc, s.initial))
			if err != nil {
				if err := j.fail(s, err, StateAwaitingFeedback); err != nil {
					return Judgment{}, err
				}
				continue
			}
			s.feedback = text
			j.moveTo(s, StateParsingFeedback, nil)

		case StateParsingFeedback:
			fb, err := ParseFeedback(s.feedback, j.cfg.RepairJSON)
			if err != nil {
				// Round 2 is asked again with the same first-round answer.
				if err := j.fail(s, err, StateAwaitingFeedback); err != nil {
					return Judgment{}, err
				}
				continue
			}
			s.result = j.judgment(s, fb.Eval, fb.Explanation)
			j.moveTo(s, StateValidated, nil)

		case StateRetryTransport, StateRetryValidation:
			wait := j.cfg.Policy.BackoffFor(s.lastErr, s.failures)
			s.log.Warn("judge attempt failed, retrying",
				"state", string(s.resume),
				"round", s.round,
				"attempt", s.attempts,
				"error_kind", apperrors.Kind(s.lastErr),
				"wait", wait.String(),
				"error", s.lastErr.Error(),
			)
			if err := retry.Sleep(ctx, wait); err != nil {
				return Judgment{}, err
			}
			j.moveTo(s, s.resume, nil)

		case StateValidated:
			j.metrics.RecordJudgment(string(j.cfg.Mode), s.result.FinalLabel)
			s.log.Debug("judgment validated",
				"eval", s.result.FinalLabel,
				"initial", s.result.InitialLabel,
				"attempts", s.attempts,
			)
			return s.result, nil

		default:
			return Judgment{}, fmt.Errorf("judge reached unknown state %q", s.state)
		}
	}
}

// stepInitial asks the first-round question. In boolean mode its answer is
// final and must be a valid label; in graded mode it is kept verbatim.
func (j *Judge) stepInitial(ctx context.Context, s *session) error {
	switch j.cfg.Mode {
	case ModeBoolean:
		text, err := j.call(ctx, s, booleanMessages(s.query, s.doc))
		if err != nil {
			return err
		}
		label, err := ParseBooleanLabel(text)
		if err != nil {
			return err
		}
		s.initial = normalizeInitial(text)
		s.result = j.judgment(s, label, "")
		j.moveTo(s, StateValidated, nil)
		return nil

	case ModeGraded:
		text, err := j.call(ctx, s, initialMessages(s.query, s.doc))
		if err != nil {
			return err
		}
		s.initial = normalizeInitial(text)
		j.moveTo(s, StateAwaitingFeedback, nil)
		return nil

	default:
		return fmt.Errorf("unsupported judge mode %q", j.cfg.Mode)
	}
}

// call invokes the service. Failures the service did not classify count as
// transport failures.
func (j *Judge) call(ctx context.Context, s *session, messages []reasoning.Message) (string, error) {
	s.attempts++
	text, err := j.svc.Complete(ctx, messages, j.cfg.MaxTokens)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	if !apperrors.IsTransport(err) && !apperrors.IsValidation(err) {
		err = apperrors.TransportError("reasoning", err)
	}
	return "", err
}

// fail moves to the retry state matching err, or returns the error when it
// cannot be retried.
func (j *Judge) fail(s *session, err error, resume State) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	s.failures++
	s.lastErr = err
	s.resume = resume

	retryState := StateRetryValidation
	if apperrors.IsTransport(err) {
		retryState = StateRetryTransport
	}
	j.metrics.RecordJudgeRetry(string(s.state), apperrors.Kind(err))

	if !j.cfg.Policy.ShouldRetry(err) {
		return err
	}
	if j.cfg.Policy.Exhausted(s.failures) {
		return fmt.Errorf("judging %s: giving up after %d failed attempts: %w", s.doc.ID, s.failures, err)
	}

	j.moveTo(s, retryState, err)
	return nil
}

func (j *Judge) moveTo(s *session, to State, err error) {
	t := Transition{
		QueryText:  s.query,
		DocumentID: s.doc.ID,
		From:       s.state,
		To:         to,
		Round:      s.round,
		Attempt:    s.attempts,
		Err:        err,
	}
	s.state = to
	if j.cfg.OnTransition != nil {
		j.cfg.OnTransition(t)
	}
}

func (j *Judge) judgment(s *session, final int, explanation string) Judgment {
	initial := -1
	if n, err := parseLabel(s.initial, j.cfg.Mode); err == nil {
		initial = n
	}
	return Judgment{
		QueryText:       s.query,
		DocumentID:      s.doc.ID,
		Title:           s.doc.Title,
		Mode:            j.cfg.Mode,
		InitialResponse: s.initial,
		InitialLabel:    initial,
		FinalLabel:      final,
		Explanation:     explanation,
		Attempts:        s.attempts,
	}
}

// JudgeAll judges docs for one query in order.
func (j *Judge) JudgeAll(ctx context.Context, query string, docs []corpus.Document) ([]Judgment, error) {
	out := make([]Judgment, 0, len(docs))
	for _, d := range docs {
		jd, err := j.Judge(ctx, query, d)
		if err != nil {
			return out, err
		}
		out = append(out, jd)
	}
	return out, nil
}

func normalizeInitial(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
