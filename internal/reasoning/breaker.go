package reasoning

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ricesearch/rice-eval/internal/metrics"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// BreakerSettings configures Breaker.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// Breaker stops calling a failing service for a while after consecutive
// transport failures. Rejected calls surface as transport errors so callers
// back off as usual.
type Breaker struct {
	next Service
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Service, s BreakerSettings, log *logger.Logger, m *metrics.Metrics) *Breaker {
	log = logger.OrDefault(log).WithComponent("breaker")
	if s.Name == "" {
		s.Name = "reasoning"
	}
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsTransport(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			m.SetBreakerState(name, int(to))
		},
	}

	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// Complete implements Service.
func (b *Breaker) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Complete(ctx, messages, maxTokens)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", apperrors.TransportError("reasoning", err)
		}
		return "", err
	}
	return out.(string), nil
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
