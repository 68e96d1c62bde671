package reasoning

import (
	"context"

	"golang.org/x/time/rate"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Limited makes every caller wait on one shared token bucket before calling
// the next service, so concurrent workers stay within a provider quota.
type Limited struct {
	next    Service
	limiter *rate.Limiter
}

// NewLimited wraps next with a limiter of rps requests per second.
// A non-positive rps disables limiting.
func NewLimited(next Service, rps float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Complete implements Service.
func (l *Limited) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", apperrors.TransportError("rate limiter", err)
	}
	return l.next.Complete(ctx, messages, maxTokens)
}
