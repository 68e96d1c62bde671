package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

func TestDo_SuccessAfterTransportErrors(t *testing.T) {
	calls := 0
	var retried []Attempt

	got, attempts, err := Do(context.Background(), Immediate(5), func(a Attempt) {
		retried = append(retried, a)
	}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", apperrors.TransportError("reasoning", errors.New("503"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || attempts != 3 {
		t.Errorf("got (%q, %d), want (ok, 3)", got, attempts)
	}
	if len(retried) != 2 || retried[0].Number != 1 || retried[1].Number != 2 {
		t.Errorf("unexpected retry notifications: %+v", retried)
	}
}

func TestDo_NonRetryable(t *testing.T) {
	calls := 0
	_, attempts, err := Do(context.Background(), Immediate(5), nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if err == nil || calls != 1 || attempts != 1 {
		t.Errorf("expected single failed attempt, got calls=%d attempts=%d err=%v", calls, attempts, err)
	}
}

func TestDo_Exhausted(t *testing.T) {
	_, attempts, err := Do(context.Background(), Immediate(3), nil, func(ctx context.Context) (int, error) {
		return 0, apperrors.ValidationError("bad")
	})
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !apperrors.IsValidation(err) {
		t.Errorf("expected wrapped validation error, got %v", err)
	}
}

func TestDo_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Transport: Fixed(time.Hour)}

	_, _, err := Do(ctx, p, func(Attempt) { cancel() }, func(ctx context.Context) (int, error) {
		return 0, apperrors.TransportError("reasoning", errors.New("down"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPolicy_BackoffFor(t *testing.T) {
	p := DefaultPolicy()

	if got := p.BackoffFor(apperrors.TransportError("x", errors.New("y")), 1); got != 30*time.Second {
		t.Errorf("transport backoff = %v, want 30s", got)
	}
	if got := p.BackoffFor(apperrors.ValidationError("x"), 1); got != time.Second {
		t.Errorf("validation backoff = %v, want 1s", got)
	}
	if p.Exhausted(1_000_000) {
		t.Error("default policy should be unbounded")
	}
}

func TestBackoff_Delay(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{"fixed", Fixed(2 * time.Second), 4, 2 * time.Second},
		{"exponential", Backoff{Base: time.Second, Exponential: true}, 3, 4 * time.Second},
		{"capped", Backoff{Base: time.Second, Max: 5 * time.Second, Exponential: true}, 10, 5 * time.Second},
		{"zero", Backoff{}, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.backoff.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
	if err := (Policy{MaxAttempts: -1}).Validate(); err == nil {
		t.Error("expected error for negative max attempts")
	}
}
