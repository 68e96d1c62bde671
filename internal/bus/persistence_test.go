package bus

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

func TestEventLogger_LogAndRead(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "events.jsonl")

	el, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger() error = %v", err)
	}
	defer el.Close()

	before := time.Now().Add(-time.Second)
	for _, typ := range []string{TypeJudgmentRecorded, TypePairSkipped, TypeRunFinished} {
		if err := el.Log(DefaultTopic, NewEvent(typ, "test", "run-1", nil)); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}

	events, err := el.Events(before, 0)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 3 || events[2].Event.Type != TypeRunFinished || events[0].Topic != DefaultTopic {
		t.Errorf("unexpected events %+v", events)
	}

	limited, _ := el.Events(before, 2)
	if len(limited) != 2 {
		t.Errorf("Events(limit 2) returned %d", len(limited))
	}

	future, _ := el.Events(time.Now().Add(time.Hour), 0)
	if len(future) != 0 {
		t.Errorf("Events(future) returned %d", len(future))
	}
}

func TestEventLogger_Closed(t *testing.T) {
	el, err := NewEventLogger(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("NewEventLogger() error = %v", err)
	}
	if err := el.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := el.Log("t", Event{}); err == nil {
		t.Error("Log() after Close() should error")
	}
}

func TestLoggedBus_ReplayDelivers(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	el, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger() error = %v", err)
	}

	logged := NewLoggedBus(NewMemoryBus(logger.Discard()), el, logger.Discard())
	for i := 0; i < 2; i++ {
		if err := logged.Publish(context.Background(), DefaultTopic, NewEvent(TypeJudgmentRecorded, "test", "run-1", i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := logged.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reader, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger() error = %v", err)
	}
	defer reader.Close()

	target := NewMemoryBus(logger.Discard())
	defer target.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	target.Subscribe(context.Background(), DefaultTopic, func(ctx context.Context, e Event) error {
		wg.Done()
		return nil
	})

	if err := reader.Replay(context.Background(), target, time.Time{}); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	waitOrFail(t, &wg)
}
