package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/metrics"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for events")
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	err := bus.Subscribe(context.Background(), DefaultTopic, func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), DefaultTopic, NewEvent(TypeJudgmentRecorded, "test", "run-1", i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	waitOrFail(t, &wg)

	if got := received.Load(); got != 3 {
		t.Errorf("Received %d events, want 3", got)
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var count1, count2 atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), "t", func(ctx context.Context, event Event) error {
		count1.Add(1)
		wg.Done()
		return nil
	})
	bus.Subscribe(context.Background(), "t", func(ctx context.Context, event Event) error {
		count2.Add(1)
		wg.Done()
		return nil
	})

	wg.Add(2)
	bus.Publish(context.Background(), "t", NewEvent(TypeRunFinished, "test", "", nil))
	waitOrFail(t, &wg)

	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("Expected both subscribers to receive 1 event, got %d and %d", count1.Load(), count2.Load())
	}
}

func TestMemoryBus_HandlerSurvivesCancelledPublisher(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var wg sync.WaitGroup
	var ctxErr atomic.Value
	bus.Subscribe(context.Background(), "t", func(ctx context.Context, event Event) error {
		time.Sleep(10 * time.Millisecond)
		ctxErr.Store(ctx.Err() == nil)
		wg.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	bus.Publish(ctx, "t", NewEvent(TypeRunFinished, "test", "", nil))
	cancel()
	waitOrFail(t, &wg)

	if ok, _ := ctxErr.Load().(bool); !ok {
		t.Error("handler saw the publisher's cancellation")
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if err := bus.Publish(context.Background(), "test", Event{}); err == nil {
		t.Error("Publish() after Close() should error")
	}
	err := bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if err == nil {
		t.Error("Subscribe() after Close() should error")
	}
}

func TestMemoryBus_Concurrent(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), "concurrent", func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	numPublishers := 10
	eventsPerPublisher := 100
	wg.Add(numPublishers * eventsPerPublisher)

	for p := 0; p < numPublishers; p++ {
		go func() {
			for i := 0; i < eventsPerPublisher; i++ {
				bus.Publish(context.Background(), "concurrent", NewEvent(TypePairSkipped, "test", "", nil))
			}
		}()
	}
	waitOrFail(t, &wg)

	if got := received.Load(); got != int32(numPublishers*eventsPerPublisher) {
		t.Errorf("Received %d events, want %d", got, numPublishers*eventsPerPublisher)
	}
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(TypeJudgmentRecorded, "orchestrator", "run-1", "x")
	b := NewEvent(TypeJudgmentRecorded, "orchestrator", "run-1", "x")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("event IDs not unique: %q %q", a.ID, b.ID)
	}
	if a.RunID != "run-1" || a.Timestamp == 0 {
		t.Errorf("unexpected event %+v", a)
	}
}

func TestEmitter(t *testing.T) {
	var nilEmitter *Emitter
	if err := nilEmitter.Emit(context.Background(), TypeRunFinished, "", nil); err != nil {
		t.Errorf("nil Emit() error = %v", err)
	}
	if err := nilEmitter.Subscribe(context.Background(), func(context.Context, Event) error { return nil }); err != nil {
		t.Errorf("nil Subscribe() error = %v", err)
	}

	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	e := NewEmitter(bus, "", "orchestrator")
	got := make(chan Event, 1)
	if err := e.Subscribe(context.Background(), func(ctx context.Context, ev Event) error {
		got <- ev
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := e.Emit(context.Background(), TypeTaskSkipped, "run-9", map[string]string{"document_id": "a1"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case ev := <-got:
		if ev.Type != TypeTaskSkipped || ev.Source != "orchestrator" || ev.RunID != "run-9" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestNewBus(t *testing.T) {
	m := metrics.New()

	b, err := NewBus(config.BusConfig{Type: "none"}, logger.Discard(), m)
	if err != nil || b != nil {
		t.Errorf("NewBus(none) = %v, %v", b, err)
	}

	if _, err := NewBus(config.BusConfig{Type: "nats"}, logger.Discard(), m); err == nil {
		t.Error("NewBus(nats) should fail")
	}
	if _, err := NewBus(config.BusConfig{Type: "kafka"}, logger.Discard(), m); err == nil {
		t.Error("NewBus(kafka) without brokers should fail")
	}

	b, err = NewBus(config.BusConfig{Type: "memory"}, logger.Discard(), m)
	if err != nil {
		t.Fatalf("NewBus(memory) error = %v", err)
	}
	defer b.Close()
	if err := b.Publish(context.Background(), DefaultTopic, NewEvent(TypeRunFinished, "test", "", nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, ok := b.(*InstrumentedBus); !ok {
		t.Errorf("NewBus(memory) = %T, want *InstrumentedBus", b)
	}
}
