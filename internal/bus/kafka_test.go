package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

func TestKafkaConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  KafkaConfig
	}{
		{
			name: "empty brokers",
			cfg:  KafkaConfig{Brokers: []string{}, ConsumerGroup: "test-group"},
		},
		{
			name: "empty consumer group",
			cfg:  KafkaConfig{Brokers: []string{"localhost:9092"}},
		},
		{
			name: "invalid kafka version",
			cfg:  KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g", Version: "invalid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKafkaBus(tt.cfg, logger.Discard()); err == nil {
				t.Error("NewKafkaBus() should fail")
			}
		})
	}
}

func TestEncodeMessage(t *testing.T) {
	event := NewEvent(TypeJudgmentRecorded, "orchestrator", "run-1", map[string]int{"eval": 3})

	msg, err := encodeMessage("rice-eval.events", event)
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}

	key, _ := msg.Key.Encode()
	if string(key) != "run-1" {
		t.Errorf("key = %s, want run id", key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != TypeJudgmentRecorded {
		t.Errorf("headers = %+v", msg.Headers)
	}

	value, _ := msg.Value.Encode()
	var decoded Event
	if err := json.Unmarshal(value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != event.ID || decoded.Type != event.Type {
		t.Errorf("decoded = %+v", decoded)
	}

	noRun, _ := encodeMessage("t", NewEvent(TypeRunFinished, "x", "", nil))
	if key, _ := noRun.Key.Encode(); len(key) == 0 {
		t.Error("event without run has no key")
	}
}

func TestKafkaBus_Interface(t *testing.T) {
	var _ Bus = (*KafkaBus)(nil)
}

func TestKafkaBus_CloseIdempotent(t *testing.T) {
	bus := &KafkaBus{handlers: make(map[string][]Handler), closed: true}
	if err := bus.Close(); err != nil {
		t.Errorf("Close() on a closed bus returned error: %v", err)
	}
}

func TestKafkaBus_OperationsAfterClose(t *testing.T) {
	bus := &KafkaBus{handlers: make(map[string][]Handler), closed: true}

	if err := bus.Publish(context.Background(), "test", Event{ID: "test"}); err == nil {
		t.Error("Publish() after Close() should return error")
	}
	err := bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if err == nil {
		t.Error("Subscribe() after Close() should return error")
	}
}
