package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// LoggedEvent represents an event that has been logged to disk.
type LoggedEvent struct {
	Event     Event     `json:"event"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// EventLogger logs events to disk for auditing and replay.
// Events are written as JSON lines (one JSON object per line).
type EventLogger struct {
	logPath string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewEventLogger opens logPath for appending.
func NewEventLogger(logPath string) (*EventLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLogger{
		logPath: logPath,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *EventLogger) Log(topic string, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New(errors.CodeInternal, "event logger is closed")
	}

	loggedEvent := LoggedEvent{
		Event:     event,
		Topic:     topic,
		Timestamp: time.Now(),
	}

	if err := l.encoder.Encode(loggedEvent); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	return nil
}

// Events reads logged events newer than since, oldest first. If limit > 0,
// at most that many are returned. Malformed lines are skipped.
func (l *EventLogger) Events(since time.Time, limit int) ([]LoggedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []LoggedEvent{}, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var events []LoggedEvent
	scanner := bufio.NewScanner(file)

	// Judgment payloads embed document text
	const maxScanTokenSize = 1024 * 1024 // 1MB
	scanner.Buffer(make([]byte, maxScanTokenSize), maxScanTokenSize)

	for scanner.Scan() {
		var loggedEvent LoggedEvent
		if err := json.Unmarshal(scanner.Bytes(), &loggedEvent); err != nil {
			continue
		}

		if loggedEvent.Timestamp.After(since) {
			events = append(events, loggedEvent)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}

	return events, nil
}

// Replay publishes logged events newer than since to bus, in order.
func (l *EventLogger) Replay(ctx context.Context, bus Bus, since time.Time) error {
	events, err := l.Events(since, 0)
	if err != nil {
		return fmt.Errorf("failed to get events: %w", err)
	}

	for _, loggedEvent := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := bus.Publish(ctx, loggedEvent.Topic, loggedEvent.Event); err != nil {
			return fmt.Errorf("failed to replay event %s: %w", loggedEvent.Event.ID, err)
		}
	}

	return nil
}

// Close closes the log file.
func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		l.file = nil
		l.encoder = nil
	}

	return nil
}
