package fusion

import (
	"fmt"
	"strings"
)

// MissingSignal names a candidate that cannot be scored by a signal.
type MissingSignal struct {
	DocumentID string
	Signal     string
	Reason     string
}

// MissingSignalError lists every candidate missing a required signal.
type MissingSignalError struct {
	Missing []MissingSignal
}

func (e *MissingSignalError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = fmt.Sprintf("%s/%s (%s)", m.DocumentID, m.Signal, m.Reason)
	}
	return "candidates missing required signals: " + strings.Join(parts, ", ")
}
