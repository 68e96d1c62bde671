package judge

import "fmt"

// Mode selects the label scale and the judging protocol.
type Mode string

const (
	// ModeBoolean asks once for 0 (not relevant) or 1 (relevant).
	ModeBoolean Mode = "boolean"
	// ModeGraded asks for 0..3 and then has the service critique its own
	// answer before the label is accepted.
	ModeGraded Mode = "graded"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeBoolean, ModeGraded:
		return m, nil
	default:
		return "", fmt.Errorf("unknown judge mode %q", s)
	}
}

// Labels returns the closed label set of the mode.
func (m Mode) Labels() []int {
	switch m {
	case ModeBoolean:
		return []int{0, 1}
	case ModeGraded:
		return []int{0, 1, 2, 3}
	default:
		return nil
	}
}

// Valid reports whether label belongs to the mode's label set.
func (m Mode) Valid(label int) bool {
	for _, l := range m.Labels() {
		if l == label {
			return true
		}
	}
	return false
}

// RelevantThreshold is the lowest label counted as relevant when computing
// retrieval metrics.
func (m Mode) RelevantThreshold() int {
	return 1
}
