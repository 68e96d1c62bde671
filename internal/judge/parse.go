package judge

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Feedback is the parsed second-round answer of the graded protocol.
type Feedback struct {
	Explanation string
	Eval        int
}

// ParseBooleanLabel parses a boolean-mode answer. Surrounding whitespace
// is ignored; anything but 0 or 1 is a validation error.
func ParseBooleanLabel(text string) (int, error) {
	return parseLabel(text, ModeBoolean)
}

// ParseGradedLabel parses a bare graded answer in 0..3.
func ParseGradedLabel(text string) (int, error) {
	return parseLabel(text, ModeGraded)
}

func parseLabel(text string, mode Mode) (int, error) {
	s := strings.TrimSpace(text)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperrors.ValidationErrorf("expected an integer label, got %q", truncate(s, 80))
	}
	if !mode.Valid(n) {
		return 0, apperrors.ValidationErrorf("label %d outside %s label set", n, mode)
	}
	return n, nil
}

// ParseFeedback extracts the JSON object from a critique answer and
// validates its eval field against the graded label set. The object may be
// wrapped in prose or a code fence. When repair is set, malformed JSON is
// passed through a repairer before giving up.
func ParseFeedback(text string, repair bool) (Feedback, error) {
	obj, ok := extractObject(text)
	if !ok {
		return Feedback{}, apperrors.ValidationErrorf("no JSON object in feedback %q", truncate(text, 80))
	}

	var raw struct {
		Explanation string          `json:"explanation"`
		Eval        json.RawMessage `json:"eval"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		if !repair {
			return Feedback{}, apperrors.Wrap(apperrors.CodeValidation, "malformed feedback JSON", err)
		}
		fixed, rerr := jsonrepair.JSONRepair(obj)
		if rerr != nil {
			return Feedback{}, apperrors.Wrap(apperrors.CodeValidation, "unrepairable feedback JSON", rerr)
		}
		if err := json.Unmarshal([]byte(fixed), &raw); err != nil {
			return Feedback{}, apperrors.Wrap(apperrors.CodeValidation, "malformed feedback JSON", err)
		}
	}

	if len(raw.Eval) == 0 || string(raw.Eval) == "null" {
		return Feedback{}, apperrors.ValidationError("feedback has no eval")
	}
	eval, err := coerceEval(raw.Eval)
	if err != nil {
		return Feedback{}, err
	}
	if !ModeGraded.Valid(eval) {
		return Feedback{}, apperrors.ValidationErrorf("eval %d outside 0..3", eval)
	}

	return Feedback{Explanation: raw.Explanation, Eval: eval}, nil
}

// coerceEval accepts a JSON integer, an integral JSON number, or a string
// holding an integer.
func coerceEval(raw json.RawMessage) (int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, apperrors.ValidationErrorf("eval %q is not an integer", truncate(s, 40))
		}
		return n, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, apperrors.ValidationErrorf("eval %s is neither a number nor a string", truncate(string(raw), 40))
	}
	if f != math.Trunc(f) {
		return 0, apperrors.ValidationErrorf("eval %v is not an integer", f)
	}
	return int(f), nil
}

// extractObject returns the outermost {...} span, preferring the contents
// of a fenced code block when present.
func extractObject(text string) (string, bool) {
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			text = rest[:j]
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return strings.TrimSpace(text[start : end+1]), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
