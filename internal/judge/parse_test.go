package judge

import (
	"testing"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

func TestParseFeedback(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		repair   bool
		wantEval int
		wantExp  string
		wantErr  bool
	}{
		{name: "integer eval", text: `{"explanation": "on topic", "eval": 3}`, wantEval: 3, wantExp: "on topic"},
		{name: "string eval", text: `{"explanation": "close", "eval": "2"}`, wantEval: 2, wantExp: "close"},
		{name: "integral float", text: `{"eval": 1.0}`, wantEval: 1},
		{name: "surrounding prose", text: "Here you go:\n{\"explanation\": \"x\", \"eval\": 0}\nThanks", wantEval: 0, wantExp: "x"},
		{name: "code fence", text: "```json\n{\"explanation\": \"y\", \"eval\": 2}\n```", wantEval: 2, wantExp: "y"},
		{name: "out of range", text: `{"explanation": "", "eval": "5"}`, wantErr: true},
		{name: "negative", text: `{"eval": -1}`, wantErr: true},
		{name: "fractional", text: `{"eval": 2.5}`, wantErr: true},
		{name: "word", text: `{"eval": "three"}`, wantErr: true},
		{name: "missing eval", text: `{"explanation": "forgot"}`, wantErr: true},
		{name: "null eval", text: `{"eval": null}`, wantErr: true},
		{name: "no object", text: "3", wantErr: true},
		{name: "single quotes without repair", text: `{'explanation': 'a', 'eval': 1}`, wantErr: true},
		{name: "single quotes with repair", text: `{'explanation': 'a', 'eval': 1}`, repair: true, wantEval: 1, wantExp: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeedback(tt.text, tt.repair)
			if tt.wantErr {
				if !apperrors.IsValidation(err) {
					t.Errorf("ParseFeedback() error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFeedback() error = %v", err)
			}
			if got.Eval != tt.wantEval || got.Explanation != tt.wantExp {
				t.Errorf("ParseFeedback() = %+v, want eval=%d explanation=%q", got, tt.wantEval, tt.wantExp)
			}
		})
	}
}

func TestParseLabels(t *testing.T) {
	tests := []struct {
		text    string
		mode    Mode
		want    int
		wantErr bool
	}{
		{"1", ModeBoolean, 1, false},
		{" 0\n", ModeBoolean, 0, false},
		{"2", ModeBoolean, 0, true},
		{"3", ModeGraded, 3, false},
		{"4", ModeGraded, 0, true},
		{"yes", ModeGraded, 0, true},
		{"", ModeBoolean, 0, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+tt.text, func(t *testing.T) {
			var got int
			var err error
			if tt.mode == ModeBoolean {
				got, err = ParseBooleanLabel(tt.text)
			} else {
				got, err = ParseGradedLabel(tt.text)
			}
			if tt.wantErr {
				if !apperrors.IsValidation(err) {
					t.Errorf("error = %v, want validation error", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("got (%d, %v), want %d", got, err, tt.want)
			}
		})
	}
}

func TestMode(t *testing.T) {
	if _, err := ParseMode("graded"); err != nil {
		t.Errorf("ParseMode(graded) error = %v", err)
	}
	if _, err := ParseMode("ternary"); err == nil {
		t.Error("ParseMode(ternary) succeeded")
	}
	if ModeBoolean.Valid(2) || !ModeGraded.Valid(2) {
		t.Error("label sets are wrong")
	}
}
