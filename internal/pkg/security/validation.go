package security

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ricesearch/rice-eval/internal/corpus"
)

// Request limits.
const (
	MaxQueryLength         = 10000
	MaxDocumentIDLength    = 256
	MaxDocumentBytes       = 1 << 20 // title and body together
	MaxDocumentsPerRequest = 1000
)

// ValidationError names the field that failed and the constraint it broke.
type ValidationError struct {
	Field      string
	Value      any
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Constraint)
}

// ValidateQuery requires a non-blank UTF-8 query of at most MaxQueryLength
// runes.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return &ValidationError{Field: "query", Constraint: "required"}
	}
	if !utf8.ValidString(query) {
		return &ValidationError{Field: "query", Constraint: "must be valid UTF-8"}
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryLength {
		return &ValidationError{
			Field:      "query",
			Value:      n,
			Constraint: fmt.Sprintf("maximum length is %d characters", MaxQueryLength),
		}
	}
	return nil
}

// ValidateDocument checks the size and encoding of a submitted document.
// Missing titles or bodies are left to the synthesizer and judge, which
// skip such documents.
func ValidateDocument(d corpus.Document) error {
	if strings.TrimSpace(d.ID) == "" {
		return &ValidationError{Field: "document.id", Constraint: "required"}
	}
	if len(d.ID) > MaxDocumentIDLength {
		return &ValidationError{
			Field:      "document.id",
			Value:      len(d.ID),
			Constraint: fmt.Sprintf("maximum length is %d bytes", MaxDocumentIDLength),
		}
	}
	if size := len(d.Title) + len(d.Body); size > MaxDocumentBytes {
		return &ValidationError{
			Field:      "document " + d.ID,
			Value:      size,
			Constraint: fmt.Sprintf("title and body exceed %d bytes", MaxDocumentBytes),
		}
	}
	if !utf8.ValidString(d.Title) || !utf8.ValidString(d.Body) {
		return &ValidationError{Field: "document " + d.ID, Constraint: "must be valid UTF-8"}
	}
	return nil
}

// ValidateBatch requires between 1 and MaxDocumentsPerRequest documents.
func ValidateBatch(n int) error {
	if n < 1 {
		return &ValidationError{Field: "documents", Constraint: "required"}
	}
	if n > MaxDocumentsPerRequest {
		return &ValidationError{
			Field:      "documents",
			Value:      n,
			Constraint: fmt.Sprintf("at most %d per request", MaxDocumentsPerRequest),
		}
	}
	return nil
}
