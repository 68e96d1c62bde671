package embed

import (
	"context"
	"strings"
	"unicode"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Tokens encodes a query as one embedding per word token, for in-process
// late-interaction scoring.
type Tokens struct {
	Embedder Embedder
}

// EncodeTokens embeds the lower-cased word tokens of text in order.
func (t Tokens) EncodeTokens(ctx context.Context, text string) ([][]float32, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return nil, apperrors.ValidationError("query has no tokens")
	}
	return t.Embedder.Embed(ctx, words)
}
