package corpus

import (
	"strings"
	"unicode"
)

// SentenceSplit splits text on periods, dropping empty pieces.
func SentenceSplit(text string) []string {
	parts := strings.Split(text, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChunkSplit cuts text into windows of size runes, each starting
// size-overlap runes after the previous one.
func ChunkSplit(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	step := size - overlap
	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// CleanControl removes backslashes and control characters and turns
// newlines into spaces.
func CleanControl(s string) string {
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) || unicode.Is(unicode.Co, r) || unicode.Is(unicode.Cs, r) {
			return -1
		}
		return r
	}, s)
}

// WithSentencePassages returns a copy of d whose passages are the cleaned
// sentences of its body.
func WithSentencePassages(d Document) Document {
	d.Passages = SentenceSplit(CleanControl(d.Body))
	return d
}
