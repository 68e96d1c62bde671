package embed

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ricesearch/rice-eval/internal/pkg/hash"
)

// SparseVector is a bag of hashed terms.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Sparse hashes lower-cased word tokens of text into buckets and weights each
// bucket by its term frequency. Indices are ascending.
func Sparse(text string) SparseVector {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	counts := make(map[uint32]float32, len(tokens))
	for _, tok := range tokens {
		counts[hash.Token(tok)]++
	}

	v := SparseVector{
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for idx := range counts {
		v.Indices = append(v.Indices, idx)
	}
	sort.Slice(v.Indices, func(i, j int) bool { return v.Indices[i] < v.Indices[j] })
	for _, idx := range v.Indices {
		v.Values = append(v.Values, counts[idx])
	}
	return v
}
