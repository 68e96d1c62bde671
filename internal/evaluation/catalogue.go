package evaluation

import (
	"fmt"
	"slices"
	"sort"

	"github.com/ricesearch/rice-eval/internal/corpus"
)

// Variant names group model configurations by where their queries come from.
const (
	// VariantTitleQuery uses a document title as the query.
	VariantTitleQuery = "title_query"
	// VariantLLMQuery uses a synthesized query.
	VariantLLMQuery = "llm_query"
)

// Catalogue lists the retrieval model configurations evaluated per variant.
type Catalogue map[string][]string

// DefaultCatalogue returns the model configurations of the article index.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		VariantTitleQuery: {
			"bm25_abstract_only",
			"semantic_abstract_only",
			"hybrid_abstract_only",
			"max_sim_per_context_sentence_abstract_only",
			"max_sim_cross_context_sentence_abstract_only",
			"max_sim_per_context_chunk_abstract_only",
			"max_sim_cross_context_chunk_abstract_only",
		},
		VariantLLMQuery: {
			"bm25_title_only",
			"bm25_title_and_abstract",
			"semantic_title_and_abstract",
			"hybrid_title_and_abstract",
			"max_sim_per_context_sentence_title_and_abstract",
			"max_sim_cross_context_sentence_title_and_abstract",
			"max_sim_per_context_chunk_title_and_abstract",
			"max_sim_cross_context_chunk_title_and_abstract",
		},
	}
}

// VariantFor returns the variant that evaluates queries of the given origin.
func VariantFor(origin corpus.Origin) string {
	if origin == corpus.OriginSynthetic {
		return VariantLLMQuery
	}
	return VariantTitleQuery
}

// Variants returns the variant names in sorted order.
func (c Catalogue) Variants() []string {
	names := make([]string, 0, len(c))
	for v := range c {
		names = append(names, v)
	}
	sort.Strings(names)
	return names
}

// Check reports whether model is listed under variant.
func (c Catalogue) Check(variant, model string) error {
	models, ok := c[variant]
	if !ok {
		return fmt.Errorf("unknown variant %q (known: %v)", variant, c.Variants())
	}
	if !slices.Contains(models, model) {
		return fmt.Errorf("model %q is not evaluated under %s", model, variant)
	}
	return nil
}
