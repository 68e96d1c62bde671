package evaluation

import (
	"math"
	"slices"
)

// The functions below take judged labels in rank order. A label counts as
// relevant when it is at least threshold.

// NDCG is the normalized discounted cumulative gain of the top k labels.
// The ideal ordering is the same labels sorted descending.
func NDCG(labels []int, k int) float64 {
	k = min(k, len(labels))
	if k <= 0 {
		return 0
	}

	ideal := slices.Clone(labels)
	slices.SortFunc(ideal, func(a, b int) int { return b - a })

	idcg := dcg(ideal[:k])
	if idcg == 0 {
		return 0
	}
	return dcg(labels[:k]) / idcg
}

func dcg(labels []int) float64 {
	var sum float64
	for i, l := range labels {
		gain := float64(max(l, 0))
		if i == 0 {
			sum += gain
			continue
		}
		sum += gain / math.Log2(float64(i+2))
	}
	return sum
}

// Recall is the share of all relevant labels found in the top k.
func Recall(labels []int, k, threshold int) float64 {
	total := countRelevant(labels, threshold)
	if total == 0 {
		return 0
	}
	return float64(countRelevant(labels[:min(k, len(labels))], threshold)) / float64(total)
}

// Precision is the share of the top k labels that are relevant.
func Precision(labels []int, k, threshold int) float64 {
	k = min(k, len(labels))
	if k <= 0 {
		return 0
	}
	return float64(countRelevant(labels[:k], threshold)) / float64(k)
}

// MRR is the reciprocal rank of the first relevant label.
func MRR(labels []int, threshold int) float64 {
	for i, l := range labels {
		if l >= threshold {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// AveragePrecision averages precision at each relevant position.
func AveragePrecision(labels []int, threshold int) float64 {
	relevant := 0
	var sum float64
	for i, l := range labels {
		if l >= threshold {
			relevant++
			sum += float64(relevant) / float64(i+1)
		}
	}
	if relevant == 0 {
		return 0
	}
	return sum / float64(relevant)
}

func countRelevant(labels []int, threshold int) int {
	n := 0
	for _, l := range labels {
		if l >= threshold {
			n++
		}
	}
	return n
}

// Score computes every metric for one query.
func Score(query string, labels []int, ks []int, threshold int) *QueryResult {
	r := &QueryResult{
		Query:       query,
		NDCG:        make(map[int]float64, len(ks)),
		Recall:      make(map[int]float64, len(ks)),
		Precision:   make(map[int]float64, len(ks)),
		MRR:         MRR(labels, threshold),
		AP:          AveragePrecision(labels, threshold),
		ResultCount: len(labels),
	}
	for _, k := range ks {
		r.NDCG[k] = NDCG(labels, k)
		r.Recall[k] = Recall(labels, k, threshold)
		r.Precision[k] = Precision(labels, k, threshold)
	}
	return r
}

// Summarize averages results across queries.
func Summarize(results []*QueryResult) *Summary {
	s := &Summary{
		QueryCount:    len(results),
		MeanNDCG:      make(map[int]float64),
		MeanRecall:    make(map[int]float64),
		MeanPrecision: make(map[int]float64),
	}
	if len(results) == 0 {
		return s
	}

	for _, r := range results {
		s.MeanMRR += r.MRR
		s.MAP += r.AP
		for k, v := range r.NDCG {
			s.MeanNDCG[k] += v
		}
		for k, v := range r.Recall {
			s.MeanRecall[k] += v
		}
		for k, v := range r.Precision {
			s.MeanPrecision[k] += v
		}
	}

	n := float64(len(results))
	s.MeanMRR /= n
	s.MAP /= n
	for _, m := range []map[int]float64{s.MeanNDCG, s.MeanRecall, s.MeanPrecision} {
		for k := range m {
			m[k] /= n
		}
	}
	return s
}
