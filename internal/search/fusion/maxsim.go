package fusion

// LocalMaxSim scores each passage as the sum over query tokens of the best
// token dot product within that passage, and returns the best passage score.
// Embeddings are indexed [passage][token][dim].
func LocalMaxSim(query [][]float32, passages [][][]float32) float64 {
	best := 0.0
	for i, passage := range passages {
		score := 0.0
		for _, q := range query {
			score += maxDot(q, passage)
		}
		if i == 0 || score > best {
			best = score
		}
	}
	return best
}

// GlobalMaxSim sums over query tokens the best token dot product across the
// union of all passages' tokens.
func GlobalMaxSim(query [][]float32, passages [][][]float32) float64 {
	if len(passages) == 0 {
		return 0
	}
	score := 0.0
	for _, q := range query {
		best, found := 0.0, false
		for _, passage := range passages {
			if len(passage) == 0 {
				continue
			}
			if m := maxDot(q, passage); !found || m > best {
				best, found = m, true
			}
		}
		score += best
	}
	return score
}

func maxDot(q []float32, tokens [][]float32) float64 {
	best := 0.0
	for i, t := range tokens {
		if d := dot(q, t); i == 0 || d > best {
			best = d
		}
	}
	return best
}

func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
