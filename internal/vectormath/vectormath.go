package vectormath

import (
	"math"
	"sort"
)

// Cosine returns dot(a,b) / (||a||*||b||) in [-1,1]. Mismatched lengths,
// empty inputs, and zero-norm vectors all return 0 instead of NaN.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Scored pairs an opaque document key with its similarity score.
type Scored struct {
	ID    string
	Score float64
}

// RankBySimilarity scores every candidate against the query embedding and
// returns them in descending score order. Ties break on ID so the ranking is
// deterministic for a fixed document set.
func RankBySimilarity(query []float32, candidates map[string][]float32) []Scored {
	out := make([]Scored, 0, len(candidates))
	for id, emb := range candidates {
		out = append(out, Scored{ID: id, Score: Cosine(query, emb)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// TopKAboveThreshold caps a ranked list at k entries, then drops entries at
// or below the relevance threshold. Capping happens before filtering so the
// threshold can only shrink the context, never widen it.
func TopKAboveThreshold(ranked []Scored, k int, threshold float64) []Scored {
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]Scored, 0, len(ranked))
	for _, s := range ranked {
		if s.Score > threshold {
			out = append(out, s)
		}
	}
	return out
}
