package vectormath

import (
	"math"
	"testing"
)

func TestCosineSymmetricAndBounded(t *testing.T) {
	a := []float32{0.2, -0.7, 1.5, 0.0}
	b := []float32{1.0, 0.3, -0.2, 2.2}

	ab := Cosine(a, b)
	ba := Cosine(b, a)
	if ab != ba {
		t.Fatalf("Cosine not symmetric: %v vs %v", ab, ba)
	}
	if ab < -1 || ab > 1 {
		t.Fatalf("Cosine out of range: %v", ab)
	}
}

func TestCosineSelfSimilarity(t *testing.T) {
	a := []float32{3, 4, 0}
	got := Cosine(a, a)
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("Cosine(a,a)=%v, want 1", got)
	}
}

func TestCosineGuards(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
	}{
		{name: "empty_a", a: nil, b: []float32{1}},
		{name: "empty_b", a: []float32{1}, b: nil},
		{name: "length_mismatch", a: []float32{1, 2}, b: []float32{1}},
		{name: "zero_vector", a: []float32{0, 0}, b: []float32{1, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Cosine(tc.a, tc.b); got != 0 {
				t.Fatalf("Cosine=%v, want 0", got)
			}
		})
	}
}

func TestRankBySimilarityDeterministic(t *testing.T) {
	query := []float32{1, 0}
	candidates := map[string][]float32{
		"a": {1, 0},
		"b": {0.9, 0.1},
		"c": {0, 1},
		"d": {1, 0}, // same score as "a", tie must break on ID
	}

	first := RankBySimilarity(query, candidates)
	for i := 0; i < 20; i++ {
		again := RankBySimilarity(query, candidates)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("ranking unstable at position %d: %+v vs %+v", j, first[j], again[j])
			}
		}
	}

	if first[0].ID != "a" || first[1].ID != "d" {
		t.Fatalf("tie-break by ID violated: got %s,%s", first[0].ID, first[1].ID)
	}
	for i := 1; i < len(first); i++ {
		if first[i].Score > first[i-1].Score {
			t.Fatalf("ranking not descending at %d", i)
		}
	}
}

func TestTopKAboveThreshold(t *testing.T) {
	ranked := []Scored{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.5},
		{ID: "c", Score: 0.25},
		{ID: "d", Score: 0.1},
	}

	got := TopKAboveThreshold(ranked, 10, 0.3)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("threshold filter wrong: %+v", got)
	}

	// Cap applies before the threshold.
	got = TopKAboveThreshold(ranked, 1, 0.3)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("topK cap wrong: %+v", got)
	}

	got = TopKAboveThreshold(ranked, 10, 0.95)
	if len(got) != 0 {
		t.Fatalf("expected empty result above max score, got %+v", got)
	}
}
