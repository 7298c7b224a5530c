package cluster

import (
	"fmt"
	"math"
)

// ClampedCosine returns the cosine similarity of a and b clamped to [0, 1].
// Opposed vectors score 0 rather than negative, which keeps every threshold
// comparison one-sided.
func ClampedCosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(aMag) * math.Sqrt(bMag))
	if sim < 0 {
		return 0, nil
	}
	if sim > 1 {
		return 1, nil
	}
	return sim, nil
}

// BestMatch returns the index and similarity of the corpus vector most
// similar to query, -1 when the corpus is empty or nothing is comparable.
func BestMatch(query []float32, corpus [][]float32) (int, float64) {
	best := -1
	bestSim := -1.0
	for i, vec := range corpus {
		sim, err := ClampedCosine(query, vec)
		if err != nil {
			continue
		}
		if sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best == -1 {
		return -1, 0
	}
	return best, bestSim
}

// MeanUpdate folds a new member vector into a running-mean centroid of the
// given prior size and returns the new centroid.
func MeanUpdate(centroid, member []float32, priorSize int) []float32 {
	if len(centroid) != len(member) || priorSize < 1 {
		out := make([]float32, len(member))
		copy(out, member)
		return out
	}
	n := float64(priorSize)
	out := make([]float32, len(centroid))
	for i := range centroid {
		out[i] = float32((float64(centroid[i])*n + float64(member[i])) / (n + 1))
	}
	return out
}
