package store

import (
	"math"
	"time"
)

// halfLifeLn2 is ln(2) rounded the way the scoring formula specifies.
const halfLifeLn2 = 0.693

// TimeDecay returns the exponential recency weight for an entry of the
// given age: exp(-0.693 × age / halfLife). Ages at or below zero weigh
// 1.0, so an entry created "now" is never penalized.
func TimeDecay(ageHours, halfLifeHours float64) float64 {
	if ageHours <= 0 || halfLifeHours <= 0 {
		return 1.0
	}
	return math.Exp(-halfLifeLn2 * ageHours / halfLifeHours)
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors. Zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// scoreEntry computes cosine × decay for one entry against a query vector.
func scoreEntry(entry *Entry, vector []float32, halfLifeHours float64, now time.Time) float64 {
	sim := CosineSimilarity(entry.Embedding, vector)
	age := now.Sub(entry.CreatedAt).Hours()
	return sim * TimeDecay(age, halfLifeHours)
}
