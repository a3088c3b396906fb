package store

import (
	"math"
)

const (
	k1 = 1.2
	b  = 0.75
)

// computeIDF is the BM25 inverse document frequency. It stays positive even
// when every document holds the term.
func computeIDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}

func roundScore(score float64) float64 {
	return math.Round(score*10000) / 10000
}
