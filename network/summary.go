package network

import (
	"math"
	"sort"
)

// Summary describes a set of estimates for one origin.
type Summary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	Count  int     `json:"count"`
}

// Summarize returns the summary of values. an empty slice yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	total := 0.0
	for _, v := range sorted {
		total += v
	}

	return Summary{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Avg:    total / float64(len(sorted)),
		Median: median(sorted),
		Count:  len(sorted),
	}
}

// median of an already sorted slice
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
