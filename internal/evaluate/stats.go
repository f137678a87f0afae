package evaluate

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes a metric over all cases. Std is the population standard
// deviation.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes Stats; an empty input yields the zero value.
func Summarize(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	mean, variance := stat.PopMeanVariance(values, nil)
	return Stats{
		Mean:   mean,
		Median: median(values),
		Std:    math.Sqrt(variance),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
	}
}

// median averages the two middle values for even counts.
func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
