package transform

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Moments are the population count, mean and variance of a numeric column.
type Moments struct {
	Count    float64 `json:"count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

func batchMoments(xs []float64) Moments {
	if len(xs) == 0 {
		return Moments{}
	}
	mean, variance := stat.PopMeanVariance(xs, nil)
	return Moments{Count: float64(len(xs)), Mean: mean, Variance: variance}
}

// Merge combines the moments of two disjoint samples (Chan et al.).
func (m Moments) Merge(o Moments) Moments {
	if m.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return m
	}
	n := m.Count + o.Count
	delta := o.Mean - m.Mean
	mean := m.Mean + delta*o.Count/n
	m2 := m.Variance*m.Count + o.Variance*o.Count + delta*delta*m.Count*o.Count/n
	return Moments{Count: n, Mean: mean, Variance: m2 / n}
}

// ZScore scales x by the fitted moments. With zero variance the value is only
// mean-centered.
func (m Moments) ZScore(x float32) float32 {
	centered := float64(x) - m.Mean
	if m.Variance == 0 {
		return float32(centered)
	}
	return float32(centered / math.Sqrt(m.Variance))
}
