package nn

import "math"

// probEpsilon clips probabilities away from 0 and 1 before taking logs.
const probEpsilon = 1e-7

// BinaryCrossEntropy returns the mean BCE of probabilities p against labels y.
func BinaryCrossEntropy(y, p []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for i := range y {
		q := math.Min(math.Max(p[i], probEpsilon), 1-probEpsilon)
		sum -= y[i]*math.Log(q) + (1-y[i])*math.Log(1-q)
	}
	return sum / float64(len(y))
}
