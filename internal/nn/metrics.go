package nn

import "sort"

// Accuracy returns the fraction of predictions on the correct side of 0.5.
func Accuracy(y, p []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	correct := 0
	for i := range y {
		pred := 0.0
		if p[i] > 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y))
}

// AUC returns the area under the ROC curve, computed exactly from ranks with
// ties averaged. It returns 0.5 when only one class is present.
func AUC(y, p []float64) float64 {
	n := len(y)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })

	var pos, neg, rankSum float64
	for i := 0; i < n; {
		j := i
		for j < n && p[idx[j]] == p[idx[i]] {
			j++
		}
		// Ranks are 1-based; tied run [i, j) shares the average rank.
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if y[idx[k]] > 0.5 {
				rankSum += avg
				pos++
			} else {
				neg++
			}
		}
		i = j
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - pos*(pos+1)/2) / (pos * neg)
}

// Tracker accumulates loss, labels and predictions across batches.
type Tracker struct {
	lossSum float64
	count   int
	labels  []float64
	probs   []float64
}

// Add records one batch.
func (t *Tracker) Add(y, p []float64) {
	t.lossSum += BinaryCrossEntropy(y, p) * float64(len(y))
	t.count += len(y)
	t.labels = append(t.labels, y...)
	t.probs = append(t.probs, p...)
}

// Result summarizes everything added so far.
func (t *Tracker) Result() Result {
	r := Result{Examples: t.count}
	if t.count > 0 {
		r.Loss = t.lossSum / float64(t.count)
	}
	r.Accuracy = Accuracy(t.labels, t.probs)
	r.AUC = AUC(t.labels, t.probs)
	return r
}

// Reset clears the tracker.
func (t *Tracker) Reset() { *t = Tracker{} }

// Result is a loss/metric summary.
type Result struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
	AUC      float64 `json:"auc"`
	Examples int     `json:"examples"`
}
