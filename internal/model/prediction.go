package model

// Prediction is the model output for one serving record.
type Prediction struct {
	Source      string  `json:"source,omitempty"`
	Record      int     `json:"record"`
	Probability float32 `json:"probability"`
	Class       int     `json:"class"`
}

// NewPrediction classifies p at the 0.5 threshold.
func NewPrediction(source string, record int, p float32) Prediction {
	class := 0
	if p > 0.5 {
		class = 1
	}
	return Prediction{Source: source, Record: record, Probability: p, Class: class}
}
