package tabflow

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/crimson-sun/tabflow/internal/model"
	"github.com/crimson-sun/tabflow/internal/serving"
)

// Predictor scores raw records with an exported model.
// Safe for concurrent use.
type Predictor struct {
	module    *serving.Module
	id        string
	threshold float32
	logger    *zap.Logger
}

// Load reads an export written by the trainer.
func Load(opts ...Option) (*Predictor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	mod, sm, err := serving.Load(o.modelDir)
	if err != nil {
		return nil, fmt.Errorf("tabflow: %w", err)
	}
	o.logger.Info("model loaded",
		zap.String("dir", o.modelDir),
		zap.String("id", sm.ID),
		zap.Int("inputs", len(sm.Inputs)),
	)
	return &Predictor{module: mod, id: sm.ID, threshold: o.threshold, logger: o.logger}, nil
}

// ModelID returns the export's unique id.
func (p *Predictor) ModelID() string { return p.id }

// InputFeatures returns the raw column names a record must carry.
func (p *Predictor) InputFeatures() []string {
	return p.module.InputSpec().Names()
}

// Predict scores records. Every input feature must be present.
func (p *Predictor) Predict(records []Record) ([]Prediction, error) {
	spec := p.module.InputSpec()
	exs := make([]model.Example, len(records))
	for i, r := range records {
		ex, err := toExample(r, spec)
		if err != nil {
			return nil, fmt.Errorf("tabflow: record %d: %w", i, err)
		}
		exs[i] = ex
	}
	probs, err := p.module.PredictExamples(exs)
	if err != nil {
		return nil, fmt.Errorf("tabflow: %w", err)
	}
	return p.predictions(probs), nil
}

// PredictSerialized scores serialized tf.Example records, the input of the
// serving_default signature.
func (p *Predictor) PredictSerialized(batch [][]byte) ([]Prediction, error) {
	out, err := p.module.Call(serving.DefaultSignature, batch)
	if err != nil {
		return nil, fmt.Errorf("tabflow: %w", err)
	}
	rows := out[serving.OutputKey]
	probs := make([]float32, len(rows))
	for i, row := range rows {
		probs[i] = row[0]
	}
	return p.predictions(probs), nil
}

// Close releases the Predictor.
func (p *Predictor) Close() error {
	p.logger.Debug("predictor closed", zap.String("id", p.id))
	return nil
}

func (p *Predictor) predictions(probs []float32) []Prediction {
	out := make([]Prediction, len(probs))
	for i, prob := range probs {
		out[i] = Prediction{Probability: prob}
		if prob > p.threshold {
			out[i].Class = 1
		}
	}
	return out
}
