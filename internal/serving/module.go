// Package serving bundles a fitted transform and a trained model behind the
// serving_default signature, and reads and writes the export directory.
package serving

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/crimson-sun/tabflow/internal/example"
	"github.com/crimson-sun/tabflow/internal/model"
	"github.com/crimson-sun/tabflow/internal/nn"
	"github.com/crimson-sun/tabflow/internal/transform"
)

// Signature names and tensor keys.
const (
	DefaultSignature = "serving_default"
	InputKey         = "examples"
	OutputKey        = "output_0"
)

// ErrUnknownSignature is returned by Call for a name the module does not export.
var ErrUnknownSignature = errors.New("serving: unknown signature")

// Module is the serving graph: parse raw examples, apply the transform, run
// the model. It is read-only and safe for concurrent use.
type Module struct {
	artifact  *transform.Artifact
	model     *nn.Model
	inputSpec model.Schema
}

// NewModule checks that every model input is produced by the transform and
// builds the serving module. The serving input spec is the raw feature spec
// without the label.
func NewModule(art *transform.Artifact, m *nn.Model) (*Module, error) {
	for _, key := range m.Inputs {
		if !art.TransformedSchema.Has(key) {
			return nil, fmt.Errorf("serving: model input %q is not a transformed feature", key)
		}
		if key == transform.LabelKey {
			return nil, fmt.Errorf("serving: model input %q is the label", key)
		}
	}
	return &Module{
		artifact:  art,
		model:     m,
		inputSpec: art.RawFeatureSpec().Without(transform.LabelKey),
	}, nil
}

// InputSpec returns the schema serialized serving inputs are parsed with.
func (m *Module) InputSpec() model.Schema { return m.inputSpec }

// Artifact returns the transform the module applies.
func (m *Module) Artifact() *transform.Artifact { return m.artifact }

// Model returns the trained model.
func (m *Module) Model() *nn.Model { return m.model }

// Call invokes a signature by name.
func (m *Module) Call(name string, examples [][]byte) (map[string][][]float32, error) {
	if name != DefaultSignature {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignature, name)
	}
	return m.ServeExamples(examples)
}

// ServeExamples is serving_default: it accepts serialized raw tf.Examples
// without label and returns {"output_0": [[p], ...]}, one probability per
// record.
func (m *Module) ServeExamples(serialized [][]byte) (map[string][][]float32, error) {
	cols, err := example.ParseBatch(serialized, m.inputSpec)
	if err != nil {
		return nil, fmt.Errorf("serving: %w", err)
	}
	return m.serveColumns(cols, len(serialized))
}

// PredictExamples runs the same graph over decoded records.
func (m *Module) PredictExamples(exs []model.Example) ([]float32, error) {
	cols, err := example.FromExamples(exs, m.inputSpec)
	if err != nil {
		return nil, fmt.Errorf("serving: %w", err)
	}
	out, err := m.serveColumns(cols, len(exs))
	if err != nil {
		return nil, err
	}
	return flatten(out[OutputKey]), nil
}

func (m *Module) serveColumns(raw model.Columns, rows int) (map[string][][]float32, error) {
	if rows == 0 {
		return map[string][][]float32{OutputKey: {}}, nil
	}
	transformed, err := transform.Preprocess(raw, m.artifact)
	if err != nil {
		return nil, fmt.Errorf("serving: %w", err)
	}
	x, err := Matrix(transformed, m.model.Inputs)
	if err != nil {
		return nil, err
	}
	probs, err := m.model.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("serving: %w", err)
	}
	out := make([][]float32, len(probs))
	for i, p := range probs {
		out[i] = []float32{float32(p)}
	}
	return map[string][][]float32{OutputKey: out}, nil
}

// Matrix concatenates the named numeric columns into a [rows, len(keys)]
// matrix.
func Matrix(cols model.Columns, keys []string) (*mat.Dense, error) {
	rows := cols.Rows()
	if rows == 0 || len(keys) == 0 {
		return nil, fmt.Errorf("serving: empty batch (%d rows, %d features)", rows, len(keys))
	}
	x := mat.NewDense(rows, len(keys), nil)
	for j, key := range keys {
		col, ok := cols[key]
		if !ok {
			return nil, fmt.Errorf("serving: %w: %q", example.ErrMissingFeature, key)
		}
		vals := col.AsFloat32()
		if len(vals) != rows {
			return nil, fmt.Errorf("serving: %w: %q has %d numeric values for %d rows", example.ErrFeatureType, key, len(vals), rows)
		}
		for i, v := range vals {
			x.Set(i, j, float64(v))
		}
	}
	return x, nil
}

func flatten(out [][]float32) []float32 {
	flat := make([]float32, len(out))
	for i, row := range out {
		flat[i] = row[0]
	}
	return flat
}
