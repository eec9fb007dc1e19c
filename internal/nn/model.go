// Package nn implements the small feed-forward binary classifier trained on
// transformed features: stacked dense layers over gonum matrices, Adam,
// binary cross-entropy, and accuracy/AUC metrics.
package nn

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// DefaultHidden is the hidden layer layout: Dense(64, relu), Dense(32, relu).
var DefaultHidden = []int{64, 32}

// DefaultLearningRate is the Adam step size.
const DefaultLearningRate = 0.001

// ErrShape is returned when an input batch does not match the model width.
var ErrShape = errors.New("nn: input shape mismatch")

// Model is a stack of dense layers ending in a single sigmoid unit. Inputs
// names the feature columns in the order they are concatenated.
//
// Predict is safe for concurrent use. TrainStep is not.
type Model struct {
	Inputs []string
	Layers []*Dense

	opt *Adam
}

// New builds the default classifier over the named inputs.
func New(inputs []string, seed int64) *Model {
	return NewWithHidden(inputs, DefaultHidden, seed)
}

// NewWithHidden builds a classifier with the given hidden widths, all relu.
func NewWithHidden(inputs []string, hidden []int, seed int64) *Model {
	rng := rand.New(rand.NewSource(seed))
	m := &Model{Inputs: append([]string(nil), inputs...), opt: NewAdam(DefaultLearningRate)}
	in := len(inputs)
	for _, width := range hidden {
		m.Layers = append(m.Layers, newDense(in, width, ReLU, rng))
		in = width
	}
	m.Layers = append(m.Layers, newDense(in, 1, Sigmoid, rng))
	return m
}

// SetOptimizer replaces the optimizer. Its state starts fresh.
func (m *Model) SetOptimizer(opt *Adam) { m.opt = opt }

// Steps returns the number of training steps applied.
func (m *Model) Steps() int {
	if m.opt == nil {
		return 0
	}
	return m.opt.Steps()
}

// Predict returns one probability per row of x.
func (m *Model) Predict(x *mat.Dense) ([]float64, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	out := x
	for _, l := range m.Layers {
		out = l.forward(out, false)
	}
	return column(out), nil
}

// TrainStep runs forward and backward on one batch, applies an optimizer
// update, and returns the batch loss and predictions from before the update.
func (m *Model) TrainStep(x *mat.Dense, y []float64) (float64, []float64, error) {
	if err := m.checkInput(x); err != nil {
		return 0, nil, err
	}
	rows, _ := x.Dims()
	if len(y) != rows {
		return 0, nil, fmt.Errorf("%w: %d labels for %d rows", ErrShape, len(y), rows)
	}
	if m.opt == nil {
		m.opt = NewAdam(DefaultLearningRate)
	}

	out := x
	for _, l := range m.Layers {
		out = l.forward(out, true)
	}
	p := column(out)
	loss := BinaryCrossEntropy(y, p)

	// Sigmoid followed by BCE: dL/dz = (p - y) / n.
	n := float64(rows)
	dz := mat.NewDense(rows, 1, nil)
	for i := range p {
		dz.Set(i, 0, (p[i]-y[i])/n)
	}
	last := len(m.Layers) - 1
	grad := m.Layers[last].backward(dz)
	for i := last - 1; i >= 0; i-- {
		grad = m.Layers[i].backward(m.Layers[i].activationGrad(grad))
	}

	params := make([][]float64, 0, 2*len(m.Layers))
	grads := make([][]float64, 0, 2*len(m.Layers))
	for _, l := range m.Layers {
		params = append(params, l.W.RawMatrix().Data, l.B)
		grads = append(grads, l.dW.RawMatrix().Data, l.dB)
		l.x, l.z = nil, nil
	}
	m.opt.update(params, grads)
	return loss, p, nil
}

func (m *Model) checkInput(x *mat.Dense) error {
	_, cols := x.Dims()
	if len(m.Layers) == 0 || cols != m.Layers[0].In() {
		return fmt.Errorf("%w: got %d columns, want %d", ErrShape, cols, len(m.Inputs))
	}
	return nil
}

func column(d *mat.Dense) []float64 {
	rows, _ := d.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = d.At(i, 0)
	}
	return out
}
