package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer: act(x·W + b).
type Dense struct {
	W   *mat.Dense // [in, out]
	B   []float64  // [out]
	Act Activation

	// Set by forward, consumed by backward.
	x *mat.Dense
	z *mat.Dense

	dW *mat.Dense
	dB []float64
}

// newDense initializes W with Glorot-uniform weights and b with zeros.
func newDense(in, out int, act Activation, rng *rand.Rand) *Dense {
	limit := math.Sqrt(6 / float64(in+out))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
	return &Dense{
		W:   mat.NewDense(in, out, w),
		B:   make([]float64, out),
		Act: act,
	}
}

// In returns the input width.
func (d *Dense) In() int { r, _ := d.W.Dims(); return r }

// Out returns the output width.
func (d *Dense) Out() int { _, c := d.W.Dims(); return c }

// forward computes the layer output for a [batch, in] input. When train is
// set the input and pre-activation are kept for backward.
func (d *Dense) forward(x *mat.Dense, train bool) *mat.Dense {
	rows, _ := x.Dims()
	z := mat.NewDense(rows, d.Out(), nil)
	z.Mul(x, d.W)
	for i := 0; i < rows; i++ {
		row := z.RawRowView(i)
		for j := range row {
			row[j] += d.B[j]
		}
	}
	if train {
		d.x = x
		d.z = mat.DenseCopyOf(z)
	}
	if d.Act != Linear {
		z.Apply(func(_, _ int, v float64) float64 { return d.Act.apply(v) }, z)
	}
	return z
}

// backward takes dL/dz for this layer, stores the parameter gradients and
// returns dL/dx.
func (d *Dense) backward(dz *mat.Dense) *mat.Dense {
	in, out := d.W.Dims()
	d.dW = mat.NewDense(in, out, nil)
	d.dW.Mul(d.x.T(), dz)

	d.dB = make([]float64, out)
	rows, _ := dz.Dims()
	for i := 0; i < rows; i++ {
		for j, v := range dz.RawRowView(i) {
			d.dB[j] += v
		}
	}

	dx := mat.NewDense(rows, in, nil)
	dx.Mul(dz, d.W.T())
	return dx
}

// activationGrad turns dL/da into dL/dz using the cached pre-activation.
func (d *Dense) activationGrad(da *mat.Dense) *mat.Dense {
	rows, cols := da.Dims()
	dz := mat.NewDense(rows, cols, nil)
	dz.Apply(func(i, j int, v float64) float64 {
		return v * d.Act.derivative(d.z.At(i, j))
	}, da)
	return dz
}
