package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/svscheck/types/tensors"
)

// Linear is a dense layer applied to the last axis of its input: y = x·W + b.
type Linear struct {
	InDim, OutDim int

	// Weights shaped [InDim, OutDim].
	Weights *mat.Dense
	Bias    []float64
}

// NewLinear creates a Linear layer with weights and bias uniformly initialized in
// [-1/sqrt(inDim), 1/sqrt(inDim)], the usual default for dense layers.
func NewLinear(rng *rand.Rand, inDim, outDim int) *Linear {
	bound := 1 / math.Sqrt(float64(inDim))
	weights := make([]float64, inDim*outDim)
	for ii := range weights {
		weights[ii] = uniform(rng, bound)
	}
	bias := make([]float64, outDim)
	for ii := range bias {
		bias[ii] = uniform(rng, bound)
	}
	return &Linear{
		InDim:   inDim,
		OutDim:  outDim,
		Weights: mat.NewDense(inDim, outDim, weights),
		Bias:    bias,
	}
}

// NumParams returns the number of trainable parameters.
func (l *Linear) NumParams() int { return l.InDim*l.OutDim + l.OutDim }

// Apply the layer to x, whose last axis must have dimension InDim.
// All leading axes are preserved and the last one becomes OutDim.
func (l *Linear) Apply(x *tensors.Tensor) *tensors.Tensor {
	assertFeatures("nn.Linear", x, l.InDim)
	rows := x.Size() / l.InDim
	var in *mat.Dense
	x.ConstFlatData(func(flat []float32) {
		in = mat.NewDense(rows, l.InDim, toFloat64(flat))
	})
	return l.fromRows(x, rows, in)
}

// fromRows multiplies in (rows x InDim) by the weights, adds the bias and returns a tensor
// shaped like like, with the last axis replaced by OutDim.
func (l *Linear) fromRows(like *tensors.Tensor, rows int, in *mat.Dense) *tensors.Tensor {
	out := mat.NewDense(rows, l.OutDim, nil)
	out.Mul(in, l.Weights)
	y := tensors.FromShape(like.Shape().WithDim(-1, l.OutDim))
	y.MutableFlatData(func(flat []float32) {
		for row := range rows {
			for col := range l.OutDim {
				flat[row*l.OutDim+col] = float32(out.At(row, col) + l.Bias[col])
			}
		}
	})
	return y
}

func uniform(rng *rand.Rand, bound float64) float64 {
	return (rng.Float64()*2 - 1) * bound
}

func toFloat64(values []float32) []float64 {
	converted := make([]float64, len(values))
	for ii, v := range values {
		converted[ii] = float64(v)
	}
	return converted
}
