// Package nn implements the small set of neural network building blocks used by the reference
// models: dense and temporal convolution layers, activations, length masking and a mixture
// density network head.
//
// Layers operate on local float32 tensors shaped (batch, time, features), and use gonum for the
// matrix multiplications. Like graph building code, they panic (with exceptions.Panicf) on
// shape errors; callers catch those at their API boundary.
package nn

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/svscheck/types/shapes"
	"github.com/gomlx/svscheck/types/tensors"
)

// Map returns a new tensor with fn applied to each element of x.
func Map(x *tensors.Tensor, fn func(v float32) float32) *tensors.Tensor {
	y := tensors.FromShape(x.Shape().Clone())
	x.ConstFlatData(func(src []float32) {
		y.MutableFlatData(func(dst []float32) {
			for ii, v := range src {
				dst[ii] = fn(v)
			}
		})
	})
	return y
}

// Add returns a + b. Both must have the same shape.
func Add(a, b *tensors.Tensor) *tensors.Tensor {
	if !a.Shape().Equal(b.Shape()) {
		exceptions.Panicf("nn.Add: shapes %s and %s differ", a.Shape(), b.Shape())
	}
	y := a.Clone()
	b.ConstFlatData(func(src []float32) {
		y.MutableFlatData(func(dst []float32) {
			for ii, v := range src {
				dst[ii] += v
			}
		})
	})
	return y
}

// SliceLastAxis returns x[..., start:end].
func SliceLastAxis(x *tensors.Tensor, start, end int) *tensors.Tensor {
	width := x.Dim(-1)
	if start < 0 || end > width || start >= end {
		exceptions.Panicf("nn.SliceLastAxis(%d, %d) invalid for shape %s", start, end, x.Shape())
	}
	rows := x.Size() / width
	y := tensors.FromShape(x.Shape().WithDim(-1, end-start))
	x.ConstFlatData(func(src []float32) {
		y.MutableFlatData(func(dst []float32) {
			for row := range rows {
				copy(dst[row*(end-start):(row+1)*(end-start)], src[row*width+start:row*width+end])
			}
		})
	})
	return y
}

// ConcatenateLastAxis concatenates the tensors on their last axis. All other axes must match.
func ConcatenateLastAxis(xs ...*tensors.Tensor) *tensors.Tensor {
	if len(xs) == 0 {
		exceptions.Panicf("nn.ConcatenateLastAxis requires at least one tensor")
	}
	first := xs[0].Shape()
	total := 0
	for _, x := range xs {
		if x.Rank() != first.Rank() {
			exceptions.Panicf("nn.ConcatenateLastAxis: rank mismatch %s vs %s", first, x.Shape())
		}
		for axis := 0; axis < first.Rank()-1; axis++ {
			if x.Dim(axis) != first.Dim(axis) {
				exceptions.Panicf("nn.ConcatenateLastAxis: axis %d mismatch %s vs %s", axis, first, x.Shape())
			}
		}
		total += x.Dim(-1)
	}
	y := tensors.FromShape(first.WithDim(-1, total))
	rows := y.Size() / total
	y.MutableFlatData(func(dst []float32) {
		offset := 0
		for _, x := range xs {
			width := x.Dim(-1)
			x.ConstFlatData(func(src []float32) {
				for row := range rows {
					copy(dst[row*total+offset:row*total+offset+width], src[row*width:(row+1)*width])
				}
			})
			offset += width
		}
	})
	return y
}

// MaskByLengths returns a copy of x, shaped (batch, time, ...), with the frames at or beyond
// each sample's length set to zero. A nil lengths means all frames are valid.
func MaskByLengths(x *tensors.Tensor, lengths []int) *tensors.Tensor {
	y := x.Clone()
	if lengths == nil {
		return y
	}
	batchSize, timeSteps := x.Dim(0), x.Dim(1)
	checkLengths(lengths, batchSize, timeSteps)
	frameSize := x.Size() / (batchSize * timeSteps)
	y.MutableFlatData(func(flat []float32) {
		for b, length := range lengths {
			start := (b*timeSteps + length) * frameSize
			end := (b + 1) * timeSteps * frameSize
			clear(flat[start:end])
		}
	})
	return y
}

func checkLengths(lengths []int, batchSize, timeSteps int) {
	if len(lengths) != batchSize {
		exceptions.Panicf("got %d lengths for a batch of size %d", len(lengths), batchSize)
	}
	for b, length := range lengths {
		if length < 0 || length > timeSteps {
			exceptions.Panicf("length[%d]=%d out of range [0, %d]", b, length, timeSteps)
		}
	}
}

// assertFeatures panics unless x has rank >= 1 and its last axis has the given dimension.
func assertFeatures(layer string, x *tensors.Tensor, dim int) {
	if x.Rank() < 1 || x.Dim(-1) != dim {
		exceptions.Panicf("%s expects inputs with last axis of dimension %d, got shape %s", layer, dim, x.Shape())
	}
}

// assertSequence panics unless x is shaped (batch, time, features=dim).
func assertSequence(layer string, x *tensors.Tensor, dim int) {
	if err := x.Shape().CheckDims(shapes.UncheckedAxis, shapes.UncheckedAxis, dim); err != nil {
		exceptions.Panicf("%s expects inputs shaped (batch, time, %d): %v", layer, dim, err)
	}
}
