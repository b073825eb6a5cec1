package nn

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/svscheck/types/tensors"
)

// Conv1d is a convolution over the time axis of (batch, time, features) sequences,
// with "same" padding: the output has as many frames as the input.
//
// Frames beyond each sample's length are treated as padding: they are not read as context
// by valid frames, and they are zero in the output.
type Conv1d struct {
	KernelSize int

	// taps is a Linear layer over the concatenation of the KernelSize frames around each frame.
	taps *Linear
}

// NewConv1d creates a temporal convolution. kernelSize must be odd.
func NewConv1d(rng *rand.Rand, inDim, outDim, kernelSize int) *Conv1d {
	if kernelSize <= 0 || kernelSize%2 == 0 {
		exceptions.Panicf("nn.NewConv1d: kernel size must be odd and positive, got %d", kernelSize)
	}
	return &Conv1d{
		KernelSize: kernelSize,
		taps:       NewLinear(rng, kernelSize*inDim, outDim),
	}
}

// InDim is the number of input features.
func (c *Conv1d) InDim() int { return c.taps.InDim / c.KernelSize }

// OutDim is the number of output features.
func (c *Conv1d) OutDim() int { return c.taps.OutDim }

// NumParams returns the number of trainable parameters.
func (c *Conv1d) NumParams() int { return c.taps.NumParams() }

// Apply the convolution to x shaped (batch, time, InDim). lengths can be nil, meaning all frames are valid.
func (c *Conv1d) Apply(x *tensors.Tensor, lengths []int) *tensors.Tensor {
	inDim := c.InDim()
	assertSequence("nn.Conv1d", x, inDim)
	batchSize, timeSteps := x.Dim(0), x.Dim(1)
	if lengths != nil {
		checkLengths(lengths, batchSize, timeSteps)
	}
	half := c.KernelSize / 2
	rowWidth := c.KernelSize * inDim
	columns := make([]float64, batchSize*timeSteps*rowWidth)
	x.ConstFlatData(func(flat []float32) {
		for b := range batchSize {
			length := timeSteps
			if lengths != nil {
				length = lengths[b]
			}
			for t := range length {
				row := columns[(b*timeSteps+t)*rowWidth : (b*timeSteps+t+1)*rowWidth]
				for k := range c.KernelSize {
					src := t + k - half
					if src < 0 || src >= length {
						continue
					}
					frame := flat[(b*timeSteps+src)*inDim : (b*timeSteps+src+1)*inDim]
					for ii, v := range frame {
						row[k*inDim+ii] = float64(v)
					}
				}
			}
		}
	})
	in := mat.NewDense(batchSize*timeSteps, rowWidth, columns)
	y := c.taps.fromRows(x, batchSize*timeSteps, in)
	return MaskByLengths(y, lengths)
}
