package nn

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/svscheck/types/tensors"
)

func newRNG() *rand.Rand { return rand.New(rand.NewPCG(42, 42)) }

func TestLinear(t *testing.T) {
	rng := newRNG()
	layer := NewLinear(rng, 3, 2)
	assert.Equal(t, 3*2+2, layer.NumParams())

	x := tensors.RandomUniform(rng, 4, 10, 3)
	y := layer.Apply(x)
	assert.Equal(t, []int{4, 10, 2}, y.Shape().Dimensions)

	// Check one value by hand.
	xFlat, yFlat := x.CopyFlatData(), y.CopyFlatData()
	want := layer.Bias[1]
	for ii := range 3 {
		want += float64(xFlat[ii]) * layer.Weights.At(ii, 1)
	}
	assert.InDelta(t, want, float64(yFlat[1]), 1e-5)

	require.Panics(t, func() { layer.Apply(tensors.Zeros(4, 10, 5)) })
}

func TestConv1d(t *testing.T) {
	rng := newRNG()
	conv := NewConv1d(rng, 5, 7, 3)
	assert.Equal(t, 5, conv.InDim())
	assert.Equal(t, 7, conv.OutDim())
	assert.Equal(t, 3*5*7+7, conv.NumParams())

	x := tensors.RandomUniform(rng, 2, 20, 5)
	y := conv.Apply(x, nil)
	assert.Equal(t, []int{2, 20, 7}, y.Shape().Dimensions)

	// With lengths, padded frames are zero.
	y = conv.Apply(x, []int{20, 12})
	assert.Equal(t, []int{2, 20, 7}, y.Shape().Dimensions)
	y.ConstFlatData(func(flat []float32) {
		for t2 := 12; t2 < 20; t2++ {
			for d := range 7 {
				require.Zero(t, flat[(20+t2)*7+d])
			}
		}
	})

	// Changing padded input frames doesn't change valid outputs.
	x2 := x.Clone()
	x2.MutableFlatData(func(flat []float32) { flat[(20+15)*5] = 100 })
	y2 := conv.Apply(x2, []int{20, 12})
	require.True(t, y.Equal(y2))

	require.Panics(t, func() { NewConv1d(rng, 5, 7, 4) })
	require.Panics(t, func() { conv.Apply(x, []int{20}) })
	require.Panics(t, func() { conv.Apply(x, []int{20, 21}) })
}

func TestActivations(t *testing.T) {
	x := tensors.FromFlatDataAndDimensions([]float32{-1, 0, 2}, 3)
	assert.Equal(t, []float32{0, 0, 2}, ActivationRelu.Apply(x).CopyFlatData())
	assert.Equal(t, []float32{-LeakyReluAlpha, 0, 2}, ActivationLeakyRelu.Apply(x).CopyFlatData())
	assert.Same(t, x, ActivationNone.Apply(x))
	assert.InDelta(t, math.Tanh(2), float64(ActivationTanh.Apply(x).CopyFlatData()[2]), 1e-6)
	assert.InDelta(t, 0.5, float64(ActivationSigmoid.Apply(x).CopyFlatData()[1]), 1e-6)

	assert.Equal(t, ActivationRelu, ActivationFromName("", ActivationRelu))
	assert.Equal(t, ActivationLeakyRelu, ActivationFromName("leaky_relu", ActivationRelu))
	assert.Equal(t, ActivationTanh, ActivationFromName("Tanh", ActivationRelu))
	assert.Equal(t, "sigmoid", ActivationSigmoid.String())
	require.Panics(t, func() { ActivationFromName("gelu", ActivationRelu) })
}

func TestOps(t *testing.T) {
	x := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	head := SliceLastAxis(x, 0, 1)
	tail := SliceLastAxis(x, 1, 3)
	assert.Equal(t, []float32{1, 4}, head.CopyFlatData())
	assert.Equal(t, []float32{2, 3, 5, 6}, tail.CopyFlatData())
	require.True(t, x.Equal(ConcatenateLastAxis(head, tail)))
	assert.Equal(t, []float32{2, 4, 6, 8, 10, 12}, Add(x, x).CopyFlatData())
	require.Panics(t, func() { SliceLastAxis(x, 2, 2) })
	require.Panics(t, func() { Add(x, head) })

	masked := MaskByLengths(x, []int{1})
	assert.Equal(t, []float32{1, 2, 3, 0, 0, 0}, masked.CopyFlatData())
}

func TestMDNHead(t *testing.T) {
	rng := newRNG()
	for _, dimWise := range []bool{false, true} {
		head := NewMDNHead(rng, 16, 5, 4, dimWise)
		x := tensors.RandomUniform(rng, 2, 10, 16)
		logPi, logSigma, mu := head.Apply(x)
		if dimWise {
			assert.Equal(t, []int{2, 10, 4, 5}, logPi.Shape().Dimensions)
		} else {
			assert.Equal(t, []int{2, 10, 4}, logPi.Shape().Dimensions)
		}
		assert.Equal(t, []int{2, 10, 4, 5}, logSigma.Shape().Dimensions)
		assert.Equal(t, []int{2, 10, 4, 5}, mu.Shape().Dimensions)

		// Mixture weights sum to 1 on the mixture axis.
		pi := logPi.CopyFlatData()
		width := 1
		if dimWise {
			width = 5
		}
		for frame := range 20 {
			for d := range width {
				var total float64
				for g := range 4 {
					total += math.Exp(float64(pi[(frame*4+g)*width+d]))
				}
				require.InDelta(t, 1.0, total, 1e-5)
			}
		}

		muOut, sigmaOut := MostProbable(logPi, logSigma, mu)
		assert.Equal(t, []int{2, 10, 5}, muOut.Shape().Dimensions)
		assert.Equal(t, []int{2, 10, 5}, sigmaOut.Shape().Dimensions)
		sigmaOut.ConstFlatData(func(flat []float32) {
			for _, v := range flat {
				require.Greater(t, v, float32(0))
			}
		})
	}
}

func TestMostProbablePicksLargestWeight(t *testing.T) {
	// One frame, two components, one feature: component 1 is more likely.
	logPi := tensors.FromFlatDataAndDimensions([]float32{float32(math.Log(0.2)), float32(math.Log(0.8))}, 1, 1, 2)
	logSigma := tensors.FromFlatDataAndDimensions([]float32{0, float32(math.Log(3))}, 1, 1, 2, 1)
	mu := tensors.FromFlatDataAndDimensions([]float32{-1, 7}, 1, 1, 2, 1)
	muOut, sigmaOut := MostProbable(logPi, logSigma, mu)
	assert.Equal(t, []float32{7}, muOut.CopyFlatData())
	assert.InDelta(t, 3.0, float64(sigmaOut.CopyFlatData()[0]), 1e-5)
}
