package nn

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/svscheck/types/tensors"
)

// MDNHead is a mixture density network output layer: for each frame it predicts a mixture of
// NumGaussians diagonal Gaussians over OutDim features.
//
// If DimWise is set, the mixture weights are predicted per output feature, and log_pi is shaped
// (batch, time, NumGaussians, OutDim) instead of (batch, time, NumGaussians).
type MDNHead struct {
	InDim, OutDim, NumGaussians int
	DimWise                     bool

	pi, logSigma, mu *Linear
}

// NewMDNHead creates the MDN output layer.
func NewMDNHead(rng *rand.Rand, inDim, outDim, numGaussians int, dimWise bool) *MDNHead {
	if numGaussians < 1 {
		exceptions.Panicf("nn.NewMDNHead: numGaussians must be >= 1, got %d", numGaussians)
	}
	piDim := numGaussians
	if dimWise {
		piDim = numGaussians * outDim
	}
	return &MDNHead{
		InDim:        inDim,
		OutDim:       outDim,
		NumGaussians: numGaussians,
		DimWise:      dimWise,
		pi:           NewLinear(rng, inDim, piDim),
		logSigma:     NewLinear(rng, inDim, numGaussians*outDim),
		mu:           NewLinear(rng, inDim, numGaussians*outDim),
	}
}

// NumParams returns the number of trainable parameters.
func (h *MDNHead) NumParams() int {
	return h.pi.NumParams() + h.logSigma.NumParams() + h.mu.NumParams()
}

// Apply the head to x shaped (batch, time, InDim).
//
// It returns log_pi, the log mixture weights normalized over the mixture axis, and log_sigma and
// mu shaped (batch, time, NumGaussians, OutDim).
func (h *MDNHead) Apply(x *tensors.Tensor) (logPi, logSigma, mu *tensors.Tensor) {
	assertSequence("nn.MDNHead", x, h.InDim)
	batchSize, timeSteps := x.Dim(0), x.Dim(1)
	reshape := func(t *tensors.Tensor, dims ...int) *tensors.Tensor {
		reshaped, err := t.Reshape(dims...)
		if err != nil {
			panic(err)
		}
		return reshaped
	}
	logSigma = reshape(h.logSigma.Apply(x), batchSize, timeSteps, h.NumGaussians, h.OutDim)
	mu = reshape(h.mu.Apply(x), batchSize, timeSteps, h.NumGaussians, h.OutDim)
	if h.DimWise {
		logPi = reshape(h.pi.Apply(x), batchSize, timeSteps, h.NumGaussians, h.OutDim)
		logPi = logSoftmaxMixture(logPi, h.NumGaussians, h.OutDim)
	} else {
		logPi = logSoftmaxMixture(h.pi.Apply(x), h.NumGaussians, 1)
	}
	return
}

// logSoftmaxMixture normalizes x over its mixture axis. x is laid out as
// (frames, numGaussians, width): width is 1 for per-frame weights, or OutDim for dim-wise weights.
func logSoftmaxMixture(x *tensors.Tensor, numGaussians, width int) *tensors.Tensor {
	y := x.Clone()
	frames := x.Size() / (numGaussians * width)
	y.MutableFlatData(func(flat []float32) {
		for frame := range frames {
			base := frame * numGaussians * width
			for d := range width {
				maxV := math.Inf(-1)
				for g := range numGaussians {
					maxV = math.Max(maxV, float64(flat[base+g*width+d]))
				}
				var sumExp float64
				for g := range numGaussians {
					sumExp += math.Exp(float64(flat[base+g*width+d]) - maxV)
				}
				logZ := maxV + math.Log(sumExp)
				for g := range numGaussians {
					flat[base+g*width+d] = float32(float64(flat[base+g*width+d]) - logZ)
				}
			}
		}
	})
	return y
}

// MostProbable collapses the mixture axis: for each frame (and each feature, if log_pi is
// dim-wise) it picks the component with the largest weight, and returns its mean and standard
// deviation, both shaped (batch, time, OutDim).
func MostProbable(logPi, logSigma, mu *tensors.Tensor) (muOut, sigmaOut *tensors.Tensor) {
	if mu.Rank() != 4 || !logSigma.Shape().Equal(mu.Shape()) {
		exceptions.Panicf("nn.MostProbable: mu %s and log_sigma %s must share a (batch, time, gaussians, out) shape",
			mu.Shape(), logSigma.Shape())
	}
	batchSize, timeSteps, numGaussians, outDim := mu.Dim(0), mu.Dim(1), mu.Dim(2), mu.Dim(3)
	dimWise := logPi.Rank() == 4
	if err := logPi.Shape().CheckDims(append([]int{batchSize, timeSteps, numGaussians}, logPiTail(dimWise, outDim)...)...); err != nil {
		exceptions.Panicf("nn.MostProbable: invalid log_pi: %v", err)
	}
	muOut = tensors.Zeros(batchSize, timeSteps, outDim)
	sigmaOut = tensors.Zeros(batchSize, timeSteps, outDim)
	logPi.ConstFlatData(func(pi []float32) {
		logSigma.ConstFlatData(func(ls []float32) {
			mu.ConstFlatData(func(m []float32) {
				muOut.MutableFlatData(func(mo []float32) {
					sigmaOut.MutableFlatData(func(so []float32) {
						for frame := range batchSize * timeSteps {
							for d := range outDim {
								best := 0
								for g := 1; g < numGaussians; g++ {
									if piAt(pi, frame, g, d, numGaussians, outDim, dimWise) >
										piAt(pi, frame, best, d, numGaussians, outDim, dimWise) {
										best = g
									}
								}
								src := (frame*numGaussians+best)*outDim + d
								mo[frame*outDim+d] = m[src]
								so[frame*outDim+d] = float32(math.Exp(float64(ls[src])))
							}
						}
					})
				})
			})
		})
	})
	return
}

func logPiTail(dimWise bool, outDim int) []int {
	if dimWise {
		return []int{outDim}
	}
	return nil
}

func piAt(pi []float32, frame, g, d, numGaussians, outDim int, dimWise bool) float32 {
	if dimWise {
		return pi[(frame*numGaussians+g)*outDim+d]
	}
	return pi[frame*numGaussians+g]
}
