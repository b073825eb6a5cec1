package models

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/ml/nn"
	"github.com/gomlx/svscheck/types/shapes"
	"github.com/gomlx/svscheck/types/tensors"
)

// Default hyperparameters, used when the configuration leaves them unset.
const (
	DefaultHiddenDim    = 256
	DefaultNumLayers    = 2
	DefaultKernelSize   = 3
	DefaultNumGaussians = 8
	DefaultChannels     = 32
)

// encoder transforms (batch, time, inDim) inputs into (batch, time, OutDim()) features.
type encoder interface {
	Encode(x *tensors.Tensor, lengths []int) *tensors.Tensor
	OutDim() int
	NumParams() int
}

// ffnEncoder is a stack of dense layers, each followed by the activation.
type ffnEncoder struct {
	layers     []*nn.Linear
	activation nn.ActivationType
}

func newFFNEncoder(rng *rand.Rand, inDim, hiddenDim, numLayers int, activation nn.ActivationType) *ffnEncoder {
	e := &ffnEncoder{activation: activation}
	dim := inDim
	for range numLayers {
		e.layers = append(e.layers, nn.NewLinear(rng, dim, hiddenDim))
		dim = hiddenDim
	}
	return e
}

func (e *ffnEncoder) Encode(x *tensors.Tensor, lengths []int) *tensors.Tensor {
	h := x
	for _, layer := range e.layers {
		h = e.activation.Apply(layer.Apply(h))
	}
	return nn.MaskByLengths(h, lengths)
}

func (e *ffnEncoder) OutDim() int { return e.layers[len(e.layers)-1].OutDim }

func (e *ffnEncoder) NumParams() (total int) {
	for _, layer := range e.layers {
		total += layer.NumParams()
	}
	return
}

// resnetEncoder is an input convolution followed by residual blocks of two convolutions each.
type resnetEncoder struct {
	input      *nn.Conv1d
	blocks     [][2]*nn.Conv1d
	activation nn.ActivationType
}

func newResnetEncoder(rng *rand.Rand, inDim, hiddenDim, numLayers, kernelSize int, activation nn.ActivationType) *resnetEncoder {
	e := &resnetEncoder{
		input:      nn.NewConv1d(rng, inDim, hiddenDim, kernelSize),
		activation: activation,
	}
	for range numLayers {
		e.blocks = append(e.blocks, [2]*nn.Conv1d{
			nn.NewConv1d(rng, hiddenDim, hiddenDim, kernelSize),
			nn.NewConv1d(rng, hiddenDim, hiddenDim, 1),
		})
	}
	return e
}

func (e *resnetEncoder) Encode(x *tensors.Tensor, lengths []int) *tensors.Tensor {
	h := e.activation.Apply(e.input.Apply(x, lengths))
	for _, block := range e.blocks {
		residual := block[1].Apply(e.activation.Apply(block[0].Apply(h, lengths)), lengths)
		h = nn.Add(h, residual)
	}
	return h
}

func (e *resnetEncoder) OutDim() int { return e.input.OutDim() }

func (e *resnetEncoder) NumParams() int {
	total := e.input.NumParams()
	for _, block := range e.blocks {
		total += block[0].NumParams() + block[1].NumParams()
	}
	return total
}

// head maps encoded features to the model outputs: either a dense layer (deterministic)
// or a mixture density layer (probabilistic).
type head struct {
	linear *nn.Linear
	mdn    *nn.MDNHead
}

func newHead(rng *rand.Rand, net *modelconfig.NetConfig, inDim, outDim int, probabilistic bool) head {
	if probabilistic {
		numGaussians := modelconfig.Or(net.NumGaussians, DefaultNumGaussians)
		return head{mdn: nn.NewMDNHead(rng, inDim, outDim, numGaussians, net.DimWise)}
	}
	return head{linear: nn.NewLinear(rng, inDim, outDim)}
}

func (h head) predictionType() PredictionType {
	if h.mdn != nil {
		return Probabilistic
	}
	return Deterministic
}

func (h head) numParams() int {
	if h.mdn != nil {
		return h.mdn.NumParams()
	}
	return h.linear.NumParams()
}

// forward returns a single (batch, time, out) tensor, or the (log_pi, log_sigma, mu) mixture parameters.
func (h head) forward(features *tensors.Tensor) Output {
	if h.mdn != nil {
		return Tensors(h.mdn.Apply(features))
	}
	return Single(h.linear.Apply(features))
}

// inference returns a single (batch, time, out) tensor, or (mu, sigma) of the most probable
// mixture component.
func (h head) inference(features *tensors.Tensor) Output {
	if h.mdn != nil {
		return Tensors(nn.MostProbable(h.mdn.Apply(features)))
	}
	return Single(h.linear.Apply(features))
}

// sequenceModel is an encoder followed by a head. It implements Model.
type sequenceModel struct {
	inDim int
	enc   encoder
	head  head
}

var _ Model = (*sequenceModel)(nil)

func (m *sequenceModel) PredictionType() PredictionType { return m.head.predictionType() }

func (m *sequenceModel) NumParams() int { return m.enc.NumParams() + m.head.numParams() }

func (m *sequenceModel) Forward(x *tensors.Tensor, lengths []int) (Output, error) {
	return run("Forward", func() Output {
		assertInput(x, m.inDim)
		return m.head.forward(m.enc.Encode(x, lengths))
	})
}

func (m *sequenceModel) Inference(x *tensors.Tensor, lengths []int) (Output, error) {
	return run("Inference", func() Output {
		assertInput(x, m.inDim)
		return m.head.inference(m.enc.Encode(x, lengths))
	})
}

// assertInput panics unless x is shaped (batch, time, inDim).
func assertInput(x *tensors.Tensor, inDim int) {
	if x == nil {
		exceptions.Panicf("nil input")
	}
	if err := x.Shape().CheckDims(shapes.UncheckedAxis, shapes.UncheckedAxis, inDim); err != nil {
		exceptions.Panicf("model expects inputs shaped (batch, time, %d): %v", inDim, err)
	}
}

// requireDim returns value if > 0, and panics naming the missing field otherwise.
func requireDim(net *modelconfig.NetConfig, field string, value int) int {
	if value <= 0 {
		exceptions.Panicf("%s: %s must be set and > 0", net.Target, field)
	}
	return value
}
