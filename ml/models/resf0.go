package models

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/ml/nn"
	"github.com/gomlx/svscheck/types/tensors"
)

// Targets of the residual-F0 models.
const (
	TargetResF0Conv1dResnet = "nnsvs.acoustic_models.ResF0Conv1dResnet"
	TargetResF0FFN          = "nnsvs.acoustic_models.ResF0FFN"
)

func init() {
	Register(TargetResF0Conv1dResnet, modelconfig.CategoryResidualF0, NewResF0Conv1dResnet)
	Register(TargetResF0FFN, modelconfig.CategoryResidualF0, NewResF0FFN)
}

// lf0Normalization converts the (min-max scaled) input lf0 feature to the (mean-variance
// normalized) output lf0 scale.
type lf0Normalization struct {
	inIdx, outIdx   int
	inMin, inMax    float64
	outMean, outStd float64
}

func newLF0Normalization(net *modelconfig.NetConfig, inDim, outDim int) lf0Normalization {
	if net.InLF0Idx == nil || net.InLF0Min == nil || net.InLF0Max == nil ||
		net.OutLF0Idx == nil || net.OutLF0Mean == nil || net.OutLF0Scale == nil {
		exceptions.Panicf("%s: in_lf0_idx, in_lf0_min, in_lf0_max, out_lf0_idx, out_lf0_mean and out_lf0_scale must be set", net.Target)
	}
	n := lf0Normalization{
		inIdx: *net.InLF0Idx, outIdx: *net.OutLF0Idx,
		inMin: *net.InLF0Min, inMax: *net.InLF0Max,
		outMean: *net.OutLF0Mean, outStd: *net.OutLF0Scale,
	}
	if n.inIdx < 0 || n.inIdx >= inDim || n.outIdx < 0 || n.outIdx >= outDim {
		exceptions.Panicf("%s: lf0 indices (in=%d, out=%d) out of range for in_dim=%d, out_dim=%d",
			net.Target, n.inIdx, n.outIdx, inDim, outDim)
	}
	return n
}

// inputLF0 returns the input lf0 of each frame, converted to the output normalization.
func (n lf0Normalization) inputLF0(x *tensors.Tensor) []float32 {
	inDim := x.Dim(-1)
	frames := x.Size() / inDim
	lf0 := make([]float32, frames)
	x.ConstFlatData(func(flat []float32) {
		for frame := range frames {
			score := float64(flat[frame*inDim+n.inIdx])*(n.inMax-n.inMin) + n.inMin
			lf0[frame] = float32((score - n.outMean) / n.outStd)
		}
	})
	return lf0
}

// resF0Model predicts the output features plus an lf0 residual: the output lf0 is the input lf0
// (taken from the musical score) plus the predicted residual.
//
// Forward returns (y, lf0_residual), where lf0_residual is shaped (batch, time, 1) for
// deterministic models, or (batch, time, num_gaussians) for probabilistic ones, in which case y is
// itself the (log_pi, log_sigma, mu) mixture tuple. Inference returns y alone, or the collapsed
// (mu, sigma) for probabilistic models.
type resF0Model struct {
	inDim    int
	enc      encoder
	head     head
	residual *nn.Linear
	lf0      lf0Normalization
}

var _ Model = (*resF0Model)(nil)

func newResF0Model(rng *rand.Rand, net *modelconfig.NetConfig, inDim, outDim int, enc encoder) *resF0Model {
	m := &resF0Model{
		inDim: inDim,
		enc:   enc,
		head:  newHead(rng, net, enc.OutDim(), outDim, net.UseMDN),
		lf0:   newLF0Normalization(net, inDim, outDim),
	}
	residualDim := 1
	if m.head.mdn != nil {
		residualDim = m.head.mdn.NumGaussians
	}
	m.residual = nn.NewLinear(rng, enc.OutDim(), residualDim)
	return m
}

// NewResF0Conv1dResnet builds a Conv1dResnet with an lf0 residual output.
// It takes the Conv1dResnet hyperparameters plus the in/out lf0 index and normalization fields.
func NewResF0Conv1dResnet(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error) {
	inDim := requireDim(net, "in_dim", net.InputDim())
	outDim := requireDim(net, "out_dim", net.OutputDim())
	hiddenDim := modelconfig.Or(net.HiddenDim, DefaultHiddenDim)
	enc := newResnetEncoder(rng, inDim, hiddenDim, modelconfig.Or(net.NumLayers, DefaultNumLayers),
		modelconfig.Or(net.KernelSize, DefaultKernelSize), nn.ActivationFromName(net.Activation, nn.ActivationRelu))
	return newResF0Model(rng, net, inDim, outDim, enc), nil
}

// NewResF0FFN builds a feed-forward network with an lf0 residual output.
// It takes the FFN hyperparameters plus the in/out lf0 index and normalization fields.
func NewResF0FFN(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error) {
	inDim := requireDim(net, "in_dim", net.InputDim())
	outDim := requireDim(net, "out_dim", net.OutputDim())
	hiddenDim := modelconfig.Or(net.HiddenDim, DefaultHiddenDim)
	enc := newFFNEncoder(rng, inDim, hiddenDim, modelconfig.Or(net.NumLayers, DefaultNumLayers),
		nn.ActivationFromName(net.Activation, nn.ActivationRelu))
	return newResF0Model(rng, net, inDim, outDim, enc), nil
}

func (m *resF0Model) PredictionType() PredictionType { return m.head.predictionType() }

func (m *resF0Model) NumParams() int {
	return m.enc.NumParams() + m.head.numParams() + m.residual.NumParams()
}

// predict returns the head outputs with the lf0 replaced by input lf0 + residual, and the residual.
func (m *resF0Model) predict(x *tensors.Tensor, lengths []int) (y Output, residual *tensors.Tensor) {
	assertInput(x, m.inDim)
	features := m.enc.Encode(x, lengths)
	residual = m.residual.Apply(features)
	lf0 := m.lf0.inputLF0(x)
	y = m.head.forward(features)
	// The main output (y or mu) is the last element for mixture outputs.
	main := y.Tensor()
	if y.IsTuple() {
		main = y.Element(2).Tensor()
	}
	addLF0Residual(main, lf0, residual, m.lf0.outIdx)
	return
}

// addLF0Residual sets main[..., g, outIdx] = lf0 + residual[..., g] in place. main is shaped
// (frames..., outDim) with residual (frames..., 1), or (frames..., G, outDim) with residual (frames..., G).
func addLF0Residual(main *tensors.Tensor, lf0 []float32, residual *tensors.Tensor, outIdx int) {
	outDim := main.Dim(-1)
	numComponents := residual.Dim(-1)
	residual.ConstFlatData(func(res []float32) {
		main.MutableFlatData(func(flat []float32) {
			for frame, score := range lf0 {
				for g := range numComponents {
					flat[(frame*numComponents+g)*outDim+outIdx] = score + res[frame*numComponents+g]
				}
			}
		})
	})
}

func (m *resF0Model) Forward(x *tensors.Tensor, lengths []int) (Output, error) {
	return run("Forward", func() Output {
		y, residual := m.predict(x, lengths)
		return Tuple(y, Single(residual))
	})
}

func (m *resF0Model) Inference(x *tensors.Tensor, lengths []int) (Output, error) {
	return run("Inference", func() Output {
		y, _ := m.predict(x, lengths)
		if !y.IsTuple() {
			return y
		}
		return Tensors(nn.MostProbable(y.Element(0).Tensor(), y.Element(1).Tensor(), y.Element(2).Tensor()))
	})
}
