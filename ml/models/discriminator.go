package models

import (
	"math/rand/v2"

	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/ml/nn"
	"github.com/gomlx/svscheck/types/tensors"
)

// Targets of the discriminators, the `netD` companions of post-filters.
const (
	TargetFFNDiscriminator    = "nnsvs.discriminators.FFNDiscriminator"
	TargetConv1dDiscriminator = "nnsvs.discriminators.Conv1dDiscriminator"
)

func init() {
	Register(TargetFFNDiscriminator, modelconfig.CategoryDiscriminator, NewFFNDiscriminator)
	Register(TargetConv1dDiscriminator, modelconfig.CategoryDiscriminator, NewConv1dDiscriminator)
}

// NewFFNDiscriminator builds a frame-wise discriminator: a feed-forward trunk producing one
// logit per frame, shaped (batch, time, 1).
//
// Hyperparameters: in_dim, hidden_dim, num_layers, activation.
func NewFFNDiscriminator(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error) {
	inDim := requireDim(net, "in_dim", net.InputDim())
	hiddenDim := modelconfig.Or(net.HiddenDim, DefaultHiddenDim)
	return &sequenceModel{
		inDim: inDim,
		enc: newFFNEncoder(rng, inDim, hiddenDim, modelconfig.Or(net.NumLayers, DefaultNumLayers),
			nn.ActivationFromName(net.Activation, nn.ActivationLeakyRelu)),
		head: head{linear: nn.NewLinear(rng, hiddenDim, 1)},
	}, nil
}

// conv1dDiscriminator is a stack of temporal convolutions producing one logit per frame.
type conv1dDiscriminator struct {
	inDim      int
	layers     []*nn.Conv1d
	activation nn.ActivationType
}

var _ Model = (*conv1dDiscriminator)(nil)

// NewConv1dDiscriminator builds a convolutional discriminator with outputs shaped (batch, time, 1).
//
// Hyperparameters: in_dim, channels, kernel_size, num_layers, activation.
func NewConv1dDiscriminator(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error) {
	inDim := requireDim(net, "in_dim", net.InputDim())
	channels := modelconfig.Or(net.Channels, DefaultChannels)
	kernelSize := modelconfig.Or(net.KernelSize, DefaultKernelSize)
	d := &conv1dDiscriminator{
		inDim:      inDim,
		activation: nn.ActivationFromName(net.Activation, nn.ActivationLeakyRelu),
	}
	dim := inDim
	for range modelconfig.Or(net.NumLayers, DefaultNumLayers) {
		d.layers = append(d.layers, nn.NewConv1d(rng, dim, channels, kernelSize))
		dim = channels
	}
	d.layers = append(d.layers, nn.NewConv1d(rng, dim, 1, kernelSize))
	return d, nil
}

func (d *conv1dDiscriminator) PredictionType() PredictionType { return Deterministic }

func (d *conv1dDiscriminator) NumParams() (total int) {
	for _, layer := range d.layers {
		total += layer.NumParams()
	}
	return
}

func (d *conv1dDiscriminator) apply(x *tensors.Tensor, lengths []int) *tensors.Tensor {
	assertInput(x, d.inDim)
	h := x
	for ii, layer := range d.layers {
		h = layer.Apply(h, lengths)
		if ii < len(d.layers)-1 {
			h = d.activation.Apply(h)
		}
	}
	return h
}

func (d *conv1dDiscriminator) Forward(x *tensors.Tensor, lengths []int) (Output, error) {
	return run("Forward", func() Output { return Single(d.apply(x, lengths)) })
}

func (d *conv1dDiscriminator) Inference(x *tensors.Tensor, lengths []int) (Output, error) {
	return d.Forward(x, lengths)
}
