package models

import (
	"math/rand/v2"

	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/ml/nn"
)

// Targets of the standard models.
const (
	TargetFFN          = "nnsvs.model.FFN"
	TargetConv1dResnet = "nnsvs.model.Conv1dResnet"
	TargetMDN          = "nnsvs.model.MDN"
)

func init() {
	Register(TargetFFN, modelconfig.CategoryStandard, NewFFN)
	Register(TargetConv1dResnet, modelconfig.CategoryStandard, NewConv1dResnet)
	Register(TargetMDN, modelconfig.CategoryStandard, NewMDN)
}

// NewFFN builds a feed-forward network: num_layers dense layers of hidden_dim units followed by
// a dense output layer (or a mixture density layer if use_mdn is set).
//
// Hyperparameters: in_dim, out_dim (or stream_sizes), hidden_dim, num_layers, activation,
// use_mdn, num_gaussians, dim_wise.
func NewFFN(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error) {
	inDim := requireDim(net, "in_dim", net.InputDim())
	outDim := requireDim(net, "out_dim", net.OutputDim())
	hiddenDim := modelconfig.Or(net.HiddenDim, DefaultHiddenDim)
	enc := newFFNEncoder(rng, inDim, hiddenDim, modelconfig.Or(net.NumLayers, DefaultNumLayers),
		nn.ActivationFromName(net.Activation, nn.ActivationRelu))
	return &sequenceModel{
		inDim: inDim,
		enc:   enc,
		head:  newHead(rng, net, hiddenDim, outDim, net.UseMDN),
	}, nil
}

// NewConv1dResnet builds a convolutional residual network over time: an input convolution,
// num_layers residual blocks and a dense output layer (or a mixture density layer if use_mdn is set).
//
// Hyperparameters: in_dim, out_dim (or stream_sizes), hidden_dim, num_layers, kernel_size,
// activation, use_mdn, num_gaussians, dim_wise.
func NewConv1dResnet(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error) {
	inDim := requireDim(net, "in_dim", net.InputDim())
	outDim := requireDim(net, "out_dim", net.OutputDim())
	hiddenDim := modelconfig.Or(net.HiddenDim, DefaultHiddenDim)
	enc := newResnetEncoder(rng, inDim, hiddenDim, modelconfig.Or(net.NumLayers, DefaultNumLayers),
		modelconfig.Or(net.KernelSize, DefaultKernelSize), nn.ActivationFromName(net.Activation, nn.ActivationRelu))
	return &sequenceModel{
		inDim: inDim,
		enc:   enc,
		head:  newHead(rng, net, hiddenDim, outDim, net.UseMDN),
	}, nil
}

// NewMDN builds a mixture density network: a feed-forward trunk followed by a mixture density
// layer. It is always probabilistic, use_mdn is ignored.
//
// Hyperparameters: in_dim, out_dim (or stream_sizes), hidden_dim, num_layers, activation,
// num_gaussians, dim_wise.
func NewMDN(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error) {
	inDim := requireDim(net, "in_dim", net.InputDim())
	outDim := requireDim(net, "out_dim", net.OutputDim())
	hiddenDim := modelconfig.Or(net.HiddenDim, DefaultHiddenDim)
	enc := newFFNEncoder(rng, inDim, hiddenDim, modelconfig.Or(net.NumLayers, DefaultNumLayers),
		nn.ActivationFromName(net.Activation, nn.ActivationRelu))
	return &sequenceModel{
		inDim: inDim,
		enc:   enc,
		head:  newHead(rng, net, hiddenDim, outDim, true),
	}, nil
}
