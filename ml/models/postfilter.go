package models

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/ml/nn"
	"github.com/gomlx/svscheck/types/tensors"
)

// Targets of the post-filters.
const (
	TargetConv1dPostFilter      = "nnsvs.postfilters.Conv1dPostFilter"
	TargetMultistreamPostFilter = "nnsvs.postfilters.MultistreamPostFilter"
)

func init() {
	Register(TargetConv1dPostFilter, modelconfig.CategoryPostFilter, NewConv1dPostFilter)
	Register(TargetMultistreamPostFilter, modelconfig.CategoryPostFilter, NewMultistreamPostFilter)
}

// Stream positions in the acoustic features, for post-filters: spectral envelope (mgc), lf0,
// voiced/unvoiced flag and band aperiodicity (bap).
const (
	streamMGC = 0
	streamLF0 = 1
	streamBAP = 3
)

// conv1dPostFilter adds a convolutional correction to its input: y = x + f(x).
// Its output has the exact shape of its input.
type conv1dPostFilter struct {
	inDim      int
	layers     []*nn.Conv1d
	activation nn.ActivationType
}

var _ Model = (*conv1dPostFilter)(nil)

// NewConv1dPostFilter builds a shape-preserving convolutional post-filter.
//
// Hyperparameters: in_dim (defaults to the sum of stream_sizes), channels, kernel_size,
// num_layers, activation.
func NewConv1dPostFilter(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error) {
	inDim := modelconfig.Or(net.InputDim(), net.StreamsDim())
	if inDim <= 0 {
		return nil, errors.Errorf("%s: cannot determine the input dimension, set in_dim or stream_sizes", net.Target)
	}
	channels := modelconfig.Or(net.Channels, DefaultChannels)
	kernelSize := modelconfig.Or(net.KernelSize, 5)
	numLayers := modelconfig.Or(net.NumLayers, DefaultNumLayers)
	f := &conv1dPostFilter{
		inDim:      inDim,
		activation: nn.ActivationFromName(net.Activation, nn.ActivationLeakyRelu),
	}
	dim := inDim
	for range numLayers - 1 {
		f.layers = append(f.layers, nn.NewConv1d(rng, dim, channels, kernelSize))
		dim = channels
	}
	f.layers = append(f.layers, nn.NewConv1d(rng, dim, inDim, kernelSize))
	return f, nil
}

func (f *conv1dPostFilter) PredictionType() PredictionType { return Deterministic }

func (f *conv1dPostFilter) NumParams() (total int) {
	for _, layer := range f.layers {
		total += layer.NumParams()
	}
	return
}

func (f *conv1dPostFilter) apply(x *tensors.Tensor, lengths []int) *tensors.Tensor {
	assertInput(x, f.inDim)
	h := x
	for ii, layer := range f.layers {
		h = layer.Apply(h, lengths)
		if ii < len(f.layers)-1 {
			h = f.activation.Apply(h)
		}
	}
	return nn.Add(nn.MaskByLengths(x, lengths), h)
}

func (f *conv1dPostFilter) Forward(x *tensors.Tensor, lengths []int) (Output, error) {
	return run("Forward", func() Output { return Single(f.apply(x, lengths)) })
}

func (f *conv1dPostFilter) Inference(x *tensors.Tensor, lengths []int) (Output, error) {
	return run("Inference", func() Output { return Single(f.apply(x, lengths)) })
}

// streamFilter is a post-filter applied to one stream of the features, skipping its first offset features.
type streamFilter struct {
	stream, offset int
	filter         Model
}

// multistreamPostFilter splits the features in streams, filters the mgc, lf0 and bap streams
// with their own post-filters (when configured) and concatenates the streams back.
type multistreamPostFilter struct {
	streamSizes []int
	filters     []streamFilter
}

var _ Model = (*multistreamPostFilter)(nil)

// NewMultistreamPostFilter builds a post-filter that applies separate post-filters to the
// spectral (mgc_postfilter), lf0 (lf0_postfilter) and aperiodicity (bap_postfilter) streams,
// leaving the other streams unchanged.
//
// Hyperparameters: stream_sizes (required), mgc_postfilter, lf0_postfilter, bap_postfilter,
// mgc_offset, bap_offset. Each sub-filter is built from the registry, with in_dim set to the
// width of its stream minus the offset.
func NewMultistreamPostFilter(net *modelconfig.NetConfig, rng *rand.Rand) (Model, error) {
	if len(net.StreamSizes) == 0 {
		return nil, errors.Errorf("%s: stream_sizes must be set", net.Target)
	}
	f := &multistreamPostFilter{streamSizes: net.StreamSizes}
	for _, sub := range []struct {
		name           string
		stream, offset int
		net            *modelconfig.NetConfig
	}{
		{"mgc_postfilter", streamMGC, net.MGCOffset, net.MGCPostFilter},
		{"lf0_postfilter", streamLF0, 0, net.LF0PostFilter},
		{"bap_postfilter", streamBAP, net.BAPOffset, net.BAPPostFilter},
	} {
		if sub.net == nil {
			continue
		}
		if sub.stream >= len(net.StreamSizes) {
			return nil, errors.Errorf("%s: %s requires stream %d, but only %d streams are configured",
				net.Target, sub.name, sub.stream, len(net.StreamSizes))
		}
		width := net.StreamSizes[sub.stream] - sub.offset
		if sub.offset < 0 || width <= 0 {
			return nil, errors.Errorf("%s: %s offset %d invalid for a stream of size %d",
				net.Target, sub.name, sub.offset, net.StreamSizes[sub.stream])
		}
		subNet := sub.net.Clone()
		subNet.InDim = &width
		registration, err := Lookup(subNet.Target)
		if err != nil {
			return nil, errors.WithMessage(err, sub.name)
		}
		if registration.Category != modelconfig.CategoryPostFilter {
			return nil, errors.Errorf("%s: %s target %q is a %s, not a post-filter",
				net.Target, sub.name, subNet.Target, registration.Category)
		}
		filter, err := registration.Constructor(subNet, rng)
		if err != nil {
			return nil, errors.WithMessage(err, sub.name)
		}
		f.filters = append(f.filters, streamFilter{stream: sub.stream, offset: sub.offset, filter: filter})
	}
	return f, nil
}

func (f *multistreamPostFilter) PredictionType() PredictionType { return Deterministic }

func (f *multistreamPostFilter) NumParams() (total int) {
	for _, sub := range f.filters {
		total += sub.filter.NumParams()
	}
	return
}

func (f *multistreamPostFilter) apply(x *tensors.Tensor, lengths []int, inference bool) *tensors.Tensor {
	total := 0
	for _, size := range f.streamSizes {
		total += size
	}
	assertInput(x, total)
	streams := make([]*tensors.Tensor, len(f.streamSizes))
	start := 0
	for ii, size := range f.streamSizes {
		streams[ii] = nn.SliceLastAxis(x, start, start+size)
		start += size
	}
	for _, sub := range f.filters {
		stream := streams[sub.stream]
		var kept *tensors.Tensor
		if sub.offset > 0 {
			kept = nn.SliceLastAxis(stream, 0, sub.offset)
			stream = nn.SliceLastAxis(stream, sub.offset, stream.Dim(-1))
		}
		pass := sub.filter.Forward
		if inference {
			pass = sub.filter.Inference
		}
		filtered, err := pass(stream, lengths)
		if err != nil {
			panic(err)
		}
		if filtered.IsTuple() {
			exceptions.Panicf("stream %d post-filter returned a tuple %s", sub.stream, filtered.Shape())
		}
		if kept != nil {
			streams[sub.stream] = nn.ConcatenateLastAxis(kept, filtered.Tensor())
		} else {
			streams[sub.stream] = filtered.Tensor()
		}
	}
	return nn.ConcatenateLastAxis(streams...)
}

func (f *multistreamPostFilter) Forward(x *tensors.Tensor, lengths []int) (Output, error) {
	return run("Forward", func() Output { return Single(f.apply(x, lengths, false)) })
}

func (f *multistreamPostFilter) Inference(x *tensors.Tensor, lengths []int) (Output, error) {
	return run("Inference", func() Output { return Single(f.apply(x, lengths, true)) })
}
