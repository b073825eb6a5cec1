/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package modelconfig defines the typed configuration of singing-voice-synthesis networks,
// as found in the YAML model configuration files of training recipes.
//
// A model configuration holds the generator network under `netG` and, for post-filters,
// a discriminator under `netD`. Each network names its implementation with the `_target_`
// tag, which is resolved by the models registry, plus its hyperparameters:
//
//	netG:
//	  _target_: nnsvs.model.Conv1dResnet
//	  in_dim: 86
//	  hidden_dim: 256
//	  out_dim: 187
//	  num_layers: 4
//	  use_mdn: true
//	  num_gaussians: 8
//	stream_sizes: [180, 3, 1, 3]
//
// Configurations are immutable once loaded: Validate never changes them, and ApplyDummyLF0
// returns a modified copy.
package modelconfig

import (
	"github.com/gomlx/svscheck/types"
)

// Category of a network, which determines the shape contract its outputs must follow.
type Category int

const (
	// CategoryUnknown is used when the category is to be taken from the registered target.
	CategoryUnknown Category = iota

	// CategoryStandard maps (batch, time, in_dim) to (batch, time, out_dim).
	CategoryStandard

	// CategoryResidualF0 returns the main output plus a separate pitch (lf0) residual.
	CategoryResidualF0

	// CategoryPostFilter is a shape-preserving filter over the concatenation of all streams.
	CategoryPostFilter

	// CategoryDiscriminator is the companion network (`netD`) of a post-filter.
	CategoryDiscriminator
)

var categoryNames = []string{"unknown", "standard", "residual_f0", "postfilter", "discriminator"}

// String implements fmt.Stringer.
func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "invalid"
	}
	return categoryNames[c]
}

// CategoryFromName converts the output of Category.String back to a Category.
// It returns false if the name is not known.
func CategoryFromName(name string) (Category, bool) {
	for ii, categoryName := range categoryNames {
		if categoryName == name {
			return Category(ii), true
		}
	}
	return CategoryUnknown, false
}

// NetConfig is the configuration of one network (`netG` or `netD`).
//
// Dimensions and lf0 normalization values are pointers, so a missing field can be told apart
// from a zero value.
type NetConfig struct {
	// Target is the `_target_` tag naming the implementation in the models registry.
	Target string `yaml:"_target_"`

	InDim     *int `yaml:"in_dim"`
	OutDim    *int `yaml:"out_dim"`
	HiddenDim int  `yaml:"hidden_dim"`
	NumLayers int  `yaml:"num_layers"`

	KernelSize int     `yaml:"kernel_size"`
	Channels   int     `yaml:"channels"`
	Activation string  `yaml:"activation"`
	Dropout    float64 `yaml:"dropout"`

	// Mixture density network (probabilistic) head.
	UseMDN       bool `yaml:"use_mdn"`
	NumGaussians int  `yaml:"num_gaussians"`
	DimWise      bool `yaml:"dim_wise"`

	// StreamSizes are per-stream output widths (e.g. spectrum, lf0, vuv, aperiodicity).
	StreamSizes []int `yaml:"stream_sizes"`

	// Residual-F0 models: where the pitch feature lives in the input and output vectors,
	// and how to (de)normalize it.
	InLF0Idx    *int     `yaml:"in_lf0_idx"`
	InLF0Min    *float64 `yaml:"in_lf0_min"`
	InLF0Max    *float64 `yaml:"in_lf0_max"`
	OutLF0Idx   *int     `yaml:"out_lf0_idx"`
	OutLF0Mean  *float64 `yaml:"out_lf0_mean"`
	OutLF0Scale *float64 `yaml:"out_lf0_scale"`

	// Multi-stream post-filters: per-stream filters and the streams offsets they skip.
	MGCPostFilter *NetConfig `yaml:"mgc_postfilter"`
	BAPPostFilter *NetConfig `yaml:"bap_postfilter"`
	LF0PostFilter *NetConfig `yaml:"lf0_postfilter"`
	MGCOffset     int        `yaml:"mgc_offset"`
	BAPOffset     int        `yaml:"bap_offset"`

	// Extra holds the keys not known to this package. They are kept but not used.
	Extra map[string]any `yaml:",inline"`
}

// ModelConfig is the contents of one model configuration file.
type ModelConfig struct {
	// Source identifies where the configuration came from, usually the file path.
	Source string `yaml:"-"`

	NetG *NetConfig `yaml:"netG"`
	NetD *NetConfig `yaml:"netD"`

	// StreamSizes at the top level describe the acoustic features streams; used when
	// netG doesn't declare out_dim nor its own stream_sizes.
	StreamSizes []int `yaml:"stream_sizes"`

	Extra map[string]any `yaml:",inline"`
}

// Or returns value, or defaultValue if value is the zero value.
func Or[T comparable](value, defaultValue T) T {
	var zero T
	if value == zero {
		return defaultValue
	}
	return value
}

// Deref returns *ptr, or defaultValue if ptr is nil.
func Deref[T any](ptr *T, defaultValue T) T {
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

// InputDim returns in_dim, or 0 if it is not set.
func (c *NetConfig) InputDim() int { return Deref(c.InDim, 0) }

// OutputDim returns out_dim if set, otherwise the sum of stream_sizes (0 if neither is set).
func (c *NetConfig) OutputDim() int {
	if c.OutDim != nil {
		return *c.OutDim
	}
	return sum(c.StreamSizes)
}

// StreamsDim returns the sum of stream_sizes, the width of the combined feature vector.
func (c *NetConfig) StreamsDim() int { return sum(c.StreamSizes) }

// IsProbabilistic returns whether the network is configured with a mixture density head.
func (c *NetConfig) IsProbabilistic() bool { return c.UseMDN }

// ExtraKeys returns the sorted list of keys this package doesn't know about.
func (c *NetConfig) ExtraKeys() []string {
	keys := types.MakeSet[string](len(c.Extra))
	for key := range c.Extra {
		keys.Insert(key)
	}
	return types.SortedKeys(keys)
}

// Clone returns a deep copy of the network configuration.
func (c *NetConfig) Clone() *NetConfig {
	if c == nil {
		return nil
	}
	c2 := *c
	c2.InDim = clonePtr(c.InDim)
	c2.OutDim = clonePtr(c.OutDim)
	c2.InLF0Idx = clonePtr(c.InLF0Idx)
	c2.InLF0Min = clonePtr(c.InLF0Min)
	c2.InLF0Max = clonePtr(c.InLF0Max)
	c2.OutLF0Idx = clonePtr(c.OutLF0Idx)
	c2.OutLF0Mean = clonePtr(c.OutLF0Mean)
	c2.OutLF0Scale = clonePtr(c.OutLF0Scale)
	c2.StreamSizes = append([]int(nil), c.StreamSizes...)
	c2.MGCPostFilter = c.MGCPostFilter.Clone()
	c2.BAPPostFilter = c.BAPPostFilter.Clone()
	c2.LF0PostFilter = c.LF0PostFilter.Clone()
	if c.Extra != nil {
		c2.Extra = make(map[string]any, len(c.Extra))
		for key, value := range c.Extra {
			c2.Extra[key] = value
		}
	}
	return &c2
}

// Clone returns a deep copy of the model configuration.
func (mc *ModelConfig) Clone() *ModelConfig {
	mc2 := *mc
	mc2.NetG = mc.NetG.Clone()
	mc2.NetD = mc.NetD.Clone()
	mc2.StreamSizes = append([]int(nil), mc.StreamSizes...)
	return &mc2
}

// OutDim returns the output dimension of netG: its out_dim, or the sum of its stream_sizes, or
// the sum of the top-level stream_sizes. It returns 0 if none is set.
func (mc *ModelConfig) OutDim() int {
	if mc.NetG == nil {
		return 0
	}
	if dim := mc.NetG.OutputDim(); dim > 0 {
		return dim
	}
	return sum(mc.StreamSizes)
}

// InDim returns the input dimension of netG, or 0 if not set.
func (mc *ModelConfig) InDim() int {
	if mc.NetG == nil {
		return 0
	}
	return mc.NetG.InputDim()
}

// PostFilterDim returns the width of the features a post-filter consumes and produces:
// the sum of netG's stream_sizes.
func (mc *ModelConfig) PostFilterDim() int {
	if mc.NetG == nil {
		return 0
	}
	return mc.NetG.StreamsDim()
}

// Target returns the `_target_` of netG.
func (mc *ModelConfig) Target() string {
	if mc.NetG == nil {
		return ""
	}
	return mc.NetG.Target
}

func sum(values []int) (total int) {
	for _, v := range values {
		total += v
	}
	return
}

func clonePtr[T any](ptr *T) *T {
	if ptr == nil {
		return nil
	}
	v := *ptr
	return &v
}
