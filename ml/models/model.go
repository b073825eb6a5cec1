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

// Package models defines the Model interface used by the shape checker, the registry that
// builds models from their configuration `_target_`, and a set of reference singing-voice-synthesis
// networks (feed-forward, convolutional residual, mixture density, residual-F0, post-filters and
// discriminators).
//
// A model has two modes: Forward is the training-mode pass, and Inference the dedicated
// inference pass. Probabilistic models return the mixture parameters (log_pi, log_sigma, mu)
// from Forward, and a collapsed (mu, sigma) pair from Inference.
package models

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/svscheck/types/shapes"
	"github.com/gomlx/svscheck/types/tensors"
)

// PredictionType tells whether a model predicts values directly or the parameters of a distribution.
type PredictionType int

const (
	// Deterministic models output features directly.
	Deterministic PredictionType = iota

	// Probabilistic models output a Gaussian mixture per frame (mixture density networks).
	Probabilistic
)

// String implements fmt.Stringer.
func (p PredictionType) String() string {
	switch p {
	case Deterministic:
		return "deterministic"
	case Probabilistic:
		return "probabilistic"
	}
	return "invalid"
}

// Model is a network that can be run in training mode (Forward) and in inference mode (Inference).
//
// Inputs are shaped (batch, time, in_dim), and lengths holds the valid number of frames of each
// sample (nil means all frames are valid).
type Model interface {
	Forward(x *tensors.Tensor, lengths []int) (Output, error)
	Inference(x *tensors.Tensor, lengths []int) (Output, error)
	PredictionType() PredictionType

	// NumParams returns the number of trainable parameters.
	NumParams() int
}

// Output of a model pass: either a single tensor or a tuple of Outputs.
// The zero value is an invalid (empty) Output.
type Output struct {
	tensor *tensors.Tensor
	tuple  []Output
}

// Single returns an Output holding one tensor.
func Single(t *tensors.Tensor) Output {
	if t == nil {
		exceptions.Panicf("models.Single(nil)")
	}
	return Output{tensor: t}
}

// Tuple returns an Output holding the given elements.
func Tuple(elements ...Output) Output {
	if len(elements) == 0 {
		exceptions.Panicf("models.Tuple requires at least one element")
	}
	return Output{tuple: elements}
}

// Tensors returns a tuple Output of single tensors.
func Tensors(ts ...*tensors.Tensor) Output {
	elements := make([]Output, len(ts))
	for ii, t := range ts {
		elements[ii] = Single(t)
	}
	return Tuple(elements...)
}

// Ok returns whether the Output holds anything.
func (o Output) Ok() bool { return o.tensor != nil || len(o.tuple) > 0 }

// IsTuple returns whether the Output is a tuple.
func (o Output) IsTuple() bool { return len(o.tuple) > 0 }

// Arity returns the number of elements of a tuple, or 1 for a single tensor and 0 for an invalid Output.
func (o Output) Arity() int {
	if o.IsTuple() {
		return len(o.tuple)
	}
	if o.tensor != nil {
		return 1
	}
	return 0
}

// Element returns the ii-th element of a tuple.
func (o Output) Element(ii int) Output {
	if !o.IsTuple() || ii < 0 || ii >= len(o.tuple) {
		exceptions.Panicf("Output.Element(%d) invalid for output %s", ii, o.Shape())
	}
	return o.tuple[ii]
}

// Tensor returns the tensor of a single-tensor Output, or nil for tuples.
func (o Output) Tensor() *tensors.Tensor { return o.tensor }

// Shape of the output: the tensor shape, or a tuple shape of the elements' shapes.
func (o Output) Shape() shapes.Shape {
	if o.tensor != nil {
		return o.tensor.Shape()
	}
	if len(o.tuple) == 0 {
		return shapes.Invalid()
	}
	elements := make([]shapes.Shape, len(o.tuple))
	for ii, element := range o.tuple {
		elements[ii] = element.Shape()
	}
	return shapes.MakeTuple(elements...)
}

// run calls fn and converts a panic raised while building the output into an error, prefixed by pass.
func run(pass string, fn func() Output) (output Output, err error) {
	err = exceptions.TryCatch[error](func() { output = fn() })
	if err != nil {
		err = errors.WithMessage(err, pass)
	}
	return
}
