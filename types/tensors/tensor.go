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

// Package tensors implements a `Tensor`, a representation of a multi-dimensional array.
//
// Tensors here are always local (stored in Go memory) and hold float32 values in row-major
// order, which is what the reference models and the synthetic batches of the shape checker need.
// The last axis is the fastest moving one, so a (batch, time, features) tensor is laid out
// frame by frame.
package tensors

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/svscheck/types/shapes"
)

// Tensor represents a multidimensional array of float32 values.
type Tensor struct {
	shape shapes.Shape

	// flat holds the values in row-major order. It's owned by the Tensor.
	flat []float32
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() || shape.IsTuple() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	if shape.DType != dtypes.Float32 {
		exceptions.Panicf("tensors.FromShape(%s): only Float32 tensors are supported", shape)
	}
	return &Tensor{shape: shape, flat: make([]float32, shape.Size())}
}

// Zeros returns a Float32 tensor with the given dimensions filled with zeros.
func Zeros(dimensions ...int) *Tensor {
	return FromShape(shapes.Make(dtypes.Float32, dimensions...))
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the
// flattened values given in `data`. The data is copied.
func FromFlatDataAndDimensions(data []float32, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.Float32, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d", shape, len(data), shape.Size())
	}
	return &Tensor{shape: shape, flat: slices.Clone(data)}
}

// RandomUniform returns a tensor with the given dimensions filled with values uniformly
// sampled in [0, 1) from rng.
func RandomUniform(rng *rand.Rand, dimensions ...int) *Tensor {
	t := Zeros(dimensions...)
	for ii := range t.flat {
		t.flat[ii] = rng.Float32()
	}
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used by the tensor values.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Dim returns the dimension of the given axis; negative axes count from the end.
func (t *Tensor) Dim(axis int) int { return t.shape.Dim(axis) }

// ConstFlatData calls accessFn with the flat values of the tensor. They must not be changed.
func (t *Tensor) ConstFlatData(accessFn func(flat []float32)) {
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flat values of the tensor, which can be changed in place.
func (t *Tensor) MutableFlatData(accessFn func(flat []float32)) {
	accessFn(t.flat)
}

// CopyFlatData returns a copy of the flat values of the tensor.
func (t *Tensor) CopyFlatData() []float32 {
	return slices.Clone(t.flat)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), flat: slices.Clone(t.flat)}
}

// Reshape returns a tensor sharing the same values with different dimensions.
// The total size must be preserved.
func (t *Tensor) Reshape(dimensions ...int) (*Tensor, error) {
	shape := shapes.Make(t.shape.DType, dimensions...)
	if shape.Size() != t.shape.Size() {
		return nil, errors.Errorf("cannot reshape %s to %v: sizes differ (%d != %d)",
			t.shape, dimensions, t.shape.Size(), shape.Size())
	}
	return &Tensor{shape: shape, flat: t.flat}, nil
}

// Equal returns whether both tensors have the same shape and values.
func (t *Tensor) Equal(other *Tensor) bool {
	return t.shape.Equal(other.shape) && slices.Equal(t.flat, other.flat)
}

// String implements fmt.Stringer. Only the shape is printed, values are omitted.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", t.shape)
}
