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

package shapes

import (
	"fmt"

	"github.com/pkg/errors"
)

// UncheckedAxis can be used in CheckDims or DiffDims for an axis
// whose dimension doesn't matter.
const UncheckedAxis = int(-1)

// RankAxis is returned by DiffDims when the rank differs, so there is no single axis to blame.
const RankAxis = int(-1)

// DiffDims compares the shape against the wanted dimensions and returns the first
// axis that disagrees. A value of -1 in dimensions means it can take any value and is not checked.
//
// It returns ok=true if everything matches. If the rank is different it returns axis=RankAxis.
func (s Shape) DiffDims(dimensions ...int) (axis int, ok bool) {
	if s.IsTuple() || s.Rank() != len(dimensions) {
		return RankAxis, false
	}
	for ii, wantDim := range dimensions {
		if wantDim != UncheckedAxis && s.Dimensions[ii] != wantDim {
			return ii, false
		}
	}
	return 0, true
}

// CheckDims checks that the shape has the given dimensions and rank. A value of -1 in
// dimensions means it can take any value and is not checked.
//
// It returns an error if the rank is different or if any of the dimensions don't match.
func (s Shape) CheckDims(dimensions ...int) error {
	axis, ok := s.DiffDims(dimensions...)
	if ok {
		return nil
	}
	if axis == RankAxis {
		if s.IsTuple() {
			return errors.Errorf("shape %s is a tuple, wanted a tensor of rank %d", s, len(dimensions))
		}
		return errors.Errorf("shape (%s) has incompatible rank %d (wanted %d)", s, s.Rank(), len(dimensions))
	}
	return errors.Errorf("shape (%s) axis %d has dimension %d, wanted %d (shape wanted=%v)",
		s, axis, s.Dimensions[axis], dimensions[axis], dimensions)
}

// DimsString formats wanted dimensions, printing unchecked axes as "?".
func DimsString(dimensions ...int) string {
	parts := make([]any, len(dimensions))
	for ii, dim := range dimensions {
		if dim == UncheckedAxis {
			parts[ii] = "?"
		} else {
			parts[ii] = dim
		}
	}
	return fmt.Sprint(parts)
}
