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
	"github.com/pkg/errors"
)

// UncheckedAxis can be used in CheckDims for an axis whose dimension doesn't matter.
const UncheckedAxis = int(-1)

// HasShape is an interface for objects that have an associated Shape.
// arrays.Array and Shape itself implement it.
type HasShape interface {
	Shape() Shape
}

// CheckRank returns an error if the shape doesn't have the given rank.
func (s Shape) CheckRank(rank int) error {
	if s.Rank() != rank {
		return errors.Errorf("shape %s has rank %d, wanted rank %d", s, s.Rank(), rank)
	}
	return nil
}

// CheckDims checks that the shape has the given dimensions and rank. A value of UncheckedAxis in
// dimensions means it can take any value and is not checked.
func (s Shape) CheckDims(dimensions ...int) error {
	if err := s.CheckRank(len(dimensions)); err != nil {
		return err
	}
	for axis, wantDim := range dimensions {
		if wantDim != UncheckedAxis && s.Dimensions[axis] != wantDim {
			return errors.Errorf("shape %s axis %d has dimension %d, wanted %d (dimensions wanted=%v)",
				s, axis, s.Dimensions[axis], wantDim, dimensions)
		}
	}
	return nil
}

// CheckRank returns an error if the pattern doesn't have the given rank.
func (bp BroadcastPattern) CheckRank(rank int) error {
	if bp.Rank() != rank {
		return errors.Errorf("broadcast pattern %s has rank %d, wanted rank %d", bp, bp.Rank(), rank)
	}
	return nil
}
