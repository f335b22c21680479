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

// Package shapes defines Shape, Layout and BroadcastPattern, the static metadata of the
// N-dimensional arrays fed to the fused elementwise loops.
//
// Shape holds the element DType and the dimension of each axis. Unlike shapes used for
// graph nodes, an axis is allowed to have dimension 0: the loop over it simply doesn't run.
//
// ## Glossary
//
//   - Rank: number of axes of an array. All operands of one compiled loop nest share a rank.
//   - Axis: the index of a dimension. Axis 0 is the outermost loop.
//   - Dimension: the extent of an array along an axis.
//   - DType: the element type, enumerated in github.com/gomlx/gopjrt/dtypes.
//   - Broadcast pattern: one boolean per axis, true if the operand doesn't vary along that axis.
//
// Example: the array `[][]float32{{0, 1, 2}, {3, 4, 5}}` has shape `(Float32)[2 3]`, created
// with `shapes.Make(dtypes.Float32, 2, 3)`.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Shape of an array: its element dtype and the dimension of each axis.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions.
//
// It panics if any dimension is negative. Zero dimensions are accepted.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with a negative dimension", s)
		}
	}
	return s
}

// Scalar returns a rank-0 Shape for the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no axes (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts from the end -- so axis=-1 refers to the last axis.
// It panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of the shape: the product of all dimensions.
// A scalar has size 1, and any zero dimension makes the size 0.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes used to store an array of the shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares dtype and dimensions of both shapes.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares the dimensions of both shapes, ignoring the dtypes.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Strides returns the per-axis strides, in number of elements, of a contiguous array of this
// shape stored with the given layout. Arbitrary is treated as RowMajor, the allocation default.
//
// Axes of dimension 0 or 1 still get a well-defined stride, so offsets stay monotonic.
func (s Shape) Strides(layout Layout) []int {
	rank := s.Rank()
	strides := make([]int, rank)
	stride := 1
	if layout == ColumnMajor {
		for axis := 0; axis < rank; axis++ {
			strides[axis] = stride
			stride *= max(s.Dimensions[axis], 1)
		}
		return strides
	}
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= max(s.Dimensions[axis], 1)
	}
	return strides
}
