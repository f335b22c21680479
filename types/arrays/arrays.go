// Package arrays defines Array, the descriptor of an N-dimensional array operand of a fused
// elementwise loop: flat storage, shape, per-axis strides, offset and layout tag.
//
// Arrays are reference counted: the fused loop may return an input array as one of its outputs
// (in-place reuse), in which case it gets one extra owner. When the count drops to zero, the
// storage is given back to the Allocator that created it, if any.
package arrays

import (
	"fmt"
	"reflect"
	"slices"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Allocator creates new arrays, it's the storage collaborator of the fused loop compiler.
//
// Allocated arrays must be contiguous, in RowMajor layout and zero-initialized. Allocation
// failures are returned as errors and are not recovered from.
type Allocator interface {
	Allocate(shape shapes.Shape) (*Array, error)
}

// ReleaseFunc is called when the last reference to an array is released.
type ReleaseFunc func(a *Array)

// Array describes an N-dimensional array stored in a flat slice.
//
// The element at indices idx is stored at flat[Offset() + Σ idx[axis]*Strides()[axis]].
type Array struct {
	shape   shapes.Shape
	strides []int
	offset  int
	layout  shapes.Layout

	// flat is always a slice of the Go type of shape.DType.
	flat any

	refs      *atomic.Int32
	onRelease ReleaseFunc
}

// Compile-time check.
var _ shapes.HasShape = (*Array)(nil)

// FromFlat creates a contiguous RowMajor array that shares the given flat slice.
// The slice element type must match the dtype of the shape, and its length the shape size.
func FromFlat(flat any, dimensions ...int) (*Array, error) {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("arrays.FromFlat: flat must be a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("arrays.FromFlat: unsupported element type %s", flatV.Type().Elem())
	}
	shape := shapes.Make(dtype, dimensions...)
	if shape.Size() != flatV.Len() {
		return nil, errors.Errorf("arrays.FromFlat: flat has %d elements, shape %s requires %d",
			flatV.Len(), shape, shape.Size())
	}
	return New(shape, flat, shape.Strides(shapes.RowMajor), 0, shapes.RowMajor)
}

// MustFromFlat is like FromFlat, but panics on error. Handy for tests.
func MustFromFlat(flat any, dimensions ...int) *Array {
	a, err := FromFlat(flat, dimensions...)
	if err != nil {
		panic(err)
	}
	return a
}

// New creates a strided view over flat: any layout, with an offset into flat.
//
// It checks that the addressed elements fall within flat.
func New(shape shapes.Shape, flat any, strides []int, offset int, layout shapes.Layout) (*Array, error) {
	if len(strides) != shape.Rank() {
		return nil, errors.Errorf("arrays.New: %d strides given for shape %s", len(strides), shape)
	}
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice || flatV.Type().Elem() != shape.DType.GoType() {
		return nil, errors.Errorf("arrays.New: flat must be a []%s for shape %s, got %T", shape.DType.GoType(), shape, flat)
	}
	if shape.Size() > 0 {
		lo, hi := offset, offset
		for axis, stride := range strides {
			span := stride * (shape.Dimensions[axis] - 1)
			if span < 0 {
				lo += span
			} else {
				hi += span
			}
		}
		if lo < 0 || hi >= flatV.Len() {
			return nil, errors.Errorf("arrays.New: strides %v with offset %d for shape %s address [%d, %d], flat has %d elements",
				strides, offset, shape, lo, hi, flatV.Len())
		}
	}
	a := &Array{
		shape:   shape.Clone(),
		strides: slices.Clone(strides),
		offset:  offset,
		layout:  layout,
		flat:    flat,
		refs:    &atomic.Int32{},
	}
	a.refs.Store(1)
	return a, nil
}

// NewOwned creates a contiguous RowMajor array over flat, whose storage is handed to onRelease
// when the last reference is released. Used by allocators.
func NewOwned(shape shapes.Shape, flat any, onRelease ReleaseFunc) *Array {
	a, err := New(shape, flat, shape.Strides(shapes.RowMajor), 0, shapes.RowMajor)
	if err != nil {
		exceptions.Panicf("arrays.NewOwned: %+v", err)
	}
	a.onRelease = onRelease
	return a
}

// Shape of the array. It implements shapes.HasShape.
func (a *Array) Shape() shapes.Shape { return a.shape }

// DType of the elements.
func (a *Array) DType() dtypes.DType { return a.shape.DType }

// Rank of the array.
func (a *Array) Rank() int { return a.shape.Rank() }

// Strides per axis, in number of elements. Don't change the returned slice.
func (a *Array) Strides() []int { return a.strides }

// Offset of the element at index 0 in the flat storage.
func (a *Array) Offset() int { return a.offset }

// Layout tag of the array.
func (a *Array) Layout() shapes.Layout { return a.layout }

// Flat returns the underlying storage, a slice of the Go type of the dtype.
func (a *Array) Flat() any { return a.flat }

// ElementOffset returns the position in Flat() of the element at the given indices.
func (a *Array) ElementOffset(indices ...int) int {
	if len(indices) != a.shape.Rank() {
		exceptions.Panicf("Array.ElementOffset(%v): array has rank %d", indices, a.shape.Rank())
	}
	offset := a.offset
	for axis, idx := range indices {
		offset += idx * a.strides[axis]
	}
	return offset
}

// Value returns the element at the given indices.
func (a *Array) Value(indices ...int) any {
	return reflect.ValueOf(a.flat).Index(a.ElementOffset(indices...)).Interface()
}

// Values returns a newly allocated flat slice with the elements in logical row-major order,
// regardless of the layout and strides of the array.
func (a *Array) Values() any {
	size := a.shape.Size()
	src := reflect.ValueOf(a.flat)
	dst := reflect.MakeSlice(src.Type(), size, size)
	ii := 0
	for indices := range a.shape.Iter() {
		dst.Index(ii).Set(src.Index(a.ElementOffset(indices...)))
		ii++
	}
	return dst.Interface()
}

// IncRef registers a new owner of the array.
func (a *Array) IncRef() {
	if a.refs.Add(1) <= 1 {
		exceptions.Panicf("Array.IncRef(%s): array was already released", a)
	}
}

// RefCount returns the current number of owners.
func (a *Array) RefCount() int { return int(a.refs.Load()) }

// Release drops one owner. When the last owner releases the array, its storage is returned
// to the allocator that created it, and the array must not be used anymore.
func (a *Array) Release() {
	remaining := a.refs.Add(-1)
	switch {
	case remaining < 0:
		klog.Warningf("Array.Release(%s): released more times than it was referenced", a)
	case remaining == 0 && a.onRelease != nil:
		a.onRelease(a)
		a.flat = nil
	}
}

// String implements fmt.Stringer.
func (a *Array) String() string {
	return fmt.Sprintf("Array%s{strides=%v, offset=%d, layout=%s}", a.shape, a.strides, a.offset, a.layout)
}
