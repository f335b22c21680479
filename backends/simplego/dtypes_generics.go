package simplego

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// FuncForDispatcher is type of functions that the DTypeDispatcher can handle.
type FuncForDispatcher func(params ...any) any

const MaxDTypes = 32

// DTypeDispatcher calls the instance of a generic function that matches a dtype.
type DTypeDispatcher struct {
	Name  string
	fnMap [MaxDTypes]FuncForDispatcher
}

// NewDTypeDispatcher creates a new dispatcher for a class of functions.
func NewDTypeDispatcher(name string) *DTypeDispatcher {
	return &DTypeDispatcher{
		Name: name,
	}
}

// Dispatch call the function that matches the dtype.
func (d *DTypeDispatcher) Dispatch(dtype dtypes.DType, params ...any) any {
	if dtype >= MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	fn := d.fnMap[dtype]
	if fn == nil {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	return fn(params...)
}

// Supports returns whether there is a function registered for dtype.
func (d *DTypeDispatcher) Supports(dtype dtypes.DType) bool {
	return dtype < MaxDTypes && d.fnMap[dtype] != nil
}

// Register a function to handle a specific dtype.
// This overwrites any previous setting for the same dtype.
func (d *DTypeDispatcher) Register(dtype dtypes.DType, fn FuncForDispatcher) {
	if dtype >= MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	d.fnMap[dtype] = fn
}

// SupportedTypesConstraints enumerates the element types supported by SimpleGo.
type SupportedTypesConstraints interface {
	bool | PODNumericConstraints | float16.Float16 | bfloat16.BFloat16
}

// PODNumericConstraints are the Go numeric types with native arithmetic.
// Float16 and BFloat16 are not included, since they are specialized types, not natively supported by Go.
type PODNumericConstraints interface {
	constraints.Integer | constraints.Float | constraints.Complex
}

var (
	dispatchClear          = NewDTypeDispatcher("Clear")
	dispatchLoader         = NewDTypeDispatcher("Loader")
	dispatchStorer         = NewDTypeDispatcher("Storer")
	dispatchNewAccumulator = NewDTypeDispatcher("NewAccumulator")
)

// registerForDType registers the generic instances of all dispatchers for the Go type T.
func registerForDType[T SupportedTypesConstraints](dtype dtypes.DType) {
	dispatchClear.Register(dtype, clearGeneric[T])
	dispatchLoader.Register(dtype, loaderGeneric[T])
	dispatchStorer.Register(dtype, storerGeneric[T])
}

func init() {
	registerForDType[bool](dtypes.Bool)
	registerForDType[int8](dtypes.Int8)
	registerForDType[int16](dtypes.Int16)
	registerForDType[int32](dtypes.Int32)
	registerForDType[int64](dtypes.Int64)
	registerForDType[uint8](dtypes.Uint8)
	registerForDType[uint16](dtypes.Uint16)
	registerForDType[uint32](dtypes.Uint32)
	registerForDType[uint64](dtypes.Uint64)
	registerForDType[float32](dtypes.Float32)
	registerForDType[float64](dtypes.Float64)
	registerForDType[complex64](dtypes.Complex64)
	registerForDType[complex128](dtypes.Complex128)
	registerForDType[float16.Float16](dtypes.Float16)
	registerForDType[bfloat16.BFloat16](dtypes.BFloat16)

	// Bool has no additive identity: it's left out of the accumulators.
	dispatchNewAccumulator.Register(dtypes.Int8, newSumAccumulatorGeneric[int8])
	dispatchNewAccumulator.Register(dtypes.Int16, newSumAccumulatorGeneric[int16])
	dispatchNewAccumulator.Register(dtypes.Int32, newSumAccumulatorGeneric[int32])
	dispatchNewAccumulator.Register(dtypes.Int64, newSumAccumulatorGeneric[int64])
	dispatchNewAccumulator.Register(dtypes.Uint8, newSumAccumulatorGeneric[uint8])
	dispatchNewAccumulator.Register(dtypes.Uint16, newSumAccumulatorGeneric[uint16])
	dispatchNewAccumulator.Register(dtypes.Uint32, newSumAccumulatorGeneric[uint32])
	dispatchNewAccumulator.Register(dtypes.Uint64, newSumAccumulatorGeneric[uint64])
	dispatchNewAccumulator.Register(dtypes.Float32, newSumAccumulatorGeneric[float32])
	dispatchNewAccumulator.Register(dtypes.Float64, newSumAccumulatorGeneric[float64])
	dispatchNewAccumulator.Register(dtypes.Complex64, newSumAccumulatorGeneric[complex64])
	dispatchNewAccumulator.Register(dtypes.Complex128, newSumAccumulatorGeneric[complex128])
	dispatchNewAccumulator.Register(dtypes.Float16, newFloat16Accumulator)
	dispatchNewAccumulator.Register(dtypes.BFloat16, newBFloat16Accumulator)
}

// SupportsAccumulation returns whether outputs of the dtype can be summed into an accumulator.
func SupportsAccumulation(dtype dtypes.DType) bool {
	return dispatchNewAccumulator.Supports(dtype)
}

// clearGeneric zeroes a flat slice reused from the pool.
func clearGeneric[T SupportedTypesConstraints](params ...any) any {
	clear(params[0].([]T))
	return nil
}

// elementLoader returns the element at the flat offset.
type elementLoader func(offset int) any

// elementStorer sets the element at the flat offset. It panics if value is not of the array's Go type.
type elementStorer func(offset int, value any)

func loaderGeneric[T SupportedTypesConstraints](params ...any) any {
	flat := params[0].([]T)
	return elementLoader(func(offset int) any { return flat[offset] })
}

func storerGeneric[T SupportedTypesConstraints](params ...any) any {
	flat := params[0].([]T)
	return elementStorer(func(offset int, value any) { flat[offset] = value.(T) })
}
