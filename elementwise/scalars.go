package elementwise

import (
	"reflect"

	"github.com/gomlx/fusedloop/backends/loopir"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Numeric are the Go types with a native sum and product that map to a dtype.
type Numeric interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		float32 | float64 | complex64 | complex128
}

func dtypeOf[T any]() dtypes.DType {
	var zero T
	return dtypes.FromGoType(reflect.TypeOf(zero))
}

// Unary creates a scalar function of one input and one output of type T.
func Unary[T Numeric](name string, fn func(x T) T) *loopir.ScalarFunc {
	dtype := dtypeOf[T]()
	return &loopir.ScalarFunc{
		Name:      name,
		Signature: loopir.Signature{Inputs: []dtypes.DType{dtype}, Outputs: []dtypes.DType{dtype}},
		Fn:        func(inputs, outputs []any) { outputs[0] = fn(inputs[0].(T)) },
	}
}

// Binary creates a scalar function of two inputs and one output of type T.
func Binary[T Numeric](name string, fn func(x, y T) T) *loopir.ScalarFunc {
	dtype := dtypeOf[T]()
	return &loopir.ScalarFunc{
		Name:      name,
		Signature: loopir.Signature{Inputs: []dtypes.DType{dtype, dtype}, Outputs: []dtypes.DType{dtype}},
		Fn:        func(inputs, outputs []any) { outputs[0] = fn(inputs[0].(T), inputs[1].(T)) },
	}
}

// Identity returns its input: with a reduced output it sums the input over the broadcast axes.
func Identity[T Numeric]() *loopir.ScalarFunc { return Unary("identity", func(x T) T { return x }) }

// Square returns x*x.
func Square[T Numeric]() *loopir.ScalarFunc { return Unary("square", func(x T) T { return x * x }) }

// Add returns x+y.
func Add[T Numeric]() *loopir.ScalarFunc { return Binary("add", func(x, y T) T { return x + y }) }

// Sub returns x-y.
func Sub[T Numeric]() *loopir.ScalarFunc { return Binary("sub", func(x, y T) T { return x - y }) }

// Mul returns x*y.
func Mul[T Numeric]() *loopir.ScalarFunc { return Binary("mul", func(x, y T) T { return x * y }) }

// AddMul returns the tuple (x+y, x*y), one value per output.
func AddMul[T Numeric]() *loopir.ScalarFunc {
	dtype := dtypeOf[T]()
	return &loopir.ScalarFunc{
		Name:      "add_mul",
		Signature: loopir.Signature{Inputs: []dtypes.DType{dtype, dtype}, Outputs: []dtypes.DType{dtype, dtype}},
		Fn: func(inputs, outputs []any) {
			x, y := inputs[0].(T), inputs[1].(T)
			outputs[0], outputs[1] = x+y, x*y
		},
	}
}

// ScalarNames lists the scalar functions available with ByName.
var ScalarNames = []string{"identity", "square", "add", "sub", "mul", "add_mul"}

// ByName returns the named scalar function for the dtype. See ScalarNames.
//
// Float16 and BFloat16 are computed in float32 and rounded back.
func ByName(name string, dtype dtypes.DType) (*loopir.ScalarFunc, error) {
	var fn *loopir.ScalarFunc
	switch dtype {
	case dtypes.Int8:
		fn = byName[int8](name)
	case dtypes.Int16:
		fn = byName[int16](name)
	case dtypes.Int32:
		fn = byName[int32](name)
	case dtypes.Int64:
		fn = byName[int64](name)
	case dtypes.Uint8:
		fn = byName[uint8](name)
	case dtypes.Uint16:
		fn = byName[uint16](name)
	case dtypes.Uint32:
		fn = byName[uint32](name)
	case dtypes.Uint64:
		fn = byName[uint64](name)
	case dtypes.Float32:
		fn = byName[float32](name)
	case dtypes.Float64:
		fn = byName[float64](name)
	case dtypes.Complex64:
		fn = byName[complex64](name)
	case dtypes.Complex128:
		fn = byName[complex128](name)
	case dtypes.Float16:
		fn = halfByName(name, dtype,
			func(v any) float32 { return v.(float16.Float16).Float32() },
			func(f float32) any { return float16.Fromfloat32(f) })
	case dtypes.BFloat16:
		fn = halfByName(name, dtype,
			func(v any) float32 { return v.(bfloat16.BFloat16).Float32() },
			func(f float32) any { return bfloat16.FromFloat32(f) })
	default:
		return nil, errors.Wrapf(ErrTypeMismatch, "no scalar functions for dtype %s", dtype)
	}
	if fn == nil {
		return nil, errors.Errorf("unknown scalar function %q, valid names are %q", name, ScalarNames)
	}
	return fn, nil
}

func byName[T Numeric](name string) *loopir.ScalarFunc {
	switch name {
	case "identity":
		return Identity[T]()
	case "square":
		return Square[T]()
	case "add":
		return Add[T]()
	case "sub":
		return Sub[T]()
	case "mul":
		return Mul[T]()
	case "add_mul":
		return AddMul[T]()
	}
	return nil
}

// halfByName builds the scalar function for a half-precision dtype, computing in float32.
func halfByName(name string, dtype dtypes.DType, toF32 func(any) float32, fromF32 func(float32) any) *loopir.ScalarFunc {
	unary := func(fn func(x float32) float32) *loopir.ScalarFunc {
		return &loopir.ScalarFunc{
			Name:      name,
			Signature: loopir.Signature{Inputs: []dtypes.DType{dtype}, Outputs: []dtypes.DType{dtype}},
			Fn:        func(inputs, outputs []any) { outputs[0] = fromF32(fn(toF32(inputs[0]))) },
		}
	}
	binary := func(fns ...func(x, y float32) float32) *loopir.ScalarFunc {
		sig := loopir.Signature{Inputs: []dtypes.DType{dtype, dtype}}
		for range fns {
			sig.Outputs = append(sig.Outputs, dtype)
		}
		return &loopir.ScalarFunc{
			Name:      name,
			Signature: sig,
			Fn: func(inputs, outputs []any) {
				x, y := toF32(inputs[0]), toF32(inputs[1])
				for ii, fn := range fns {
					outputs[ii] = fromF32(fn(x, y))
				}
			},
		}
	}
	add := func(x, y float32) float32 { return x + y }
	mul := func(x, y float32) float32 { return x * y }
	switch name {
	case "identity":
		return unary(func(x float32) float32 { return x })
	case "square":
		return unary(func(x float32) float32 { return x * x })
	case "add":
		return binary(add)
	case "sub":
		return binary(func(x, y float32) float32 { return x - y })
	case "mul":
		return binary(mul)
	case "add_mul":
		return binary(add, mul)
	}
	return nil
}
