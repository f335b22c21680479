package simplego

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// accumulator holds the running sum of a reduced output.
//
// The sum uses the arithmetic of the output dtype: integers wrap around, and every addition
// rounds to the output's float precision.
type accumulator interface {
	reset()
	add(value any)
	value() any
}

type sumAccumulator[T PODNumericConstraints] struct {
	sum T
}

func newSumAccumulatorGeneric[T PODNumericConstraints](_ ...any) any {
	return &sumAccumulator[T]{}
}

func (a *sumAccumulator[T]) reset() {
	var zero T
	a.sum = zero
}

func (a *sumAccumulator[T]) add(value any) { a.sum += value.(T) }
func (a *sumAccumulator[T]) value() any    { return a.sum }

// float16Accumulator adds in float32 and rounds back to float16 on every step.
type float16Accumulator struct {
	sum float16.Float16
}

func newFloat16Accumulator(_ ...any) any { return &float16Accumulator{} }

func (a *float16Accumulator) reset() { a.sum = float16.Fromfloat32(0) }
func (a *float16Accumulator) add(value any) {
	a.sum = float16.Fromfloat32(a.sum.Float32() + value.(float16.Float16).Float32())
}
func (a *float16Accumulator) value() any { return a.sum }

// bfloat16Accumulator adds in float32 and rounds back to bfloat16 on every step.
type bfloat16Accumulator struct {
	sum bfloat16.BFloat16
}

func newBFloat16Accumulator(_ ...any) any { return &bfloat16Accumulator{} }

func (a *bfloat16Accumulator) reset() { a.sum = bfloat16.FromFloat32(0) }
func (a *bfloat16Accumulator) add(value any) {
	a.sum = bfloat16.FromFloat32(a.sum.Float32() + value.(bfloat16.BFloat16).Float32())
}
func (a *bfloat16Accumulator) value() any { return a.sum }
