package elementwise

import (
	"testing"

	"github.com/gomlx/fusedloop/backends"
	"github.com/gomlx/fusedloop/backends/loopir"
	"github.com/gomlx/fusedloop/types/arrays"
	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_NoBroadcast(t *testing.T) {
	x := arrays.MustFromFlat([]float32{1, 2, 3, 4}, 4)
	y := arrays.MustFromFlat([]float32{10, 20, 30, 40}, 4)
	kernel, outputs := compileAndRun(Request{
		Scalar:         Add[float32](),
		Inputs:         []*arrays.Array{x, y},
		InputPatterns:  []shapes.BroadcastPattern{{false}, {false}},
		OutputPatterns: []shapes.BroadcastPattern{{false}},
	})
	require.Equal(t, []int{4}, kernel.IterShape)
	assert.Equal(t, []float32{11, 22, 33, 44}, outputs[0].Values())
	require.Zero(t, kernel.Nest.Count(loopir.OpAccumulate))
	require.Empty(t, kernel.Nest.Accumulators)
	require.False(t, kernel.Aliased)
	require.True(t, kernel.Nest.NoAliasOutputs)
	require.NotEmpty(t, kernel.ID)
}

func TestCompile_Broadcast(t *testing.T) {
	x := iota32(3, 4)
	y := arrays.MustFromFlat([]float32{100, 200, 300, 400}, 1, 4)
	// Broadcast patterns derived from the shapes.
	kernel, outputs := compileAndRun(Request{
		Scalar: Add[float32](),
		Inputs: []*arrays.Array{x, y},
	})
	require.Equal(t, []int{3, 4}, kernel.IterShape)
	assert.Equal(t, []float32{
		101, 202, 303, 404,
		105, 206, 307, 408,
		109, 210, 311, 412,
	}, outputs[0].Values())
	load, _ := kernel.Nest.Find(loopir.OpLoad, 1)
	require.True(t, load.Indices[0].Broadcast, "input #1 always reads row 0")
}

func TestCompile_FullReduction(t *testing.T) {
	kernel, outputs := compileAndRun(Request{
		Scalar:         Identity[float32](),
		Inputs:         []*arrays.Array{iota32(3, 4)},
		OutputPatterns: []shapes.BroadcastPattern{{true, true}},
	})
	require.Equal(t, []int{1, 1}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []float32{78}, outputs[0].Values())
	require.Equal(t, []loopir.Accumulator{{Output: 0, Depth: 0, DType: dtypes.Float32}}, kernel.Nest.Accumulators)
	require.Equal(t, 1, executions(kernel.Nest, loopir.OpFlush, 0))
}

func TestCompile_PartialReduction(t *testing.T) {
	kernel, outputs := compileAndRun(Request{
		Scalar:         Identity[float32](),
		Inputs:         []*arrays.Array{iota32(3, 4)},
		OutputPatterns: []shapes.BroadcastPattern{{false, true}},
	})
	require.Equal(t, []int{3, 1}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []float32{10, 26, 42}, outputs[0].Values())
	require.Equal(t, 1, kernel.Nest.Accumulators[0].Depth)
	require.Equal(t, 3, executions(kernel.Nest, loopir.OpFlush, 0))

	// Running again doesn't carry the previous sums over.
	outputs = must.M1(kernel.Run())
	assert.Equal(t, []float32{10, 26, 42}, outputs[0].Values())
}

func TestCompile_MultipleOutputs(t *testing.T) {
	x := arrays.MustFromFlat([]int32{1, 2, 3, 4}, 2, 2)
	y := arrays.MustFromFlat([]int32{10, 20, 30, 40}, 2, 2)
	kernel, outputs := compileAndRun(Request{
		Scalar:         AddMul[int32](),
		Inputs:         []*arrays.Array{x, y},
		OutputPatterns: []shapes.BroadcastPattern{{false, false}, {false, true}},
	})
	require.Len(t, outputs, 2)
	assert.Equal(t, []int32{11, 22, 33, 44}, outputs[0].Values())
	assert.Equal(t, []int32{1*10 + 2*20, 3*30 + 4*40}, outputs[1].Values())
	require.True(t, kernel.Nest.NoAliasOutputs, "no in-place reuse, outputs can't alias")
	require.Equal(t, []string{"noalias"}, kernel.Nest.OutputAttributes())
}

func TestCompile_Inplace(t *testing.T) {
	x := arrays.MustFromFlat([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	y := arrays.MustFromFlat([]float64{10, 20, 30}, 1, 3)
	kernel, outputs := compileAndRun(Request{
		Scalar:  Add[float64](),
		Inputs:  []*arrays.Array{x, y},
		Inplace: map[int]int{0: 0},
	})
	require.Same(t, x, outputs[0])
	require.True(t, kernel.Aliased)
	require.False(t, kernel.Nest.NoAliasOutputs)
	require.Empty(t, kernel.Nest.OutputAttributes())
	assert.Equal(t, []float64{11, 22, 33, 14, 25, 36}, x.Values())
	require.Equal(t, 2, x.RefCount(), "input and output own the storage")
	require.Equal(t, 1, y.RefCount())
}

func TestCompile_Rank0(t *testing.T) {
	x := arrays.MustFromFlat([]int64{6})
	y := arrays.MustFromFlat([]int64{7})
	kernel, outputs := compileAndRun(Request{
		Scalar: Mul[int64](),
		Inputs: []*arrays.Array{x, y},
	})
	require.Empty(t, kernel.IterShape)
	require.Zero(t, kernel.Nest.Count(loopir.OpLoop))
	require.True(t, outputs[0].Shape().IsScalar())
	assert.Equal(t, []int64{42}, outputs[0].Values())
}

func TestCompile_Idempotent(t *testing.T) {
	x := arrays.MustFromFlat([]float32{0.1, 0.2, 0.3, 1e8, -1e8, 0.7}, 2, 3)
	req := Request{
		Scalar:         Square[float32](),
		Inputs:         []*arrays.Array{x},
		OutputPatterns: []shapes.BroadcastPattern{{true, true}},
	}
	first, firstOutputs := compileAndRun(req)
	second, secondOutputs := compileAndRun(req)
	require.NotEqual(t, first.ID, second.ID)
	if diff := cmp.Diff(first.Nest, second.Nest, cmpopts.IgnoreFields(loopir.LoopNest{}, "Scalar")); diff != "" {
		t.Errorf("loop nests differ (-first +second):\n%s", diff)
	}
	require.Equal(t, firstOutputs[0].Values(), secondOutputs[0].Values())
}

func TestCompile_StridedInputs(t *testing.T) {
	// Logical [[1, 2, 3], [4, 5, 6]] stored column-major.
	colMajor := shapes.Make(dtypes.Float32, 2, 3)
	x := must.M1(arrays.New(colMajor, []float32{1, 4, 2, 5, 3, 6}, colMajor.Strides(shapes.ColumnMajor), 0, shapes.ColumnMajor))
	kernel, outputs := compileAndRun(Request{
		Scalar:         Identity[float32](),
		Inputs:         []*arrays.Array{x},
		OutputPatterns: []shapes.BroadcastPattern{{false, true}},
	})
	assert.Equal(t, []float32{6, 15}, outputs[0].Values())
	require.Equal(t, shapes.ColumnMajor, kernel.Nest.Types.Inputs[0].Layout)

	// Reversed view: [4, 3, 2, 1].
	reversed := must.M1(arrays.New(shapes.Make(dtypes.Int32, 4), []int32{1, 2, 3, 4}, []int{-1}, 3, shapes.Arbitrary))
	_, outputs = compileAndRun(Request{
		Scalar: Square[int32](),
		Inputs: []*arrays.Array{reversed},
	})
	assert.Equal(t, []int32{16, 9, 4, 1}, outputs[0].Values())
}

func TestCompile_ZeroExtent(t *testing.T) {
	_, outputs := compileAndRun(Request{
		Scalar:         Identity[float32](),
		Inputs:         []*arrays.Array{iota32(3, 0)},
		OutputPatterns: []shapes.BroadcastPattern{{false, true}},
	})
	assert.Equal(t, []float32{0, 0, 0}, outputs[0].Values())

	_, outputs = compileAndRun(Request{
		Scalar:         Identity[float32](),
		Inputs:         []*arrays.Array{iota32(0, 4)},
		OutputPatterns: []shapes.BroadcastPattern{{true, true}},
	})
	assert.Equal(t, []float32{0}, outputs[0].Values())
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(backend, Request{
		Scalar: Add[float32](),
		Inputs: []*arrays.Array{iota32(3, 4), iota32(2, 4)},
	})
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Compile(backend, Request{
		Scalar: Add[float32](),
		Inputs: []*arrays.Array{iota32(3, 4)},
	})
	require.ErrorIs(t, err, ErrArityMismatch)

	_, err = Compile(backend, Request{Inputs: []*arrays.Array{iota32(3, 4)}})
	require.ErrorIs(t, err, ErrArityMismatch)

	_, err = Compile(backend, Request{
		Scalar: Add[float64](),
		Inputs: []*arrays.Array{iota32(3, 4), iota32(3, 4)},
	})
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Compile(backend, Request{
		Scalar:       Identity[float32](),
		Inputs:       []*arrays.Array{iota32(3, 4)},
		OutputDTypes: []dtypes.DType{dtypes.Float64},
	})
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Compile(backend, Request{
		Scalar:         Identity[float32](),
		Inputs:         []*arrays.Array{iota32(3, 4)},
		OutputPatterns: []shapes.BroadcastPattern{{false}},
	})
	require.ErrorIs(t, err, ErrInvalidPattern)

	_, err = Compile(backend, Request{
		Scalar:  Identity[float32](),
		Inputs:  []*arrays.Array{iota32(3, 4)},
		Inplace: map[int]int{0: 1},
	})
	require.ErrorIs(t, err, ErrInvalidInplace)

	not := &loopir.ScalarFunc{
		Name:      "not",
		Signature: loopir.Signature{Inputs: []dtypes.DType{dtypes.Bool}, Outputs: []dtypes.DType{dtypes.Bool}},
		Fn:        func(inputs, outputs []any) { outputs[0] = !inputs[0].(bool) },
	}
	_, err = Compile(backend, Request{
		Scalar:         not,
		Inputs:         []*arrays.Array{arrays.MustFromFlat([]bool{true, false}, 2)},
		OutputPatterns: []shapes.BroadcastPattern{{true}},
	})
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCompile_AllocationFailure(t *testing.T) {
	limited := must.M1(backends.NewWithConfig("go:max_bytes=16"))
	defer limited.Finalize()
	_, err := Compile(limited, Request{
		Scalar: Identity[float32](),
		Inputs: []*arrays.Array{iota32(3, 4)},
	})
	require.ErrorContains(t, err, "max_bytes")
}

func TestKernel_RunError(t *testing.T) {
	failing := Unary("failing", func(x float32) float32 {
		if x > 2 {
			panic(errors.Errorf("value %g too large", x))
		}
		return x
	})
	kernel := must.M1(Compile(backend, Request{Scalar: failing, Inputs: []*arrays.Array{iota32(4)}}))
	_, err := kernel.Run()
	require.ErrorContains(t, err, "value 3 too large")
	require.ErrorContains(t, err, kernel.ID)
}

func TestEmitRoutine(t *testing.T) {
	x := iota32(2, 3)
	output := must.M1(backend.Allocate(shapes.Make(dtypes.Float32, 2, 1)))
	routine := must.M1(EmitRoutine(backend, Identity[float32](), []int{2, 3},
		[]*arrays.Array{x}, []*arrays.Array{output},
		[]shapes.BroadcastPattern{{false, false}}, []shapes.BroadcastPattern{{false, true}}, true))
	routine.Run()
	assert.Equal(t, []float32{6, 15}, output.Values())
	require.True(t, routine.NoAlias())
}

func TestKernel_RunAfterRelease(t *testing.T) {
	kernel, outputs := compileAndRun(Request{
		Scalar: Add[float32](),
		Inputs: []*arrays.Array{iota32(4), iota32(4)},
	})
	assert.Equal(t, []float32{2, 4, 6, 8}, outputs[0].Values())
	outputs[0].Release()

	// The released storage goes back to the pool and may be handed to a new array.
	other := must.M1(backend.Allocate(shapes.Make(dtypes.Float32, 4)))
	defer other.Release()
	flat := other.Flat().([]float32)
	for ii := range flat {
		flat[ii] = 7
	}
	_, err := kernel.Run()
	require.ErrorContains(t, err, "output #0 was released")
	assert.Equal(t, []float32{7, 7, 7, 7}, other.Values())

	// Same for a released input.
	x := iota32(3)
	kernel = must.M1(Compile(backend, Request{Scalar: Square[float32](), Inputs: []*arrays.Array{x}}))
	x.Release()
	_, err = kernel.Run()
	require.ErrorContains(t, err, "input #0 was released")
}

func TestCompile_EmptyBroadcastOperand(t *testing.T) {
	_, err := Compile(backend, Request{
		Scalar:        Add[float32](),
		Inputs:        []*arrays.Array{iota32(3), arrays.MustFromFlat([]float32{}, 0)},
		InputPatterns: []shapes.BroadcastPattern{{false}, {true}},
	})
	require.ErrorIs(t, err, ErrShapeMismatch)
	require.ErrorContains(t, err, "no element to broadcast")
}
