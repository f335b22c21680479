package elementwise

import (
	"testing"

	"github.com/gomlx/fusedloop/backends"
	"github.com/gomlx/fusedloop/backends/simplego"
	"github.com/gomlx/fusedloop/types/arrays"
	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterialize(t *testing.T) {
	x := iota32(3, 4)
	outputs, aliased, err := Materialize(backend, []int{3, 4},
		[]shapes.BroadcastPattern{{false, true}, {false, false}, {true, true}},
		[]dtypes.DType{dtypes.Float32, dtypes.Int64, dtypes.Float64}, nil, []*arrays.Array{x})
	require.NoError(t, err)
	require.False(t, aliased)
	require.Len(t, outputs, 3)
	assert.Equal(t, []int{3, 1}, outputs[0].Shape().Dimensions)
	assert.Equal(t, shapes.Make(dtypes.Int64, 3, 4), outputs[1].Shape())
	assert.Equal(t, []int{1, 1}, outputs[2].Shape().Dimensions)
	for _, output := range outputs {
		require.NotSame(t, x, output)
		output.Release()
	}
}

func TestMaterialize_Inplace(t *testing.T) {
	x := iota32(3, 4)
	y := iota32(1, 4)
	outputs, aliased, err := Materialize(backend, []int{3, 4},
		[]shapes.BroadcastPattern{{false, false}, {true, false}},
		[]dtypes.DType{dtypes.Float32, dtypes.Float32}, map[int]int{0: 0, 1: 1}, []*arrays.Array{x, y})
	require.NoError(t, err)
	require.True(t, aliased)
	require.Same(t, x, outputs[0])
	require.Same(t, y, outputs[1])
	// Reference counts are only incremented once the routine runs.
	require.Equal(t, 1, x.RefCount())
}

func TestMaterialize_InvalidInplace(t *testing.T) {
	x := iota32(3, 4)
	row := iota32(1, 4)
	ints := arrays.MustFromFlat(make([]int32, 12), 3, 4)
	inputs := []*arrays.Array{x, row, ints}
	rowPattern := []shapes.BroadcastPattern{{false, false}}
	f32 := []dtypes.DType{dtypes.Float32}
	testCases := []struct {
		name     string
		patterns []shapes.BroadcastPattern
		inplace  map[int]int
		contains string
	}{
		{"output out of range", rowPattern, map[int]int{1: 0}, "output position 1"},
		{"input out of range", rowPattern, map[int]int{0: 3}, "input position 3"},
		{"negative input", rowPattern, map[int]int{0: -1}, "input position -1"},
		{"dtype mismatch", rowPattern, map[int]int{0: 2}, "dtype Float32"},
		{"too small", rowPattern, map[int]int{0: 1}, "dimension 3 on axis 0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Materialize(backend, []int{3, 4}, tc.patterns, f32, tc.inplace, inputs)
			require.ErrorIs(t, err, ErrInvalidInplace)
			require.ErrorContains(t, err, tc.contains)
		})
	}

	// Reusing the broadcast row for a broadcast output is fine.
	outputs, aliased, err := Materialize(backend, []int{3, 4}, []shapes.BroadcastPattern{{true, false}}, f32,
		map[int]int{0: 1}, inputs)
	require.NoError(t, err)
	require.True(t, aliased)
	require.Same(t, row, outputs[0])
}

func TestMaterialize_Errors(t *testing.T) {
	_, _, err := Materialize(backend, []int{3}, []shapes.BroadcastPattern{{false}}, nil, nil, nil)
	require.ErrorIs(t, err, ErrArityMismatch)
	_, _, err = Materialize(backend, []int{3}, []shapes.BroadcastPattern{{false, false}}, []dtypes.DType{dtypes.Float32}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestMaterialize_AllocationFailure(t *testing.T) {
	limited := must.M1(backends.NewWithConfig("go:max_bytes=64"))
	defer limited.Finalize()

	// The first (broadcast) output fits, the second doesn't: the first must be given back.
	_, _, err := Materialize(limited, []int{100}, []shapes.BroadcastPattern{{true}, {false}},
		[]dtypes.DType{dtypes.Float32, dtypes.Float32}, nil, []*arrays.Array{iota32(100)})
	require.Error(t, err)
	require.ErrorContains(t, err, "max_bytes")
	require.ErrorContains(t, err, "output #1")
	require.Zero(t, limited.(*simplego.Backend).LiveBytes())
}
