package elementwise

import (
	"testing"

	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterationShape(t *testing.T) {
	f32 := func(dims ...int) shapes.Shape { return shapes.Make(dtypes.Float32, dims...) }
	type bp = shapes.BroadcastPattern
	testCases := []struct {
		name     string
		shapes   []shapes.Shape
		patterns []shapes.BroadcastPattern
		want     []int
	}{
		{"no broadcast", []shapes.Shape{f32(4), f32(4)}, []bp{{false}, {false}}, []int{4}},
		{"broadcast row", []shapes.Shape{f32(3, 4), f32(1, 4)}, []bp{{false, false}, {true, false}}, []int{3, 4}},
		{"broadcast first", []shapes.Shape{f32(1, 4), f32(3, 4)}, []bp{{true, false}, {false, false}}, []int{3, 4}},
		{"stored dimension of broadcast axis is ignored", []shapes.Shape{f32(7, 4), f32(3, 4)}, []bp{{true, false}, {false, false}}, []int{3, 4}},
		{"all broadcast axis", []shapes.Shape{f32(1, 5), f32(1, 5)}, []bp{{true, false}, {true, false}}, []int{1, 5}},
		{"rank 0", []shapes.Shape{f32(), f32()}, []bp{{}, {}}, []int{}},
		{"zero extent", []shapes.Shape{f32(0, 2)}, []bp{{false, false}}, []int{0, 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := IterationShape(tc.shapes, tc.patterns)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIterationShape_Errors(t *testing.T) {
	f32 := func(dims ...int) shapes.Shape { return shapes.Make(dtypes.Float32, dims...) }
	_, err := IterationShape([]shapes.Shape{f32(3, 4), f32(3, 5)}, []shapes.BroadcastPattern{{false, false}, {false, false}})
	require.ErrorIs(t, err, ErrShapeMismatch)
	require.ErrorContains(t, err, "axis 1")

	_, err = IterationShape([]shapes.Shape{f32(3, 4), f32(4)}, []shapes.BroadcastPattern{{false, false}, {false}})
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = IterationShape([]shapes.Shape{f32(3), f32(0)}, []shapes.BroadcastPattern{{false}, {true}})
	require.ErrorIs(t, err, ErrShapeMismatch)
	require.ErrorContains(t, err, "operand #1")

	_, err = IterationShape([]shapes.Shape{f32(3, 4)}, []shapes.BroadcastPattern{{false}})
	require.ErrorIs(t, err, ErrInvalidPattern)

	_, err = IterationShape([]shapes.Shape{f32(3, 4)}, nil)
	require.ErrorIs(t, err, ErrArityMismatch)

	_, err = IterationShape(nil, nil)
	require.ErrorIs(t, err, ErrArityMismatch)
}
