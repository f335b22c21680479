package shapes

import (
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape_Iter(t *testing.T) {
	collectAll := func(shape Shape) [][]int {
		collect := make([][]int, 0, shape.Size())
		for indices := range shape.Iter() {
			collect = append(collect, slices.Clone(indices))
		}
		return collect
	}

	// Only one value to iterate.
	require.Equal(t, [][]int{{0, 0, 0, 0}}, collectAll(Make(dtypes.F32, 1, 1, 1, 1)))

	// Scalar yields once, with an empty index.
	require.Equal(t, [][]int{{}}, collectAll(Make(dtypes.F32)))

	// Any zero dimension yields nothing.
	require.Empty(t, collectAll(Make(dtypes.F32, 3, 0, 2)))

	want := [][]int{
		{0, 0, 0, 0},
		{0, 0, 1, 0},
		{1, 0, 0, 0},
		{1, 0, 1, 0},
		{2, 0, 0, 0},
		{2, 0, 1, 0},
	}
	require.Equal(t, want, collectAll(Make(dtypes.BF16, 3, 1, 2, 1)))
}

func TestIterDims_EarlyStop(t *testing.T) {
	count := 0
	for range IterDims([]int{4, 4}) {
		count++
		if count == 5 {
			break
		}
	}
	require.Equal(t, 5, count)
}
