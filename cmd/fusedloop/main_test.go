package main

import (
	"flag"
	"testing"

	"github.com/gomlx/fusedloop/backends"
	"github.com/gomlx/fusedloop/elementwise"
	"github.com/gomlx/fusedloop/types/arrays"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runWithFlags runs the command-line with the given flags, resetting the ones not given.
func runWithFlags(args ...string) error {
	defaults := []string{"-backend=", "-op=add", "-dtype=float32", "-shapes=3x4,1x4", "-in=", "-out=",
		"-inplace=", "-boundscheck=false", "-repeat=1", "-nocolor=true"}
	must.M(flag.CommandLine.Parse(append(defaults, args...)))
	return run()
}

func TestRun(t *testing.T) {
	require.NoError(t, runWithFlags())
	require.NoError(t, runWithFlags("-op=identity", "-dtype=int32", "-shapes=3x4", "-out=ft", "-repeat=5"))
	require.NoError(t, runWithFlags("-op=add_mul", "-dtype=bfloat16", "-shapes=2x3,2x3", "-out=ff,tt", "-boundscheck"))
	require.NoError(t, runWithFlags("-op=square", "-shapes=40", "-max_values=4", "-backend=go:nopool"))
	require.NoError(t, runWithFlags("-shapes=2x3,1x3", "-inplace=0:0", "-repeat=2"))
}

func TestRun_Errors(t *testing.T) {
	require.Error(t, runWithFlags("-op=pow"))
	require.Error(t, runWithFlags("-dtype=bool"))
	require.ErrorIs(t, runWithFlags("-shapes=3x4,2x4"), elementwise.ErrShapeMismatch)
	require.ErrorIs(t, runWithFlags("-op=identity", "-shapes=4", "-out=tt"), elementwise.ErrInvalidPattern)
	require.Error(t, runWithFlags("-backend=go:max_bytes=8", "-shapes=100,100"))
}

func TestFillIota(t *testing.T) {
	a := arrays.MustFromFlat(make([]bfloat16.BFloat16, 3), 3)
	fillIota(a)
	assert.Equal(t, []bfloat16.BFloat16{bfloat16.FromFloat32(1), bfloat16.FromFloat32(2), bfloat16.FromFloat32(3)}, a.Values())

	c := arrays.MustFromFlat(make([]complex64, 2), 2)
	fillIota(c)
	assert.Equal(t, []complex64{1, 2}, c.Values())
	require.Equal(t, dtypes.Complex64, c.DType())

	u := arrays.MustFromFlat(make([]uint8, 18), 18)
	fillIota(u)
	assert.Equal(t, uint8(16), u.Value(15))
	assert.Equal(t, uint8(1), u.Value(16))
}

func TestFormatValues(t *testing.T) {
	a := arrays.MustFromFlat([]int32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 4)
	assert.Equal(t, "[1 2 3 4 5 6 7 8]", formatValues(a, 8))
	assert.Equal(t, "[1 2 ...(4 more)... 7 8]", formatValues(a, 4))
}

func TestRunRepeated_InplaceReferences(t *testing.T) {
	backend := must.M1(backends.New())
	defer backend.Finalize()
	x := arrays.MustFromFlat([]float32{1, 2, 3}, 3)
	y := arrays.MustFromFlat([]float32{0, 0, 0}, 3)
	kernel := must.M1(elementwise.Compile(backend, elementwise.Request{
		Scalar:  elementwise.Add[float32](),
		Inputs:  []*arrays.Array{x, y},
		Inplace: map[int]int{0: 0},
	}))
	outputs := must.M1(kernel.Run())
	require.Equal(t, 2, x.RefCount())
	require.True(t, kernel.ReusesInput(0))

	require.NoError(t, runRepeated(kernel, outputs, 3))
	require.Equal(t, 2, x.RefCount(), "extra runs must not leave references behind")
	require.Equal(t, 1, y.RefCount())
}
