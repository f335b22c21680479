package backends

import "github.com/gomlx/fusedloop/backends/loopir"

// Routine is a lowered loop nest, bound to its input and output arrays.
//
// Run executes the whole computation on the calling goroutine. Errors inside the routine
// (invalid memory access, type errors from the scalar function) are undefined behavior and
// surface as panics.
type Routine interface {
	// Run the loop nest once.
	Run()

	// Nest returns the loop nest that was lowered.
	Nest() *loopir.LoopNest

	// NoAlias reports whether the routine was lowered with the outputs marked as non-aliasing.
	NoAlias() bool
}
