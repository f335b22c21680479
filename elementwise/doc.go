// Package elementwise compiles a scalar function and a set of N-dimensional array operands into
// one fused loop nest that evaluates the function once per element of the broadcast iteration
// shape.
//
// Compilation goes through three steps, each usable on its own:
//
//  1. IterationShape unifies the operand shapes under their broadcast patterns.
//  2. Materialize binds each output to an input (in-place) or allocates it, and decides whether
//     the outputs can be marked as non-aliasing.
//  3. Emit builds the loopir.LoopNest: loops outer to inner, loads with broadcast-aware indices,
//     one scalar call, and stores -- or, for outputs broadcast along all trailing axes, a sum
//     into an accumulator that is flushed when the loop at its creation depth closes.
//
// Compile runs the three steps and lowers the result with a backends.Backend into a Kernel.
//
// Example: sum each row of a [3, 4] matrix:
//
//	kernel, err := elementwise.Compile(backend, elementwise.Request{
//		Scalar:         elementwise.Identity[float32](),
//		Inputs:         []*arrays.Array{matrix},
//		OutputPatterns: []shapes.BroadcastPattern{{false, true}},
//	})
//	outputs, err := kernel.Run() // outputs[0] has shape [3, 1].
package elementwise
