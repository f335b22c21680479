// Package loopir is the intermediate representation of a fused elementwise loop nest.
//
// A LoopNest is an explicit tree: OpLoop nodes hold the body of one loop level, and the
// innermost body loads inputs, calls the scalar function once and either stores the results
// or adds them to per-output accumulators. Accumulators are initialized right before the loop
// at their creation depth is opened, and flushed to memory right after it closes.
//
// The IR says nothing about how it's executed: backends lower it, see package backends.
package loopir

import (
	"fmt"
	"strings"

	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// OpKind enumerates the node types of the loop nest.
type OpKind int

const (
	// OpLoop iterates Axis over [0, Extent) running Body.
	OpLoop OpKind = iota

	// OpInitAccumulator sets the accumulator of output Operand to the zero of its dtype.
	OpInitAccumulator

	// OpLoad reads input Operand at Indices into input value slot Operand.
	OpLoad

	// OpCall calls the scalar function with all input value slots, filling all output value slots.
	OpCall

	// OpAccumulate adds output value slot Operand to its accumulator.
	OpAccumulate

	// OpStore writes output value slot Operand to output Operand at Indices.
	OpStore

	// OpFlush writes the accumulator of output Operand to output Operand at Indices.
	OpFlush
)

// String returns a human-readable name for the OpKind.
func (k OpKind) String() string {
	switch k {
	case OpLoop:
		return "Loop"
	case OpInitAccumulator:
		return "InitAccumulator"
	case OpLoad:
		return "Load"
	case OpCall:
		return "Call"
	case OpAccumulate:
		return "Accumulate"
	case OpStore:
		return "Store"
	case OpFlush:
		return "Flush"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Index is the addressing term of one axis: the current loop variable of Axis, or the
// constant 0 if the operand is broadcast along it.
type Index struct {
	Axis      int
	Broadcast bool
}

// Node of the loop nest.
type Node struct {
	Kind OpKind

	// Axis and Extent of an OpLoop. The loop depth equals its axis.
	Axis   int
	Extent int

	// Body of an OpLoop.
	Body []*Node

	// Operand is the input position for OpLoad, and the output position for every other kind
	// but OpLoop and OpCall.
	Operand int

	// Depth at which the accumulator was created, for the accumulator ops.
	Depth int

	// Indices for OpLoad, OpStore and OpFlush, one per axis.
	Indices []Index
}

// OperandType holds the static type information of an input or output array.
type OperandType struct {
	DType  dtypes.DType
	Rank   int
	Layout shapes.Layout
}

// String implements fmt.Stringer. E.g.: "Float32[2,C]".
func (t OperandType) String() string {
	return fmt.Sprintf("%s[%d,%s]", t.DType, t.Rank, t.Layout)
}

// TypeTable is resolved once, before the loop nest is emitted.
type TypeTable struct {
	Inputs, Outputs []OperandType
}

// Accumulator describes the scratch sum of one reduced output.
type Accumulator struct {
	Output int
	Depth  int
	DType  dtypes.DType
}

// LoopNest is the complete fused loop.
type LoopNest struct {
	// Name of the routine, used for logging.
	Name string

	// IterShape is the extent of each loop, axis 0 outermost.
	IterShape []int

	// Types of the operands.
	Types TypeTable

	// Scalar function called once per iteration point.
	Scalar *ScalarFunc

	// Accumulators of the reduced outputs, in output order.
	Accumulators []Accumulator

	// NoAliasOutputs asserts that output arrays don't overlap each other nor the inputs.
	// It's only ever set when there was no in-place reuse.
	NoAliasOutputs bool

	// BoundsCheck asks the backend to verify every computed element offset.
	BoundsCheck bool

	// Body at depth 0: the outermost loop (or, for rank 0, the loads, call and stores directly)
	// surrounded by the accumulators created at depth 0.
	Body []*Node
}

// Rank of the loop nest.
func (n *LoopNest) Rank() int { return len(n.IterShape) }

// NumInputs of the loop nest.
func (n *LoopNest) NumInputs() int { return len(n.Types.Inputs) }

// NumOutputs of the loop nest.
func (n *LoopNest) NumOutputs() int { return len(n.Types.Outputs) }

// AccumulatorFor returns the accumulator of the given output, if it has one.
func (n *LoopNest) AccumulatorFor(output int) (acc Accumulator, found bool) {
	for _, acc = range n.Accumulators {
		if acc.Output == output {
			return acc, true
		}
	}
	return Accumulator{}, false
}

// OutputAttributes returns the attributes of the output parameter for downstream code generators:
// "noalias" when the outputs are proven not to overlap any other buffer.
func (n *LoopNest) OutputAttributes() []string {
	if n.NoAliasOutputs {
		return []string{"noalias"}
	}
	return nil
}

// Signature lists the dtypes of the inputs and outputs of a scalar function.
type Signature struct {
	Inputs, Outputs []dtypes.DType
}

// String implements fmt.Stringer. E.g.: "(Float32, Float32) -> (Float32)".
func (s Signature) String() string {
	join := func(dts []dtypes.DType) string {
		parts := make([]string, len(dts))
		for ii, dt := range dts {
			parts[ii] = dt.String()
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("(%s) -> (%s)", join(s.Inputs), join(s.Outputs))
}

// ScalarFunc is the callable unit invoked once per iteration point.
//
// Fn receives one value per input, each of the Go type of the corresponding Signature dtype,
// and must set one value per output, positionally, of the Go type of the output dtype.
// Both slices are owned by the caller and reused across calls.
type ScalarFunc struct {
	Name      string
	Signature Signature
	Fn        func(inputs, outputs []any)
}

// NumInputs is the arity of the function.
func (f *ScalarFunc) NumInputs() int { return len(f.Signature.Inputs) }

// NumOutputs is the number of returned values, more than one means a tuple is unpacked into outputs.
func (f *ScalarFunc) NumOutputs() int { return len(f.Signature.Outputs) }

// String implements fmt.Stringer.
func (f *ScalarFunc) String() string {
	return f.Name + f.Signature.String()
}
