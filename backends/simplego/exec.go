package simplego

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusedloop/backends"
	"github.com/gomlx/fusedloop/backends/loopir"
	"github.com/gomlx/fusedloop/types/arrays"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// routine is a loop nest lowered into Go closures, bound to its arrays.
//
// Each IR node becomes one step. The loop variables, the scalar values and the accumulators
// live in a frame created per Run, so the same routine can be run again.
type routine struct {
	nest             *loopir.LoopNest
	inputs, outputs  []*arrays.Array
	program          []step
	accumulatorTypes []loopir.Accumulator
}

// Compile-time check.
var _ backends.Routine = (*routine)(nil)

// frame holds the state of one execution of the routine.
type frame struct {
	indices      []int
	inputValues  []any
	outputValues []any

	// accumulators are indexed by output, nil for outputs written directly.
	accumulators []accumulator
}

type step func(f *frame)

// Lower implements backends.Backend.
func (b *Backend) Lower(nest *loopir.LoopNest, inputs, outputs []*arrays.Array) (backends.Routine, error) {
	if err := checkBindings(nest, inputs, outputs); err != nil {
		return nil, err
	}
	r := &routine{
		nest:             nest,
		inputs:           inputs,
		outputs:          outputs,
		accumulatorTypes: nest.Accumulators,
	}
	err := exceptions.TryCatch[error](func() { r.program = r.lowerNodes(nest.Body) })
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q failed to lower loop nest %q", BackendName, nest.Name)
	}
	if klog.V(1).Enabled() {
		klog.Infof("simplego: lowered %q: iter=%v, %d loops, %d accumulators, noalias=%v",
			nest.Name, nest.IterShape, nest.Count(loopir.OpLoop), len(nest.Accumulators), nest.NoAliasOutputs)
	}
	return r, nil
}

// checkBindings verifies the arrays match the type table of the loop nest.
func checkBindings(nest *loopir.LoopNest, inputs, outputs []*arrays.Array) error {
	if nest.Scalar == nil || nest.Scalar.Fn == nil {
		return errors.Errorf("loop nest %q has no scalar function", nest.Name)
	}
	check := func(kind string, types []loopir.OperandType, bound []*arrays.Array) error {
		if len(types) != len(bound) {
			return errors.Errorf("loop nest %q takes %d %s, %d arrays given", nest.Name, len(types), kind, len(bound))
		}
		for ii, array := range bound {
			if array == nil {
				return errors.Errorf("loop nest %q: %s #%d is nil", nest.Name, kind, ii)
			}
			if array.DType() != types[ii].DType || array.Rank() != types[ii].Rank {
				return errors.Errorf("loop nest %q: %s #%d is %s, but the loop nest was emitted for %s",
					nest.Name, kind, ii, array, types[ii])
			}
			if isReleased(array) {
				return errors.Errorf("loop nest %q: %s #%d was already released", nest.Name, kind, ii)
			}
		}
		return nil
	}
	if err := check("inputs", nest.Types.Inputs, inputs); err != nil {
		return err
	}
	if err := check("outputs", nest.Types.Outputs, outputs); err != nil {
		return err
	}
	for _, acc := range nest.Accumulators {
		if !SupportsAccumulation(acc.DType) {
			return errors.Errorf("loop nest %q: output #%d of dtype %s cannot be accumulated", nest.Name, acc.Output, acc.DType)
		}
	}
	return nil
}

// isReleased reports whether the last owner of the array released it: its storage may already
// belong to another array.
func isReleased(array *arrays.Array) bool {
	return array.RefCount() <= 0 || array.Flat() == nil
}

// Run implements backends.Routine. It panics if any bound array was released after Lower, since
// the lowered steps hold on to its storage.
func (r *routine) Run() {
	for _, group := range []struct {
		kind  string
		bound []*arrays.Array
	}{{"input", r.inputs}, {"output", r.outputs}} {
		for ii, array := range group.bound {
			if isReleased(array) {
				exceptions.Panicf("loop nest %q: %s #%d was released after the loop nest was lowered",
					r.nest.Name, group.kind, ii)
			}
		}
	}
	f := &frame{
		indices:      make([]int, r.nest.Rank()),
		inputValues:  make([]any, r.nest.NumInputs()),
		outputValues: make([]any, r.nest.NumOutputs()),
		accumulators: make([]accumulator, r.nest.NumOutputs()),
	}
	for _, acc := range r.accumulatorTypes {
		f.accumulators[acc.Output] = dispatchNewAccumulator.Dispatch(acc.DType).(accumulator)
	}
	runSteps(r.program, f)
}

// Nest implements backends.Routine.
func (r *routine) Nest() *loopir.LoopNest { return r.nest }

// NoAlias implements backends.Routine.
func (r *routine) NoAlias() bool { return r.nest.NoAliasOutputs }

func runSteps(steps []step, f *frame) {
	for _, s := range steps {
		s(f)
	}
}

func (r *routine) lowerNodes(nodes []*loopir.Node) []step {
	steps := make([]step, 0, len(nodes))
	for _, node := range nodes {
		steps = append(steps, r.lowerNode(node))
	}
	return steps
}

func (r *routine) lowerNode(node *loopir.Node) step {
	switch node.Kind {
	case loopir.OpLoop:
		body := r.lowerNodes(node.Body)
		axis, extent := node.Axis, node.Extent
		return func(f *frame) {
			for idx := range extent {
				f.indices[axis] = idx
				runSteps(body, f)
			}
		}

	case loopir.OpInitAccumulator:
		output := node.Operand
		return func(f *frame) { f.accumulators[output].reset() }

	case loopir.OpLoad:
		input := node.Operand
		array := r.inputs[input]
		address := r.newAddresser(array, node.Indices, "input", input)
		load := dispatchLoader.Dispatch(array.DType(), array.Flat()).(elementLoader)
		return func(f *frame) { f.inputValues[input] = load(address(f.indices)) }

	case loopir.OpCall:
		fn := r.nest.Scalar.Fn
		return func(f *frame) { fn(f.inputValues, f.outputValues) }

	case loopir.OpAccumulate:
		output := node.Operand
		return func(f *frame) { f.accumulators[output].add(f.outputValues[output]) }

	case loopir.OpStore:
		output := node.Operand
		array := r.outputs[output]
		address := r.newAddresser(array, node.Indices, "output", output)
		store := dispatchStorer.Dispatch(array.DType(), array.Flat()).(elementStorer)
		return func(f *frame) { store(address(f.indices), f.outputValues[output]) }

	case loopir.OpFlush:
		output := node.Operand
		array := r.outputs[output]
		address := r.newAddresser(array, node.Indices, "output", output)
		store := dispatchStorer.Dispatch(array.DType(), array.Flat()).(elementStorer)
		return func(f *frame) { store(address(f.indices), f.accumulators[output].value()) }
	}
	exceptions.Panicf("simplego: loop nest %q has unknown node kind %s", r.nest.Name, node.Kind)
	return nil
}

// addresser computes the flat offset of the element addressed at the current loop indices.
type addresser func(indices []int) int

type strideTerm struct {
	axis, stride int
}

// newAddresser precomputes the strides of the non-broadcast axes: broadcast axes always
// address offset 0 along them, so they don't contribute.
func (r *routine) newAddresser(array *arrays.Array, indices []loopir.Index, kind string, position int) addresser {
	if len(indices) != array.Rank() {
		exceptions.Panicf("%s #%d has rank %d, but it's addressed with %d indices", kind, position, array.Rank(), len(indices))
	}
	base := array.Offset()
	strides := array.Strides()
	terms := make([]strideTerm, 0, len(indices))
	for axis, index := range indices {
		if index.Broadcast {
			continue
		}
		terms = append(terms, strideTerm{axis: index.Axis, stride: strides[axis]})
	}
	if !r.nest.BoundsCheck {
		return func(loopIndices []int) int {
			offset := base
			for _, term := range terms {
				offset += loopIndices[term.axis] * term.stride
			}
			return offset
		}
	}

	dims := array.Shape().Dimensions
	flatLen := reflectLen(array.Flat())
	return func(loopIndices []int) int {
		offset := base
		for axis, index := range indices {
			if index.Broadcast {
				continue
			}
			idx := loopIndices[index.Axis]
			if idx >= dims[axis] {
				exceptions.Panicf("loop nest %q: %s #%d index %d out of bounds for axis %d of %s",
					r.nest.Name, kind, position, idx, axis, array)
			}
			offset += idx * strides[axis]
		}
		if offset < 0 || offset >= flatLen {
			exceptions.Panicf("loop nest %q: %s #%d offset %d out of bounds for flat storage of length %d",
				r.nest.Name, kind, position, offset, flatLen)
		}
		return offset
	}
}
