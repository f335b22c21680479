package elementwise

import (
	"github.com/gomlx/fusedloop/backends/loopir"
	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// EmitConfig holds the optional settings of Emit.
type EmitConfig struct {
	// Name of the loop nest, for logging. Defaults to the scalar function name.
	Name string

	// NoAlias marks the outputs as not overlapping any other buffer. See Materialize.
	NoAlias bool

	// BoundsCheck asks the backend to verify every element offset at run time.
	BoundsCheck bool
}

// Emit builds the fused loop nest that calls scalar once per point of iterShape.
//
// For each axis d, outer to inner, every output broadcast along all axes >= d that doesn't have an
// accumulator yet gets one, created at depth d: it's set to zero right before loop d opens, and
// flushed to the output (at index 0 on its broadcast axes) right after loop d closes. The
// innermost body loads each input (index 0 on its broadcast axes), calls scalar, and then either
// adds each result to its accumulator or stores it directly to its output.
//
// types must have been resolved from the operands (see ResolveTypes), and agree with the scalar
// signature. Outputs that need accumulation must have a numeric dtype.
func Emit(scalar *loopir.ScalarFunc, iterShape []int, types loopir.TypeTable,
	inputPatterns, outputPatterns []shapes.BroadcastPattern, config EmitConfig) (*loopir.LoopNest, error) {
	if err := checkTypes(scalar, types); err != nil {
		return nil, err
	}
	rank := len(iterShape)
	if len(inputPatterns) != len(types.Inputs) || len(outputPatterns) != len(types.Outputs) {
		return nil, errors.Wrapf(ErrArityMismatch, "%d inputs and %d outputs given with %d input and %d output patterns",
			len(types.Inputs), len(types.Outputs), len(inputPatterns), len(outputPatterns))
	}
	for _, group := range []struct {
		kind     string
		patterns []shapes.BroadcastPattern
		types    []loopir.OperandType
	}{{"input", inputPatterns, types.Inputs}, {"output", outputPatterns, types.Outputs}} {
		for ii, pattern := range group.patterns {
			if err := pattern.CheckRank(rank); err != nil {
				return nil, errors.Wrapf(ErrInvalidPattern, "%s #%d: %v", group.kind, ii, err)
			}
			if group.types[ii].Rank != rank {
				return nil, errors.Wrapf(ErrShapeMismatch, "%s #%d has rank %d, but the iteration shape %v has rank %d",
					group.kind, ii, group.types[ii].Rank, iterShape, rank)
			}
		}
	}

	e := &emitter{
		nest: &loopir.LoopNest{
			Name:           config.Name,
			IterShape:      append([]int(nil), iterShape...),
			Types:          types,
			Scalar:         scalar,
			NoAliasOutputs: config.NoAlias,
			BoundsCheck:    config.BoundsCheck,
		},
		inputPatterns:  inputPatterns,
		outputPatterns: outputPatterns,
		accDepth:       make([]int, len(outputPatterns)),
	}
	if e.nest.Name == "" {
		e.nest.Name = scalar.Name
	}
	for k := range e.accDepth {
		e.accDepth[k] = -1
	}
	for depth := range rank {
		for k, pattern := range outputPatterns {
			if e.accDepth[k] == -1 && pattern.BroadcastFrom(depth) {
				e.accDepth[k] = depth
			}
		}
	}
	for k, depth := range e.accDepth {
		if depth == -1 {
			continue
		}
		dtype := types.Outputs[k].DType
		if !isNumeric(dtype) {
			return nil, errors.Wrapf(ErrTypeMismatch, "output #%d of dtype %s is reduced over axes %d to %d, but %s has no sum",
				k, dtype, depth, rank-1, dtype)
		}
		e.nest.Accumulators = append(e.nest.Accumulators, loopir.Accumulator{Output: k, Depth: depth, DType: dtype})
	}
	e.nest.Body = e.level(0)
	return e.nest, nil
}

type emitter struct {
	nest                          *loopir.LoopNest
	inputPatterns, outputPatterns []shapes.BroadcastPattern

	// accDepth is the creation depth of the accumulator of each output, or -1 if it's stored directly.
	accDepth []int
}

// level returns the nodes of the body at the given depth: the accumulators created at this depth
// wrapping loop number depth, or the innermost body once past the last axis.
func (e *emitter) level(depth int) []*loopir.Node {
	if depth == e.nest.Rank() {
		return e.innermost()
	}
	var nodes []*loopir.Node
	for k, accDepth := range e.accDepth {
		if accDepth == depth {
			nodes = append(nodes, &loopir.Node{Kind: loopir.OpInitAccumulator, Operand: k, Depth: depth})
		}
	}
	nodes = append(nodes, &loopir.Node{
		Kind:   loopir.OpLoop,
		Axis:   depth,
		Extent: e.nest.IterShape[depth],
		Body:   e.level(depth + 1),
	})
	for k, accDepth := range e.accDepth {
		if accDepth == depth {
			nodes = append(nodes, &loopir.Node{
				Kind:    loopir.OpFlush,
				Operand: k,
				Depth:   depth,
				Indices: indicesFor(e.outputPatterns[k]),
			})
		}
	}
	return nodes
}

func (e *emitter) innermost() []*loopir.Node {
	nodes := make([]*loopir.Node, 0, len(e.inputPatterns)+1+len(e.outputPatterns))
	for m, pattern := range e.inputPatterns {
		nodes = append(nodes, &loopir.Node{Kind: loopir.OpLoad, Operand: m, Indices: indicesFor(pattern)})
	}
	nodes = append(nodes, &loopir.Node{Kind: loopir.OpCall})
	for k, pattern := range e.outputPatterns {
		if depth := e.accDepth[k]; depth >= 0 {
			nodes = append(nodes, &loopir.Node{Kind: loopir.OpAccumulate, Operand: k, Depth: depth})
		} else {
			nodes = append(nodes, &loopir.Node{Kind: loopir.OpStore, Operand: k, Indices: indicesFor(pattern)})
		}
	}
	return nodes
}

// indicesFor addresses the current loop variable of each axis, or 0 where the operand is broadcast.
func indicesFor(pattern shapes.BroadcastPattern) []loopir.Index {
	indices := make([]loopir.Index, len(pattern))
	for axis, broadcast := range pattern {
		indices[axis] = loopir.Index{Axis: axis, Broadcast: broadcast}
	}
	return indices
}

// checkTypes verifies the type table against the scalar function signature.
func checkTypes(scalar *loopir.ScalarFunc, types loopir.TypeTable) error {
	if scalar == nil || scalar.Fn == nil {
		return errors.Wrapf(ErrArityMismatch, "no scalar function given")
	}
	if scalar.NumInputs() != len(types.Inputs) || scalar.NumOutputs() != len(types.Outputs) {
		return errors.Wrapf(ErrArityMismatch, "scalar function %s called with %d inputs and %d outputs",
			scalar, len(types.Inputs), len(types.Outputs))
	}
	for m, dtype := range scalar.Signature.Inputs {
		if types.Inputs[m].DType != dtype {
			return errors.Wrapf(ErrTypeMismatch, "scalar function %s takes %s as input #%d, got %s",
				scalar, dtype, m, types.Inputs[m])
		}
	}
	for k, dtype := range scalar.Signature.Outputs {
		if types.Outputs[k].DType != dtype {
			return errors.Wrapf(ErrTypeMismatch, "scalar function %s returns %s as output #%d, but the output is %s",
				scalar, dtype, k, types.Outputs[k])
		}
	}
	return nil
}

// isNumeric returns whether the dtype has an additive identity and a sum.
func isNumeric(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
		dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64,
		dtypes.Complex64, dtypes.Complex128:
		return true
	}
	return false
}
