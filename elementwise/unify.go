package elementwise

import (
	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/pkg/errors"
)

// IterationShape returns the dimensions of the fused loop nest.
//
// For each axis, the first operand not broadcast along it gives the dimension; if every operand
// is broadcast along it, the dimension is 1. The stored dimension of a broadcast operand needn't match.
//
// Every other non-broadcast operand must agree with that dimension, and broadcast operands must
// have at least one element along the axis, otherwise it returns an error wrapping ErrShapeMismatch.
// It also checks that all shapes and patterns share one rank.
func IterationShape(operandShapes []shapes.Shape, patterns []shapes.BroadcastPattern) ([]int, error) {
	if len(operandShapes) != len(patterns) {
		return nil, errors.Wrapf(ErrArityMismatch, "%d operand shapes given with %d broadcast patterns",
			len(operandShapes), len(patterns))
	}
	if len(operandShapes) == 0 {
		return nil, errors.Wrapf(ErrArityMismatch, "no operands to derive the iteration shape from")
	}
	rank := operandShapes[0].Rank()
	for ii, shape := range operandShapes {
		if err := shape.CheckRank(rank); err != nil {
			return nil, errors.Wrapf(ErrShapeMismatch, "operand #%d: %v", ii, err)
		}
		if err := patterns[ii].CheckRank(rank); err != nil {
			return nil, errors.Wrapf(ErrInvalidPattern, "operand #%d: %v", ii, err)
		}
	}

	iterShape := make([]int, rank)
	for axis := range rank {
		source := -1
		for ii, shape := range operandShapes {
			if patterns[ii][axis] {
				// Broadcast operands are always read at index 0 along the axis.
				if shape.Dimensions[axis] < 1 {
					return nil, errors.Wrapf(ErrShapeMismatch,
						"axis %d: operand #%d %s is broadcast along it, but has no element to broadcast",
						axis, ii, shape)
				}
				continue
			}
			dim := shape.Dimensions[axis]
			if source == -1 {
				source = ii
				iterShape[axis] = dim
				continue
			}
			if dim != iterShape[axis] {
				return nil, errors.Wrapf(ErrShapeMismatch,
					"axis %d: operand #%d %s has dimension %d, but operand #%d %s has dimension %d",
					axis, ii, shape, dim, source, operandShapes[source], iterShape[axis])
			}
		}
		if source == -1 {
			iterShape[axis] = 1
		}
	}
	return iterShape, nil
}
