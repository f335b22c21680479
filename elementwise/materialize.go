package elementwise

import (
	"maps"
	"slices"

	"github.com/gomlx/fusedloop/types/arrays"
	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Materialize returns one array per output: the input designated by inplace (output position ->
// input position), or a fresh array of shape outputPatterns[k].Apply(iterShape) and dtype
// outputDTypes[k] created by alloc.
//
// aliased is true if inplace is not empty. Otherwise every output is a distinct fresh allocation, and
// the outputs can be marked as overlapping neither each other nor any input.
//
// Allocation errors are returned unchanged (only wrapped with a message), and any array allocated
// before the failure is released.
func Materialize(alloc arrays.Allocator, iterShape []int, outputPatterns []shapes.BroadcastPattern,
	outputDTypes []dtypes.DType, inplace map[int]int, inputs []*arrays.Array) (outputs []*arrays.Array, aliased bool, err error) {
	numOutputs := len(outputPatterns)
	if len(outputDTypes) != numOutputs {
		return nil, false, errors.Wrapf(ErrArityMismatch, "%d output patterns given with %d output dtypes",
			numOutputs, len(outputDTypes))
	}
	for k, pattern := range outputPatterns {
		if err := pattern.CheckRank(len(iterShape)); err != nil {
			return nil, false, errors.Wrapf(ErrInvalidPattern, "output #%d: %v", k, err)
		}
	}
	if err := checkInplace(iterShape, outputPatterns, outputDTypes, inplace, inputs); err != nil {
		return nil, false, err
	}

	outputs = make([]*arrays.Array, numOutputs)
	for k := range numOutputs {
		if m, found := inplace[k]; found {
			outputs[k] = inputs[m]
			continue
		}
		shape := shapes.Make(outputDTypes[k], outputPatterns[k].Apply(iterShape)...)
		outputs[k], err = alloc.Allocate(shape)
		if err != nil {
			releaseFresh(outputs[:k], inplace)
			return nil, false, errors.WithMessagef(err, "failed to allocate output #%d", k)
		}
		klog.V(2).Infof("elementwise: allocated output #%d: %s", k, outputs[k])
	}
	return outputs, len(inplace) > 0, nil
}

// checkInplace validates that every input reused as an output can hold it: positions in range, same dtype and
// rank, and the same dimension as the iteration shape on every axis the output is not broadcast along.
func checkInplace(iterShape []int, outputPatterns []shapes.BroadcastPattern, outputDTypes []dtypes.DType,
	inplace map[int]int, inputs []*arrays.Array) error {
	for _, k := range slices.Sorted(maps.Keys(inplace)) {
		m := inplace[k]
		if k < 0 || k >= len(outputPatterns) {
			return errors.Wrapf(ErrInvalidInplace, "output position %d out of range [0, %d)", k, len(outputPatterns))
		}
		if m < 0 || m >= len(inputs) {
			return errors.Wrapf(ErrInvalidInplace, "output #%d reuses input position %d, out of range [0, %d)",
				k, m, len(inputs))
		}
		input := inputs[m]
		if input.DType() != outputDTypes[k] {
			return errors.Wrapf(ErrInvalidInplace, "output #%d of dtype %s cannot reuse input #%d %s",
				k, outputDTypes[k], m, input)
		}
		if input.Rank() != len(iterShape) {
			return errors.Wrapf(ErrInvalidInplace, "output #%d of rank %d cannot reuse input #%d %s",
				k, len(iterShape), m, input)
		}
		dims := input.Shape().Dimensions
		for axis, broadcast := range outputPatterns[k] {
			if broadcast {
				if dims[axis] < 1 {
					return errors.Wrapf(ErrInvalidInplace, "output #%d is broadcast along axis %d, but input #%d %s is empty there",
						k, axis, m, input)
				}
				continue
			}
			if dims[axis] != iterShape[axis] {
				return errors.Wrapf(ErrInvalidInplace, "output #%d needs dimension %d on axis %d, but input #%d is %s",
					k, iterShape[axis], axis, m, input)
			}
		}
	}
	return nil
}

// releaseFresh releases the outputs that were allocated, leaving the reused inputs alone.
func releaseFresh(outputs []*arrays.Array, inplace map[int]int) {
	for k, output := range outputs {
		if _, found := inplace[k]; found || output == nil {
			continue
		}
		output.Release()
	}
}
