package shapes

import "iter"

// Iter iterates over all indices of the given shape, in row-major order: the last axis changes
// fastest. This is the same order in which the fused loop nest visits its iteration points.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq[[]int] {
	return IterDims(s.Dimensions)
}

// IterDims is like Shape.Iter, but takes the dimensions directly. A rank-0 dims yields once,
// and any dimension 0 yields nothing.
func IterDims(dims []int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		rank := len(dims)
		if rank == 0 {
			_ = yield(make([]int, 0))
			return
		}
		for _, dim := range dims {
			if dim <= 0 {
				return
			}
		}

		indices := make([]int, rank)
		for {
			if !yield(indices) {
				return
			}
			axis := rank - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < dims[axis] {
					break
				}
				// Carry-over to the next outer axis.
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}
