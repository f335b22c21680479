package shapes

import (
	"strings"

	"github.com/gomlx/exceptions"
)

// BroadcastPattern has one boolean per axis: true means the operand doesn't vary along that
// axis, and is logically of dimension 1 there regardless of its stored dimension.
type BroadcastPattern []bool

// PatternFor returns the natural broadcast pattern of a shape: axes of dimension 1 are broadcast.
func PatternFor(s Shape) BroadcastPattern {
	bp := make(BroadcastPattern, s.Rank())
	for axis, dim := range s.Dimensions {
		bp[axis] = dim == 1
	}
	return bp
}

// NoBroadcast returns an all-false pattern of the given rank.
func NoBroadcast(rank int) BroadcastPattern {
	return make(BroadcastPattern, rank)
}

// FullBroadcast returns an all-true pattern of the given rank, used for outputs reduced to a scalar.
func FullBroadcast(rank int) BroadcastPattern {
	bp := make(BroadcastPattern, rank)
	for axis := range bp {
		bp[axis] = true
	}
	return bp
}

// Rank of the pattern.
func (bp BroadcastPattern) Rank() int { return len(bp) }

// BroadcastFrom returns whether every axis from fromAxis (inclusive) to the end is broadcast.
// It's vacuously true when fromAxis == Rank().
func (bp BroadcastPattern) BroadcastFrom(fromAxis int) bool {
	for _, isBroadcast := range bp[fromAxis:] {
		if !isBroadcast {
			return false
		}
	}
	return true
}

// IsNone returns whether no axis is broadcast.
func (bp BroadcastPattern) IsNone() bool {
	for _, isBroadcast := range bp {
		if isBroadcast {
			return false
		}
	}
	return true
}

// Apply returns the dimensions of an array with this pattern over the iteration dimensions:
// 1 on broadcast axes and the iteration dimension on the others.
func (bp BroadcastPattern) Apply(iterDims []int) []int {
	if len(iterDims) != len(bp) {
		exceptions.Panicf("BroadcastPattern.Apply: pattern %s has rank %d, iteration dimensions %v have rank %d",
			bp, len(bp), iterDims, len(iterDims))
	}
	dims := make([]int, len(bp))
	for axis, isBroadcast := range bp {
		if isBroadcast {
			dims[axis] = 1
		} else {
			dims[axis] = iterDims[axis]
		}
	}
	return dims
}

// String implements fmt.Stringer. E.g.: "(T,F)".
func (bp BroadcastPattern) String() string {
	parts := make([]string, len(bp))
	for axis, isBroadcast := range bp {
		if isBroadcast {
			parts[axis] = "T"
		} else {
			parts[axis] = "F"
		}
	}
	return "(" + strings.Join(parts, ",") + ")"
}
