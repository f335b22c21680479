package shapes

import "fmt"

// Layout tags how the elements of an array are laid out in its flat storage.
//
// The loop emitter never depends on it for addressing (the per-axis strides are authoritative),
// but it's carried in the type table and allocators use it to pick strides.
type Layout int

const (
	// RowMajor is the "C" layout: the last axis is contiguous. It's what allocators produce.
	RowMajor Layout = iota

	// ColumnMajor is the "F" layout: the first axis is contiguous.
	ColumnMajor

	// Arbitrary is any other strided view.
	Arbitrary
)

// String implements fmt.Stringer, using the usual one letter codes.
func (l Layout) String() string {
	switch l {
	case RowMajor:
		return "C"
	case ColumnMajor:
		return "F"
	case Arbitrary:
		return "A"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}
