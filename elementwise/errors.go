package elementwise

import "github.com/pkg/errors"

var (
	// ErrShapeMismatch is returned when non-broadcast operands disagree on the dimension of an axis,
	// or when operands have different ranks.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrArityMismatch is returned when the number of inputs, outputs or broadcast patterns doesn't
	// match the scalar function signature.
	ErrArityMismatch = errors.New("arity mismatch")

	// ErrTypeMismatch is returned when operand dtypes don't match the scalar function signature, or
	// when an output that needs accumulation has a dtype with no additive identity.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidInplace is returned for in-place maps with out-of-range positions or incompatible arrays.
	ErrInvalidInplace = errors.New("invalid in-place map")

	// ErrInvalidPattern is returned for broadcast patterns of the wrong rank.
	ErrInvalidPattern = errors.New("invalid broadcast pattern")
)
