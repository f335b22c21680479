package elementwise

import (
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusedloop/backends"
	"github.com/gomlx/fusedloop/backends/loopir"
	"github.com/gomlx/fusedloop/types/arrays"
	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Request describes one fused elementwise computation.
type Request struct {
	// Name of the kernel, for logging. Defaults to the scalar function name.
	Name string

	// Scalar function called once per iteration point.
	Scalar *loopir.ScalarFunc

	// Inputs of the computation, all of the same rank.
	Inputs []*arrays.Array

	// InputPatterns mark the axes each input is broadcast along. If nil, the patterns are derived from
	// the input shapes: an axis of dimension 1 is broadcast (see shapes.PatternFor).
	InputPatterns []shapes.BroadcastPattern

	// OutputPatterns mark the axes each output is broadcast along, one per scalar function output.
	// If nil, no output is broadcast.
	OutputPatterns []shapes.BroadcastPattern

	// OutputDTypes of the outputs. If nil, the scalar function output dtypes are used.
	OutputDTypes []dtypes.DType

	// Inplace maps output positions to the input positions whose storage they reuse.
	Inplace map[int]int

	// BoundsCheck verifies every element offset at run time, failing the Run with an error instead
	// of corrupting memory.
	BoundsCheck bool
}

// Kernel is a compiled fused loop, bound to its input and output arrays.
type Kernel struct {
	// ID uniquely identifies the kernel in logs.
	ID string

	// IterShape is the unified iteration shape.
	IterShape []int

	// Nest is the emitted loop nest.
	Nest *loopir.LoopNest

	// Aliased is true if some output reuses an input's storage.
	Aliased bool

	routine backends.Routine
	inputs  []*arrays.Array
	outputs []*arrays.Array
	inplace map[int]int
}

// Compile unifies the shapes of the request, materializes its outputs, emits the fused loop nest and lowers it
// with the backend.
//
// Validation errors wrap one of ErrShapeMismatch, ErrArityMismatch, ErrTypeMismatch, ErrInvalidInplace or
// ErrInvalidPattern. Allocation errors from the backend are passed through.
func Compile(backend backends.Backend, req Request) (*Kernel, error) {
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}
	k := &Kernel{
		ID:      uuid.NewString(),
		inputs:  req.Inputs,
		inplace: req.Inplace,
	}

	operandShapes := make([]shapes.Shape, len(req.Inputs))
	for m, input := range req.Inputs {
		operandShapes[m] = input.Shape()
	}
	k.IterShape, err = IterationShape(operandShapes, req.InputPatterns)
	if err != nil {
		return nil, err
	}
	rank := len(k.IterShape)
	for out, pattern := range req.OutputPatterns {
		if err := pattern.CheckRank(rank); err != nil {
			return nil, errors.Wrapf(ErrInvalidPattern, "output #%d: %v", out, err)
		}
	}

	// Types are resolved from the inputs and the output dtypes before any output is allocated, so
	// invalid requests fail without side effects.
	types := resolveTypes(req.Inputs, req.OutputDTypes, rank)
	if err := checkTypes(req.Scalar, types); err != nil {
		return nil, err
	}
	for out, pattern := range req.OutputPatterns {
		if rank > 0 && pattern.BroadcastFrom(rank-1) && !isNumeric(req.OutputDTypes[out]) {
			return nil, errors.Wrapf(ErrTypeMismatch, "output #%d of dtype %s must be reduced, but %s has no sum",
				out, req.OutputDTypes[out], req.OutputDTypes[out])
		}
	}

	k.outputs, k.Aliased, err = Materialize(backend, k.IterShape, req.OutputPatterns, req.OutputDTypes, req.Inplace, req.Inputs)
	if err != nil {
		return nil, err
	}
	types = ResolveTypes(req.Inputs, k.outputs)

	k.Nest, err = Emit(req.Scalar, k.IterShape, types, req.InputPatterns, req.OutputPatterns, EmitConfig{
		Name:        req.Name,
		NoAlias:     !k.Aliased,
		BoundsCheck: req.BoundsCheck,
	})
	if err == nil {
		k.routine, err = backend.Lower(k.Nest, req.Inputs, k.outputs)
	}
	if err != nil {
		releaseFresh(k.outputs, req.Inplace)
		return nil, err
	}
	klog.V(1).Infof("elementwise: compiled kernel %s %q: iter=%v, %d inputs, %d outputs, %d accumulators, aliased=%v",
		k.ID, k.Nest.Name, k.IterShape, len(req.Inputs), len(k.outputs), len(k.Nest.Accumulators), k.Aliased)
	if klog.V(2).Enabled() {
		klog.Infof("elementwise: kernel %s:\n%s", k.ID, k.Nest)
	}
	return k, nil
}

// normalize fills in the defaults of the request and checks the arity of its fields.
func normalize(req Request) (Request, error) {
	if req.Scalar == nil || req.Scalar.Fn == nil {
		return req, errors.Wrapf(ErrArityMismatch, "request has no scalar function")
	}
	if len(req.Inputs) != req.Scalar.NumInputs() {
		return req, errors.Wrapf(ErrArityMismatch, "scalar function %s given %d inputs", req.Scalar, len(req.Inputs))
	}
	if len(req.Inputs) == 0 {
		return req, errors.Wrapf(ErrArityMismatch, "scalar function %s takes no inputs, there is nothing to iterate over",
			req.Scalar)
	}
	for m, input := range req.Inputs {
		if input == nil {
			return req, errors.Wrapf(ErrArityMismatch, "input #%d is nil", m)
		}
	}
	rank := req.Inputs[0].Rank()
	if req.InputPatterns == nil {
		req.InputPatterns = make([]shapes.BroadcastPattern, len(req.Inputs))
		for m, input := range req.Inputs {
			req.InputPatterns[m] = shapes.PatternFor(input.Shape())
		}
	}
	if len(req.InputPatterns) != len(req.Inputs) {
		return req, errors.Wrapf(ErrArityMismatch, "%d input patterns given for %d inputs", len(req.InputPatterns), len(req.Inputs))
	}
	if req.OutputPatterns == nil {
		req.OutputPatterns = make([]shapes.BroadcastPattern, req.Scalar.NumOutputs())
		for k := range req.OutputPatterns {
			req.OutputPatterns[k] = shapes.NoBroadcast(rank)
		}
	}
	if len(req.OutputPatterns) != req.Scalar.NumOutputs() {
		return req, errors.Wrapf(ErrArityMismatch, "%d output patterns given for scalar function %s",
			len(req.OutputPatterns), req.Scalar)
	}
	if req.OutputDTypes == nil {
		req.OutputDTypes = slices.Clone(req.Scalar.Signature.Outputs)
	}
	if len(req.OutputDTypes) != req.Scalar.NumOutputs() {
		return req, errors.Wrapf(ErrArityMismatch, "%d output dtypes given for scalar function %s",
			len(req.OutputDTypes), req.Scalar)
	}
	if req.Inplace != nil {
		req.Inplace = maps.Clone(req.Inplace)
	}
	return req, nil
}

// resolveTypes builds the type table before the outputs exist: outputs are assumed row-major.
func resolveTypes(inputs []*arrays.Array, outputDTypes []dtypes.DType, rank int) loopir.TypeTable {
	var types loopir.TypeTable
	for _, input := range inputs {
		types.Inputs = append(types.Inputs, operandType(input))
	}
	for _, dtype := range outputDTypes {
		types.Outputs = append(types.Outputs, loopir.OperandType{DType: dtype, Rank: rank, Layout: shapes.RowMajor})
	}
	return types
}

// ResolveTypes builds the type table of the given operands.
func ResolveTypes(inputs, outputs []*arrays.Array) loopir.TypeTable {
	var types loopir.TypeTable
	for _, input := range inputs {
		types.Inputs = append(types.Inputs, operandType(input))
	}
	for _, output := range outputs {
		types.Outputs = append(types.Outputs, operandType(output))
	}
	return types
}

func operandType(array *arrays.Array) loopir.OperandType {
	return loopir.OperandType{DType: array.DType(), Rank: array.Rank(), Layout: array.Layout()}
}

// EmitRoutine emits the loop nest for the given operands and lowers it with the backend in one step.
//
// It's the entry point for callers that materialize their own outputs. The outputs are marked as
// non-aliasing only if noAlias is set.
func EmitRoutine(backend backends.Backend, scalar *loopir.ScalarFunc, iterShape []int,
	inputs, outputs []*arrays.Array, inputPatterns, outputPatterns []shapes.BroadcastPattern, noAlias bool) (backends.Routine, error) {
	nest, err := Emit(scalar, iterShape, ResolveTypes(inputs, outputs), inputPatterns, outputPatterns, EmitConfig{NoAlias: noAlias})
	if err != nil {
		return nil, err
	}
	return backend.Lower(nest, inputs, outputs)
}

// Outputs returns the output arrays of the kernel, valid after Run.
func (k *Kernel) Outputs() []*arrays.Array { return k.outputs }

// Run executes the kernel and returns its outputs.
//
// Outputs that reuse an input's storage have their reference count incremented on every
// successful Run: the caller owns one reference of each returned array and should Release it.
// Once any input or output of the kernel is fully released, Run fails: the kernel is bound to
// their storage, which may have been handed to another array.
func (k *Kernel) Run() ([]*arrays.Array, error) {
	if err := k.checkLive(); err != nil {
		return nil, err
	}
	err := exceptions.TryCatch[error](k.routine.Run)
	if err != nil {
		return nil, errors.WithMessagef(err, "kernel %s %q failed", k.ID, k.Nest.Name)
	}
	for _, out := range slices.Sorted(maps.Keys(k.inplace)) {
		k.outputs[out].IncRef()
	}
	return k.outputs, nil
}

// ReusesInput returns whether the given output reuses the storage of an input.
func (k *Kernel) ReusesInput(output int) bool {
	_, found := k.inplace[output]
	return found
}

func (k *Kernel) checkLive() error {
	check := func(kind string, bound []*arrays.Array) error {
		for ii, array := range bound {
			if array.RefCount() <= 0 || array.Flat() == nil {
				return errors.Errorf("kernel %s %q: %s #%d was released, the kernel can't run anymore",
					k.ID, k.Nest.Name, kind, ii)
			}
		}
		return nil
	}
	if err := check("input", k.inputs); err != nil {
		return err
	}
	return check("output", k.outputs)
}

// String implements fmt.Stringer.
func (k *Kernel) String() string {
	return "Kernel " + k.ID + " " + k.Nest.String()
}
