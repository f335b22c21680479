package main

import (
	"strconv"
	"strings"

	"github.com/gomlx/fusedloop/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// knownDTypes can be selected with -dtype.
var knownDTypes = []dtypes.DType{
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
	dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64,
	dtypes.Complex64, dtypes.Complex128,
}

// parseDType accepts the dtype name in any case, e.g. "float32" or "Float32".
func parseDType(name string) (dtypes.DType, error) {
	for _, dtype := range knownDTypes {
		if strings.EqualFold(dtype.String(), name) {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q, valid dtypes are %v", name, knownDTypes)
}

// parseShapes parses a comma-separated list of dimensions joined by "x", e.g. "3x4,1x4".
// An empty element, as in "," or "", is a scalar.
func parseShapes(dtype dtypes.DType, value string) ([]shapes.Shape, error) {
	parts := strings.Split(value, ",")
	result := make([]shapes.Shape, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		var dims []int
		if part != "" {
			for _, dimStr := range strings.Split(part, "x") {
				dim, err := strconv.Atoi(strings.TrimSpace(dimStr))
				if err != nil || dim < 0 {
					return nil, errors.Errorf("invalid dimension %q in shape %q", dimStr, part)
				}
				dims = append(dims, dim)
			}
		}
		result = append(result, shapes.Make(dtype, dims...))
	}
	return result, nil
}

// parsePatterns parses a comma-separated list of broadcast patterns, one letter per axis:
// "t" (or "b") for broadcast, "f" (or "-") for not. E.g. "ft,ff". Empty returns nil.
func parsePatterns(value string) ([]shapes.BroadcastPattern, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var patterns []shapes.BroadcastPattern
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		pattern := make(shapes.BroadcastPattern, 0, len(part))
		for _, c := range strings.ToLower(part) {
			switch c {
			case 't', 'b':
				pattern = append(pattern, true)
			case 'f', '-':
				pattern = append(pattern, false)
			default:
				return nil, errors.Errorf("invalid broadcast pattern %q: use 't' for broadcast axes, 'f' otherwise", part)
			}
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

// parseInplace parses a comma-separated list of "output:input" pairs, e.g. "0:0,1:2".
func parseInplace(value string) (map[int]int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	inplace := make(map[int]int)
	for _, pair := range strings.Split(value, ",") {
		outStr, inStr, found := strings.Cut(strings.TrimSpace(pair), ":")
		if !found {
			return nil, errors.Errorf("invalid in-place pair %q, expected \"output:input\"", pair)
		}
		out, err := strconv.Atoi(outStr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid output position in %q", pair)
		}
		in, err := strconv.Atoi(inStr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid input position in %q", pair)
		}
		if _, dup := inplace[out]; dup {
			return nil, errors.Errorf("output #%d is given twice in -inplace", out)
		}
		inplace[out] = in
	}
	return inplace, nil
}
