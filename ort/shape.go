package ort

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unsafe"
)

// Shape lists tensor dimensions, outermost first. A rank-0 shape describes a scalar.
type Shape []int64

// NewShape builds a shape from dims.
func NewShape(dims ...int64) Shape {
	return Shape(dims)
}

// Clone returns an independent copy. The copy of a nil shape is empty, not nil.
func (s Shape) Clone() Shape {
	return cloneShape(s)
}

// Equal reports whether both shapes have the same rank and dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i, dim := range s {
		if other[i] != dim {
			return false
		}
	}
	return true
}

// ShapeElementCount returns the number of elements a tensor of shape holds.
// A zero dimension yields zero; negative (dynamic) dimensions are rejected.
func ShapeElementCount(shape Shape) (int, error) {
	return shapeElementCount(shape)
}

var shapeSeparators = strings.NewReplacer("x", ",", "X", ",")

// ParseShape parses dimensions written as "1,3,224,224" or "1x3x224x224".
func ParseShape(raw string) (Shape, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("shape is empty")
	}

	fields := strings.Split(shapeSeparators.Replace(raw), ",")
	shape := make(Shape, len(fields))
	for i, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, fmt.Errorf("empty dimension in %q", raw)
		}
		dim, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse dimension %q: %w", field, err)
		}
		if dim < 0 {
			return nil, fmt.Errorf("negative dimension %d", dim)
		}
		shape[i] = dim
	}
	return shape, nil
}

func cloneShape(shape Shape) Shape {
	out := make(Shape, len(shape))
	copy(out, shape)
	return out
}

func shapeElementCount(shape Shape) (int, error) {
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("invalid shape dimension at index %d: %d (must be >= 0)", i, dim)
		}
	}

	count := int64(1)
	for _, dim := range shape {
		if dim == 0 {
			return 0, nil
		}
	}
	for _, dim := range shape {
		if count > math.MaxInt/dim {
			return 0, fmt.Errorf("shape %v exceeds maximum supported element count", shape)
		}
		count *= dim
	}
	return int(count), nil
}

// shapePtr returns the address ORT expects for a dims array, nil for scalars.
func shapePtr(shape Shape) *int64 {
	if len(shape) == 0 {
		return nil
	}
	return unsafe.SliceData(shape)
}
