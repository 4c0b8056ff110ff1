// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dtype and dimensions of a tensor, and the broadcasting rules used by the
// element-wise operations of the backends.
//
// DType is the enumeration defined in github.com/gomlx/gopjrt/dtypes. Only the floating point types
// (Float16, Float32 and Float64) are used for the scheduler math, but the shape itself accepts any dtype.
//
// Example: a batch of 2 latent images with 4 channels of 64x64 has shape `(Float32)[2 4 64 64]`, created with
// `shapes.Make(dtypes.Float32, 2, 4, 64, 64)`.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape of a tensor: its dtype and the dimensions of each axis. A shape with no dimensions is a scalar.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions.
//
// It panics if any dimension is <= 0.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns a scalar shape of the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// Invalid returns an invalid shape, for which Ok returns false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether the shape is valid. The zero value Shape{} is not.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank is the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape is valid and has no axes.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axes count from the end.
// It panics for an out-of-bounds axis.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// Size is the number of elements, the product of all dimensions. It is 1 for scalars.
func (s Shape) Size() int {
	size := 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return size
}

// Memory in bytes needed to store the flat data of a tensor of this shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// IsUnitExtent returns whether the shape holds exactly one element, a scalar or any shape whose dimensions are
// all 1. Unit-extent operands are broadcast and can be read from any device.
func (s Shape) IsUnitExtent() bool {
	return s.Ok() && s.Size() == 1
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// EqualDimensions compares only the dimensions, the dtypes may differ.
func (s Shape) EqualDimensions(other Shape) bool {
	return slices.Equal(s.Dimensions, other.Dimensions)
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// WithDType returns a copy of the shape with a different dtype.
func (s Shape) WithDType(dtype dtypes.DType) Shape {
	s2 := s.Clone()
	s2.DType = dtype
	return s2
}

// WithDim returns a copy of the shape with the dimension of the given axis replaced.
func (s Shape) WithDim(axis, dim int) Shape {
	s2 := s.Clone()
	if axis < 0 {
		axis += s.Rank()
	}
	s2.Dimensions[axis] = dim
	return s2
}

// Strides returns the row-major strides (in elements) of each axis.
func (s Shape) Strides() []int {
	strides := make([]int, s.Rank())
	stride := 1
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Broadcast returns the shape resulting from an element-wise operation between a and b.
//
// The dtypes must match. Scalars broadcast to any shape. Otherwise, the ranks must be equal and, for each axis,
// the dimensions must be equal or one of them must be 1.
func Broadcast(a, b Shape) (Shape, error) {
	if a.DType != b.DType {
		return Invalid(), errors.Errorf("cannot broadcast shapes with different dtypes %s and %s", a, b)
	}
	if a.Rank() == 0 {
		return b.Clone(), nil
	}
	if b.Rank() == 0 {
		return a.Clone(), nil
	}
	if a.Rank() != b.Rank() {
		return Invalid(), errors.Errorf("cannot broadcast shapes %s and %s: ranks differ", a, b)
	}
	out := a.Clone()
	for axis, dimA := range a.Dimensions {
		dimB := b.Dimensions[axis]
		switch {
		case dimA == dimB:
		case dimA == 1:
			out.Dimensions[axis] = dimB
		case dimB == 1:
		default:
			return Invalid(), errors.Errorf("cannot broadcast shapes %s and %s: axis %d has dimensions %d and %d",
				a, b, axis, dimA, dimB)
		}
	}
	return out, nil
}

// CanBroadcastTo returns whether operand can be broadcast to the target shape, ignoring dtypes.
func CanBroadcastTo(operand, target Shape) bool {
	if operand.Rank() == 0 {
		return true
	}
	if operand.Rank() != target.Rank() {
		return false
	}
	for axis, dim := range operand.Dimensions {
		if dim != 1 && dim != target.Dimensions[axis] {
			return false
		}
	}
	return true
}

// Concatenate returns the shape of concatenating the given shapes along axis.
// All other axes and the dtypes must match.
func Concatenate(axis int, inputs ...Shape) (Shape, error) {
	if len(inputs) == 0 {
		return Invalid(), errors.New("Concatenate requires at least one input shape")
	}
	first := inputs[0]
	if axis < 0 {
		axis += first.Rank()
	}
	if axis < 0 || axis >= first.Rank() {
		return Invalid(), errors.Errorf("Concatenate: axis %d out-of-bounds for shape %s", axis, first)
	}
	out := first.Clone()
	for ii, s := range inputs[1:] {
		if s.DType != first.DType || s.Rank() != first.Rank() {
			return Invalid(), errors.Errorf("Concatenate: input #%d shape %s incompatible with %s", ii+1, s, first)
		}
		for a, dim := range s.Dimensions {
			if a == axis {
				continue
			}
			if dim != first.Dimensions[a] {
				return Invalid(), errors.Errorf("Concatenate: input #%d shape %s incompatible with %s on axis %d",
					ii+1, s, first, a)
			}
		}
		out.Dimensions[axis] += s.Dimensions[axis]
	}
	return out, nil
}
