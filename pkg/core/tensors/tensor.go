// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements the Tensor, a multidimensional array of floating point values that lives on a
// device of some backend.
//
// The storage of a Tensor is a flat Go slice in row-major order: []float32, []float64 or []float16.Float16,
// depending on its dtype. Backends that keep their data elsewhere (e.g. an accelerator) still expose a Tensor to
// the schedulers: only the backends touch the storage directly, everyone else goes through the accessors here,
// which convert dtypes as needed.
//
// A Tensor is not safe for concurrent mutation, but concurrent reads are fine.
package tensors

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Device identifies where a tensor lives: the backend name and the device ordinal within that backend.
type Device struct {
	Backend string
	Ordinal int
}

// HostDevice is the device of tensors created directly in Go memory, without going through a backend.
var HostDevice = Device{Backend: "host", Ordinal: 0}

// String implements fmt.Stringer.
func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Backend, d.Ordinal)
}

// Float is the set of Go types that can be used as tensor storage.
type Float interface {
	float16.Float16 | float32 | float64
}

// Tensor is a shaped multidimensional array on a device.
type Tensor struct {
	mu     sync.Mutex
	shape  shapes.Shape
	device Device

	// flat holds the storage: []float32, []float64 or []float16.Float16. It is nil once finalized.
	flat any

	// onFinalize, if set, is called once when the tensor is finalized, e.g.: to return the storage to a pool.
	onFinalize func(flat any)
}

// IsSupportedDType returns whether tensors of the given dtype can be created.
func IsSupportedDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float16, dtypes.Float32, dtypes.Float64:
		return true
	default:
		return false
	}
}

// New creates a zero-initialized tensor of the given shape on the device.
//
// It returns an error for an invalid shape or an unsupported dtype.
func New(device Device, shape shapes.Shape) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("tensors.New: invalid shape %s", shape)
	}
	flat, err := makeFlat(shape.DType, shape.Size())
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: shape.Clone(), device: device, flat: flat}, nil
}

// FromShape creates a zero-initialized tensor on the HostDevice. It panics on an unsupported dtype.
func FromShape(shape shapes.Shape) *Tensor {
	t, err := New(HostDevice, shape)
	if err != nil {
		exceptions.Panicf("tensors.FromShape(%s): %v", shape, err)
	}
	return t
}

// FromStorage wraps an existing flat slice as a tensor on the given device, without copying.
//
// The flat slice must match the shape's dtype and size. If onFinalize is not nil, it is called with the storage
// when the tensor is finalized. Used by backends that pool their buffers.
func FromStorage(device Device, shape shapes.Shape, flat any, onFinalize func(flat any)) (*Tensor, error) {
	length, dtype := flatLengthAndDType(flat)
	if dtype != shape.DType || length != shape.Size() {
		return nil, errors.Errorf("tensors.FromStorage: storage of %d elements of %s doesn't match shape %s",
			length, dtype, shape)
	}
	return &Tensor{shape: shape.Clone(), device: device, flat: flat, onFinalize: onFinalize}, nil
}

// FromFlatDataAndDimensions creates a HostDevice tensor with a copy of the given data.
// It panics if the dimensions don't match the length of data.
func FromFlatDataAndDimensions[T Float](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypeOf[T](), dimensions...)
	if shape.Size() != len(data) {
		exceptions.Panicf("FromFlatDataAndDimensions(): data has %d elements, but shape %s requires %d",
			len(data), shape, shape.Size())
	}
	t := FromShape(shape)
	copy(t.flat.([]T), data)
	return t
}

// FromScalar creates a scalar HostDevice tensor.
func FromScalar[T Float](value T) *Tensor {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a HostDevice tensor with the given dimensions, filled with value.
func FromScalarAndDimensions[T Float](value T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypeOf[T](), dimensions...))
	flat := t.flat.([]T)
	for ii := range flat {
		flat[ii] = value
	}
	return t
}

// Shape of the tensor. The returned value shares the dimensions slice, don't modify it.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory is the number of bytes used by the storage.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Device where the tensor lives.
func (t *Tensor) Device() Device { return t.device }

// Ok returns whether the tensor is valid and not finalized.
func (t *Tensor) Ok() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flat != nil
}

// IsFinalized returns whether Finalize has been called.
func (t *Tensor) IsFinalized() bool {
	return !t.Ok()
}

// Finalize releases the storage of the tensor. It is safe to call more than once, and on a nil tensor.
// Any further access to the tensor returns an error.
func (t *Tensor) Finalize() {
	if t == nil {
		return
	}
	t.mu.Lock()
	flat, onFinalize := t.flat, t.onFinalize
	t.flat, t.onFinalize = nil, nil
	t.mu.Unlock()
	if flat != nil && onFinalize != nil {
		onFinalize(flat)
	}
}

// String implements fmt.Stringer. It prints the shape and, for small tensors, the values.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	if !t.Ok() {
		return fmt.Sprintf("Tensor%s<finalized>", t.shape)
	}
	const maxValues = 16
	values, _ := CopyFlatData[float64](t)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor%s@%s{", t.shape, t.device)
	for ii, v := range values {
		if ii == maxValues {
			sb.WriteString(", ...")
			break
		}
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("}")
	return sb.String()
}

func dtypeOf[T Float]() dtypes.DType {
	var zero T
	switch any(zero).(type) {
	case float16.Float16:
		return dtypes.Float16
	case float32:
		return dtypes.Float32
	default:
		return dtypes.Float64
	}
}

func makeFlat(dtype dtypes.DType, size int) (any, error) {
	switch dtype {
	case dtypes.Float16:
		return make([]float16.Float16, size), nil
	case dtypes.Float32:
		return make([]float32, size), nil
	case dtypes.Float64:
		return make([]float64, size), nil
	default:
		return nil, errors.Errorf("tensors: dtype %s not supported", dtype)
	}
}

func flatLengthAndDType(flat any) (int, dtypes.DType) {
	switch f := flat.(type) {
	case []float16.Float16:
		return len(f), dtypes.Float16
	case []float32:
		return len(f), dtypes.Float32
	case []float64:
		return len(f), dtypes.Float64
	default:
		return 0, dtypes.InvalidDType
	}
}
