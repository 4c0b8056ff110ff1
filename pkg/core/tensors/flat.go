// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ConstFlatData calls accessFn with the storage of the tensor, which must have the Go type T matching its dtype.
//
// accessFn must not modify or hold on to the slice after it returns.
func ConstFlatData[T Float](t *Tensor, accessFn func(flat []T)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	flat, err := typedFlat[T](t)
	if err != nil {
		return err
	}
	accessFn(flat)
	return nil
}

// MutableFlatData calls accessFn with the storage of the tensor, which it can modify in place.
func MutableFlatData[T Float](t *Tensor, accessFn func(flat []T)) error {
	return ConstFlatData(t, accessFn)
}

// Flat returns the storage slice of the tensor, as an any: []float16.Float16, []float32 or []float64.
//
// Meant for backends: the slice is shared with the tensor.
func (t *Tensor) Flat() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flat == nil {
		return nil, errors.Errorf("tensor %s already finalized", t.shape)
	}
	return t.flat, nil
}

func typedFlat[T Float](t *Tensor) ([]T, error) {
	if t.flat == nil {
		return nil, errors.Errorf("tensor %s already finalized", t.shape)
	}
	flat, ok := t.flat.([]T)
	if !ok {
		return nil, errors.Errorf("tensor %s storage is not of the dtype %s", t.shape, dtypeOf[T]())
	}
	return flat, nil
}

// CopyFlatData returns a copy of the tensor's values converted to T.
func CopyFlatData[T Float](t *Tensor) ([]T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flat == nil {
		return nil, errors.Errorf("tensor %s already finalized", t.shape)
	}
	out := make([]T, t.shape.Size())
	convertFlat(t.flat, out)
	return out, nil
}

// AssignFlatData copies data into the tensor, converting from T to the tensor's dtype.
// The length of data must match the tensor size.
func AssignFlatData[T Float](t *Tensor, data []T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flat == nil {
		return errors.Errorf("tensor %s already finalized", t.shape)
	}
	if len(data) != t.shape.Size() {
		return errors.Errorf("AssignFlatData: %d values given for tensor of shape %s", len(data), t.shape)
	}
	switch dst := t.flat.(type) {
	case []float16.Float16:
		convertFlat(data, dst)
	case []float32:
		convertFlat(data, dst)
	case []float64:
		convertFlat(data, dst)
	}
	return nil
}

// ToScalar reads back the single value of a unit-extent tensor (a scalar, or any shape of size 1),
// converted to T. This is a blocking read.
func ToScalar[T Float](t *Tensor) (T, error) {
	var zero T
	if !t.shape.IsUnitExtent() {
		return zero, errors.Errorf("ToScalar: tensor of shape %s has more than one element", t.shape)
	}
	values, err := CopyFlatData[T](t)
	if err != nil {
		return zero, err
	}
	return values[0], nil
}

// CopyTo copies the values of t into dst, converting dtypes if needed.
//
// Both tensors must have the same dimensions. The tensors may be on different devices: this is the explicit
// transfer operation between devices.
func (t *Tensor) CopyTo(dst *Tensor) error {
	if t == dst {
		return nil
	}
	if !t.shape.EqualDimensions(dst.shape) {
		return errors.Errorf("CopyTo: source shape %s and destination shape %s have different dimensions",
			t.shape, dst.shape)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	if t.flat == nil || dst.flat == nil {
		return errors.Errorf("CopyTo: source (%s) or destination (%s) already finalized", t.shape, dst.shape)
	}
	switch out := dst.flat.(type) {
	case []float16.Float16:
		convertFlat(t.flat, out)
	case []float32:
		convertFlat(t.flat, out)
	case []float64:
		convertFlat(t.flat, out)
	}
	return nil
}

// Clone returns a copy of the tensor on the same device, with its own storage.
func (t *Tensor) Clone() (*Tensor, error) {
	out, err := New(t.device, t.shape)
	if err != nil {
		return nil, err
	}
	if err := t.CopyTo(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConvertDType returns a new tensor on the same device with the values of t converted to dtype.
func (t *Tensor) ConvertDType(dtype dtypes.DType) (*Tensor, error) {
	out, err := New(t.device, t.shape.WithDType(dtype))
	if err != nil {
		return nil, err
	}
	if err := t.CopyTo(out); err != nil {
		return nil, err
	}
	return out, nil
}

// convertFlat copies src ([]float16.Float16, []float32 or []float64) into dst, converting each element.
func convertFlat[T Float](src any, dst []T) {
	switch s := src.(type) {
	case []T:
		copy(dst, s)
	case []float16.Float16:
		for ii, v := range s {
			dst[ii] = fromFloat64[T](float64(v.Float32()))
		}
	case []float32:
		for ii, v := range s {
			dst[ii] = fromFloat64[T](float64(v))
		}
	case []float64:
		for ii, v := range s {
			dst[ii] = fromFloat64[T](v)
		}
	}
}

// ToFloat64 converts any of the supported storage types to float64.
func ToFloat64[T Float](v T) float64 {
	switch x := any(v).(type) {
	case float16.Float16:
		return float64(x.Float32())
	case float32:
		return float64(x)
	default:
		return any(v).(float64)
	}
}

func fromFloat64[T Float](v float64) T {
	var zero T
	switch any(zero).(type) {
	case float16.Float16:
		return any(float16.Fromfloat32(float32(v))).(T)
	case float32:
		return any(float32(v)).(T)
	default:
		return any(v).(T)
	}
}

// FromFloat64 converts a float64 to one of the supported storage types.
func FromFloat64[T Float](v float64) T {
	return fromFloat64[T](v)
}

// InDelta returns whether both tensors have the same shape and all values are within delta of each other.
// NaNs are never considered within delta.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	a, errA := CopyFlatData[float64](t)
	b, errB := CopyFlatData[float64](other)
	if errA != nil || errB != nil {
		return false
	}
	for ii := range a {
		if !(math.Abs(a[ii]-b[ii]) <= delta) {
			return false
		}
	}
	return true
}

// Equal returns whether both tensors have the same shape and exactly the same values.
func (t *Tensor) Equal(other *Tensor) bool {
	return t.InDelta(other, 0)
}
