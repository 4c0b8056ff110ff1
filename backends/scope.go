// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// Scope tracks temporary tensors allocated during one unit of work (e.g. a scheduler step), and releases them all
// at the end with Release. Tensors that must outlive the scope are handed over with Keep.
//
// A Scope is not safe for concurrent use.
type Scope struct {
	backend Backend
	device  tensors.Device
	tracked []*tensors.Tensor
}

// NewScope returns a Scope that allocates tensors on the given device.
func NewScope(backend Backend, device tensors.Device) *Scope {
	return &Scope{backend: backend, device: device}
}

// Backend used by the scope.
func (s *Scope) Backend() Backend { return s.backend }

// Device where the scope allocates its tensors.
func (s *Scope) Device() tensors.Device { return s.device }

// NewTensor allocates a tracked tensor.
func (s *Scope) NewTensor(shape shapes.Shape) (*tensors.Tensor, error) {
	t, err := s.backend.NewTensor(s.device, shape)
	if err != nil {
		return nil, err
	}
	s.tracked = append(s.tracked, t)
	return t, nil
}

// Scalar allocates a tracked scalar tensor set to value.
func (s *Scope) Scalar(dtype dtypes.DType, value float64) (*tensors.Tensor, error) {
	t, err := NewScalar(s.backend, s.device, dtype, value)
	if err != nil {
		return nil, err
	}
	s.tracked = append(s.tracked, t)
	return t, nil
}

// Keep removes t from the scope, so it survives Release. The caller becomes responsible for it.
func (s *Scope) Keep(t *tensors.Tensor) *tensors.Tensor {
	for ii, tracked := range s.tracked {
		if tracked == t {
			s.tracked = append(s.tracked[:ii], s.tracked[ii+1:]...)
			break
		}
	}
	return t
}

// Release all tracked tensors. The scope can be reused afterwards.
func (s *Scope) Release() {
	for _, t := range s.tracked {
		s.backend.Release(t)
	}
	s.tracked = s.tracked[:0]
}

// UnitLike allocates a tracked Float64 tensor with the same rank as shape, but all dimensions 1, set to value.
// It broadcasts against tensors of shape, of any dtype, and is used to hold per-step coefficients.
func (s *Scope) UnitLike(shape shapes.Shape, value float64) (*tensors.Tensor, error) {
	dims := make([]int, shape.Rank())
	for ii := range dims {
		dims[ii] = 1
	}
	t, err := s.NewTensor(shapes.Make(dtypes.Float64, dims...))
	if err != nil {
		return nil, err
	}
	if err := tensors.AssignFlatData(t, []float64{value}); err != nil {
		return nil, err
	}
	return t, nil
}
