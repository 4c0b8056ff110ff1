// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatData(t *testing.T) {
	x := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Float32, x.DType())
	assert.Equal(t, []int{2, 3}, x.Shape().Dimensions)
	assert.Equal(t, HostDevice, x.Device())
	assert.Equal(t, uintptr(24), x.Memory())

	require.NoError(t, MutableFlatData(x, func(flat []float32) { flat[0] = 10 }))
	got := must.M1(CopyFlatData[float64](x))
	assert.Equal(t, []float64{10, 2, 3, 4, 5, 6}, got)

	// Accessing with the wrong type is an error.
	require.Error(t, ConstFlatData(x, func(flat []float64) {}))
	assert.Panics(t, func() { FromFlatDataAndDimensions([]float32{1, 2, 3}, 2, 2) })
}

func TestToScalar(t *testing.T) {
	v := must.M1(ToScalar[float32](FromScalar(3.5)))
	assert.Equal(t, float32(3.5), v)
	v = must.M1(ToScalar[float32](FromScalarAndDimensions(1.5, 1, 1, 1)))
	assert.Equal(t, float32(1.5), v)
	_, err := ToScalar[float32](FromScalarAndDimensions(1.5, 2))
	require.Error(t, err)
}

func TestCopyToConvertsDTypes(t *testing.T) {
	src := FromFlatDataAndDimensions([]float16.Float16{
		float16.Fromfloat32(0.5), float16.Fromfloat32(-2), float16.Fromfloat32(1.25)}, 3)
	dst := FromShape(shapes.Make(dtypes.Float32, 3))
	require.NoError(t, src.CopyTo(dst))
	assert.Equal(t, []float32{0.5, -2, 1.25}, must.M1(CopyFlatData[float32](dst)))

	back := must.M1(dst.ConvertDType(dtypes.Float16))
	assert.True(t, back.Equal(src))

	require.Error(t, src.CopyTo(FromShape(shapes.Make(dtypes.Float32, 4))))
}

func TestFinalize(t *testing.T) {
	var released any
	x := must.M1(FromStorage(HostDevice, shapes.Make(dtypes.Float64, 2), []float64{1, 2},
		func(flat any) { released = flat }))
	require.True(t, x.Ok())
	x.Finalize()
	x.Finalize()
	assert.True(t, x.IsFinalized())
	assert.Equal(t, []float64{1, 2}, released)
	_, err := CopyFlatData[float64](x)
	require.Error(t, err)

	var nilTensor *Tensor
	nilTensor.Finalize()

	_, err = FromStorage(HostDevice, shapes.Make(dtypes.Float64, 3), []float64{1, 2}, nil)
	require.Error(t, err)
}

func TestInDelta(t *testing.T) {
	a := FromFlatDataAndDimensions([]float64{1, 2}, 2)
	b := FromFlatDataAndDimensions([]float64{1.0005, 2}, 2)
	assert.True(t, a.InDelta(b, 1e-3))
	assert.False(t, a.InDelta(b, 1e-4))
	assert.False(t, a.InDelta(FromFlatDataAndDimensions([]float64{1, 2}, 1, 2), 1))
	assert.Contains(t, a.String(), "Tensor(Float64)[2]@host:0{1, 2}")
}
