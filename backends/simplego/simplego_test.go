// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func newTestBackend(t *testing.T, config string) (*Backend, tensors.Device) {
	b, err := New(config)
	require.NoError(t, err)
	return b, must.M1(b.Device(0))
}

func fromValues[T tensors.Float](t *testing.T, b *Backend, device tensors.Device, values []T, dims ...int) *tensors.Tensor {
	host := tensors.FromFlatDataAndDimensions(values, dims...)
	x, err := b.NewTensor(device, host.Shape())
	require.NoError(t, err)
	require.NoError(t, host.CopyTo(x))
	return x
}

func TestConfig(t *testing.T) {
	b, _ := newTestBackend(t, "devices=3, parallelism=0")
	assert.Equal(t, 3, int(b.NumDevices()))
	assert.Equal(t, 0, b.workers.MaxParallelism())
	_, err := b.Device(3)
	require.ErrorIs(t, err, status.ErrInvalidValue)

	_, err = New("devices=0")
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)
	_, err = New("gpus=2")
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)
	_, err = New("devices")
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)
}

func TestBinaryOps(t *testing.T) {
	b, device := newTestBackend(t, "")
	x := fromValues(t, b, device, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := fromValues(t, b, device, []float32{10, 20, 30}, 1, 3)
	col := fromValues(t, b, device, []float32{2, 4}, 2, 1)
	out := must.M1(b.NewTensor(device, shapes.Make(dtypes.Float32, 2, 3)))

	require.NoError(t, b.Add(x, y, out))
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, must.M1(tensors.CopyFlatData[float32](out)))

	require.NoError(t, b.Sub(x, col, out))
	assert.Equal(t, []float32{-1, 0, 1, 0, 1, 2}, must.M1(tensors.CopyFlatData[float32](out)))

	require.NoError(t, b.Div(x, col, out))
	assert.Equal(t, []float32{0.5, 1, 1.5, 1, 1.25, 1.5}, must.M1(tensors.CopyFlatData[float32](out)))

	// Scalar operand, and output aliasing the input.
	two := tensors.FromScalar(float64(2))
	require.NoError(t, b.Mul(x, two, x))
	assert.Equal(t, []float32{2, 4, 6, 8, 10, 12}, must.M1(tensors.CopyFlatData[float32](x)))

	// Incompatible shapes.
	bad := fromValues(t, b, device, []float32{1, 2}, 1, 2)
	require.ErrorIs(t, b.Add(x, bad, out), status.ErrInvalidValue)
}

func TestBinaryOpsFloat16AndFloat64(t *testing.T) {
	b, device := newTestBackend(t, "")
	h := fromValues(t, b, device, []float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}, 2)
	require.NoError(t, b.Mul(h, tensors.FromScalar(float32(2)), h))
	assert.Equal(t, []float32{3, -4}, must.M1(tensors.CopyFlatData[float32](h)))

	d := fromValues(t, b, device, []float64{1, 4}, 2)
	require.NoError(t, b.Div(tensors.FromScalar(float64(1)), d, d))
	assert.Equal(t, []float64{1, 0.25}, must.M1(tensors.CopyFlatData[float64](d)))
}

func TestLargeParallel(t *testing.T) {
	b, device := newTestBackend(t, "parallelism=4")
	const n = 100_000
	values := make([]float64, n)
	for ii := range values {
		values[ii] = float64(ii)
	}
	x := fromValues(t, b, device, values, 10, n/10)
	require.NoError(t, b.Add(x, x, x))
	got := must.M1(tensors.CopyFlatData[float64](x))
	for ii, v := range got {
		require.Equal(t, 2*float64(ii), v)
	}
}

func TestCrossDevice(t *testing.T) {
	b, device0 := newTestBackend(t, "devices=2")
	device1 := must.M1(b.Device(1))
	x := fromValues(t, b, device0, []float32{1, 2, 3}, 3)
	y := fromValues(t, b, device1, []float32{1, 2, 3}, 3)
	unit := fromValues(t, b, device1, []float32{10}, 1)
	out := must.M1(b.NewTensor(device0, shapes.Make(dtypes.Float32, 3)))

	// Full-size operand on another device is a dependency failure.
	require.ErrorIs(t, b.Add(x, y, out), status.ErrDependencyFailure)

	// Unit-extent operands can come from any device.
	require.NoError(t, b.Add(x, unit, out))
	assert.Equal(t, []float32{11, 12, 13}, must.M1(tensors.CopyFlatData[float32](out)))

	// Devices from other backends are rejected.
	_, err := b.NewTensor(tensors.HostDevice, shapes.Make(dtypes.Float32, 3))
	require.ErrorIs(t, err, status.ErrDependencyFailure)
}

func TestClamp(t *testing.T) {
	b, device := newTestBackend(t, "")
	x := fromValues(t, b, device, []float32{-3, -0.5, 0.5, 3}, 4)
	require.NoError(t, b.Clamp(x, -1, 1, x))
	assert.Equal(t, []float32{-1, -0.5, 0.5, 1}, must.M1(tensors.CopyFlatData[float32](x)))
	require.ErrorIs(t, b.Clamp(x, 1, -1, x), status.ErrInvalidValue)
}

func TestConcatSplit(t *testing.T) {
	b, device := newTestBackend(t, "")
	x := fromValues(t, b, device, []float32{1, 2, 3, 4}, 2, 2)
	y := fromValues(t, b, device, []float32{5, 6}, 2, 1)

	cat := must.M1(b.NewTensor(device, shapes.Make(dtypes.Float32, 2, 3)))
	require.NoError(t, b.Concat(1, cat, x, y))
	assert.Equal(t, []float32{1, 2, 5, 3, 4, 6}, must.M1(tensors.CopyFlatData[float32](cat)))

	batch := must.M1(b.NewTensor(device, shapes.Make(dtypes.Float32, 4, 2)))
	require.NoError(t, b.Concat(0, batch, x, x))
	assert.Equal(t, []float32{1, 2, 3, 4, 1, 2, 3, 4}, must.M1(tensors.CopyFlatData[float32](batch)))

	x2 := must.M1(b.NewTensor(device, shapes.Make(dtypes.Float32, 2, 2)))
	y2 := must.M1(b.NewTensor(device, shapes.Make(dtypes.Float32, 2, 1)))
	require.NoError(t, b.Split(cat, -1, x2, y2))
	assert.True(t, x2.Equal(x))
	assert.True(t, y2.Equal(y))

	require.ErrorIs(t, b.Concat(0, cat, x, y), status.ErrInvalidValue)
	require.ErrorIs(t, b.Split(cat, 0, x2, y2), status.ErrInvalidValue)
}

func TestRandomNormalAndPool(t *testing.T) {
	b, device := newTestBackend(t, "")
	x := must.M1(b.NewTensor(device, shapes.Make(dtypes.Float64, 1000)))
	y := must.M1(b.NewTensor(device, shapes.Make(dtypes.Float64, 1000)))
	require.NoError(t, b.RandomNormal(rand.New(rand.NewPCG(42, 0)), x))
	require.NoError(t, b.RandomNormal(rand.New(rand.NewPCG(42, 0)), y))
	assert.True(t, x.Equal(y), "same seed must give same values")

	values := must.M1(tensors.CopyFlatData[float64](x))
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	assert.InDelta(t, 0.0, mean, 0.15)

	assert.Equal(t, 2, b.NumLiveTensors())
	b.Release(x)
	b.Release(y)
	assert.Equal(t, 0, b.NumLiveTensors())

	// Pooled storage comes back zeroed.
	z := must.M1(b.NewTensor(device, shapes.Make(dtypes.Float64, 1000)))
	for _, v := range must.M1(tensors.CopyFlatData[float64](z)) {
		require.Equal(t, 0.0, v)
	}
}
