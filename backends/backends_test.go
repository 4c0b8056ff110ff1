// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends_test

import (
	"testing"

	"github.com/gomlx/deploy/backends"
	_default "github.com/gomlx/deploy/backends/default"
	"github.com/gomlx/deploy/backends/simplego"
	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithConfig(t *testing.T) {
	table := _default.Backends()
	assert.True(t, table.IsReady())

	b := must.M1(backends.NewWithConfig(table, ""))
	assert.Equal(t, simplego.BackendName, b.Name())
	assert.Equal(t, 1, int(b.NumDevices()))

	b = must.M1(backends.NewWithConfig(table, "go:devices=2"))
	assert.Equal(t, 2, int(b.NumDevices()))

	b = must.M1(backends.NewWithConfig(table, "go"))
	assert.Equal(t, simplego.BackendName, b.Name())

	_, err := backends.NewWithConfig(table, "xla:cuda")
	require.ErrorIs(t, err, status.ErrNotFound)

	_, err = backends.NewWithConfig(table, "go:devices=zero")
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)

	t.Setenv(backends.ConfigEnvVar, "go:devices=3")
	b = must.M1(backends.New(table))
	assert.Equal(t, 3, int(b.NumDevices()))
}

func TestNewWithConfigEmptyOrUnsealedTable(t *testing.T) {
	table := backends.NewTable()
	_, err := backends.NewWithConfig(table, "")
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)

	require.NoError(t, simplego.Register(table))
	_, err = backends.NewWithConfig(table, "")
	require.ErrorIs(t, err, status.ErrNotReady)
	table.Seal()
	_, err = backends.NewWithConfig(table, "")
	require.NoError(t, err)
}

func TestScope(t *testing.T) {
	b := must.M1(simplego.New(""))
	device := must.M1(b.Device(0))
	scope := backends.NewScope(b, device)
	x := must.M1(scope.NewTensor(shapes.Make(dtypes.Float32, 2, 2)))
	half := must.M1(scope.Scalar(dtypes.Float32, 0.5))
	kept := scope.Keep(must.M1(scope.NewTensor(shapes.Make(dtypes.Float32, 2, 2))))
	require.NoError(t, b.Add(x, half, kept))
	assert.Equal(t, 3, b.NumLiveTensors())

	scope.Release()
	assert.Equal(t, 1, b.NumLiveTensors())
	assert.True(t, x.IsFinalized())
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, must.M1(tensors.CopyFlatData[float32](kept)))
}
