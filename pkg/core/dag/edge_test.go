// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dag

import (
	"testing"

	"github.com/gomlx/deploy/backends/simplego"
	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode string

func (n *testNode) Name() string { return string(*n) }

func newNode(name string) *testNode {
	n := testNode(name)
	return &n
}

func TestEdge(t *testing.T) {
	backend := must.M1(simplego.New(""))
	device := must.M1(backend.Device(0))
	producer, unet, vae := newNode("scheduler"), newNode("unet"), newNode("vae")

	e := NewEdge("latents")
	e.SetProducer(producer)
	assert.Equal(t, Node(producer), e.Producer())
	assert.Equal(t, 1, e.NumSlots())
	assert.Equal(t, 0, e.AddConsumer(unet))
	assert.Equal(t, 1, e.AddConsumer(vae))
	assert.Equal(t, 0, e.AddConsumer(unet))
	assert.Equal(t, 2, e.NumSlots())

	idx := must.M1(e.GetIndex(vae))
	assert.Equal(t, 1, idx)
	_, err := e.GetIndex(producer)
	require.ErrorIs(t, err, status.ErrNotFound)

	// Nothing written yet.
	_, err = e.GetTensor(vae)
	require.ErrorIs(t, err, status.ErrNotFound)

	shape := shapes.Make(dtypes.Float32, 1, 4, 8, 8)
	created := must.M1(e.Create(backend, device, shape, idx))
	got := must.M1(e.GetTensor(vae))
	assert.Same(t, created, got)
	assert.True(t, got.Shape().Equal(shape))
	_, err = e.GetTensor(unet)
	require.ErrorIs(t, err, status.ErrNotFound)

	_, err = e.Create(backend, device, shape, 2)
	require.ErrorIs(t, err, status.ErrInvalidValue)

	// Re-creating a slot releases the previous tensor.
	assert.Equal(t, 1, backend.NumLiveTensors())
	_ = must.M1(e.Create(backend, device, shape, idx))
	assert.True(t, created.IsFinalized())
	assert.Equal(t, 1, backend.NumLiveTensors())

	e.Release()
	assert.Equal(t, 0, backend.NumLiveTensors())
}

func TestEdges(t *testing.T) {
	edges := Connect(NewEdge("sample"), NewEdge("timestep"))
	e := must.M1(edges.Get("sample"))
	assert.Equal(t, "sample", e.Name())
	_, err := edges.Get("noise_pred")
	require.ErrorIs(t, err, status.ErrNotFound)
}
