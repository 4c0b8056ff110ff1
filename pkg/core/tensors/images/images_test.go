// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package images

import (
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAxes(t *testing.T) {
	s := shapes.Make(dtypes.Float32, 2, 4, 8, 6)
	assert.Equal(t, 1, GetChannelsAxis(s, ChannelsFirst))
	assert.Equal(t, 3, GetChannelsAxis(s, ChannelsLast))
	assert.Equal(t, []int{2, 3}, GetSpatialAxes(s, ChannelsFirst))
	assert.Equal(t, []int{1, 2}, GetSpatialAxes(s, ChannelsLast))
}

func TestToImages(t *testing.T) {
	// Batch of 2, 4 channels (only the first 3 are rendered), 2x3 pixels.
	data := make([]float32, 2*4*2*3)
	for ii := range data {
		data[ii] = float32(ii)
	}
	latents := tensors.FromFlatDataAndDimensions(data, 2, 4, 2, 3)
	imgs, err := ToImages(latents, ChannelsFirst)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	for _, img := range imgs {
		assert.Equal(t, 3, img.Bounds().Dx())
		assert.Equal(t, 2, img.Bounds().Dy())
		// The minimum of each example is channel 0 pixel (0,0); the maximum (channel 3) is not rendered.
		assert.Equal(t, uint8(0), img.NRGBAAt(0, 0).R)
		assert.Equal(t, uint8(255), img.NRGBAAt(0, 0).A)
	}
	// Channel 2 at pixel (2, 1) is 2*6+5=17 out of [0, 23].
	assert.Equal(t, uint8(188), imgs[0].NRGBAAt(2, 1).B)

	gray := must.M1(ToImages(tensors.FromScalarAndDimensions(float64(3), 1, 2, 2, 1), ChannelsLast))
	assert.Equal(t, gray[0].NRGBAAt(1, 1).R, gray[0].NRGBAAt(1, 1).G)

	_, err = ToImages(tensors.FromScalarAndDimensions(float32(1), 2, 3), ChannelsFirst)
	require.ErrorIs(t, err, status.ErrInvalidValue)
}

func TestSavePreviews(t *testing.T) {
	latents := tensors.FromFlatDataAndDimensions([]float32{0, 1, 2, 3}, 1, 1, 2, 2)
	dir := filepath.Join(t.TempDir(), "previews")
	paths, err := SavePreviews(latents, ChannelsFirst, dir, "step", 8)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "step_0.png")}, paths)
	img, err := imaging.Open(paths[0])
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())

	_, err = SavePreviews(latents, ChannelsFirst, dir, "step", 0)
	require.ErrorIs(t, err, status.ErrInvalidValue)
}
