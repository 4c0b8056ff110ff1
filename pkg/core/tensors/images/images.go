// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images converts image-like tensors (e.g. diffusion latents) to images, mostly for previews and debugging.
package images

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/support/fsutil"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ChannelsAxisConfig indicates if a tensor with an image has the channel axis
// coming last (last axis) or first (first axis after batch axis).
type ChannelsAxisConfig uint8

//go:generate go tool enumer -type=ChannelsAxisConfig -output=gen_channelsaxisconfig_enumer.go images.go

const (
	ChannelsFirst ChannelsAxisConfig = iota
	ChannelsLast
)

// GetChannelsAxis from a given image shape and configuration. It assumes the
// leading axis is for the batch dimension. So it either returns 1 or
// `shape.Rank()-1`.
func GetChannelsAxis(shape shapes.Shape, config ChannelsAxisConfig) int {
	switch config {
	case ChannelsFirst:
		return 1
	case ChannelsLast:
		return shape.Rank() - 1
	default:
		klog.Errorf("GetChannelsAxis(%s, %s): invalid ChannelsAxisConfig!?", shape, config)
		return -1
	}
}

// GetSpatialAxes from a given image shape and configuration. It assumes the
// leading axis is for the batch dimension.
//
// Example: if shape is `[batch_dim, height, width, channels]`, it will
// return `[]int{1, 2}`.
func GetSpatialAxes(shape shapes.Shape, config ChannelsAxisConfig) (spatialAxes []int) {
	numSpatialDims := shape.Rank() - 2
	if numSpatialDims <= 0 {
		return
	}
	first := 1
	if config == ChannelsFirst {
		first = 2
	}
	for ii := range numSpatialDims {
		spatialAxes = append(spatialAxes, first+ii)
	}
	return
}

// ToImages converts a batch of 2D images, shaped [batch, channels, height, width] (ChannelsFirst) or
// [batch, height, width, channels] (ChannelsLast), to one image per batch example.
//
// Values are normalized per example to the full [0, 255] range. One channel is rendered in gray; otherwise the
// first 3 channels (missing ones set to 0) are rendered as RGB.
func ToImages(t *tensors.Tensor, config ChannelsAxisConfig) ([]*image.NRGBA, error) {
	shape := t.Shape()
	if shape.Rank() != 4 {
		return nil, status.InvalidValuef("images.ToImages requires a rank-4 tensor, got shape %s", shape)
	}
	channelsAxis := GetChannelsAxis(shape, config)
	spatialAxes := GetSpatialAxes(shape, config)
	batchSize, numChannels := shape.Dim(0), shape.Dim(channelsAxis)
	height, width := shape.Dim(spatialAxes[0]), shape.Dim(spatialAxes[1])
	flat, err := tensors.CopyFlatData[float64](t)
	if err != nil {
		return nil, err
	}
	strides := shape.Strides()
	imgs := make([]*image.NRGBA, batchSize)
	exampleSize := shape.Size() / batchSize
	for b := range batchSize {
		example := flat[b*exampleSize : (b+1)*exampleSize]
		low, high := math.Inf(1), math.Inf(-1)
		for _, v := range example {
			low, high = min(low, v), max(high, v)
		}
		scale := 0.0
		if high > low {
			scale = 255 / (high - low)
		}
		toUint8 := func(v float64) uint8 {
			return uint8(math.Round((v - low) * scale))
		}
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := range height {
			for x := range width {
				var rgb [3]uint8
				for c := range min(numChannels, 3) {
					idx := b*strides[0] + c*strides[channelsAxis] + y*strides[spatialAxes[0]] + x*strides[spatialAxes[1]]
					rgb[c] = toUint8(flat[idx])
				}
				if numChannels == 1 {
					rgb[1], rgb[2] = rgb[0], rgb[0]
				}
				img.SetNRGBA(x, y, color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255})
			}
		}
		imgs[b] = img
	}
	return imgs, nil
}

// SavePreviews saves one PNG per batch example of t (see ToImages) in dir, named "<prefix>_<example>.png",
// up-scaled by the given factor with nearest-neighbor interpolation. It returns the paths of the saved files.
func SavePreviews(t *tensors.Tensor, config ChannelsAxisConfig, dir, prefix string, upScale int) ([]string, error) {
	if upScale < 1 {
		return nil, status.InvalidValuef("up-scale factor must be >= 1, got %d", upScale)
	}
	imgs, err := ToImages(t, config)
	if err != nil {
		return nil, err
	}
	dir, err = fsutil.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(imgs))
	for ii, img := range imgs {
		bounds := img.Bounds()
		scaled := imaging.Resize(img, bounds.Dx()*upScale, bounds.Dy()*upScale, imaging.NearestNeighbor)
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", prefix, ii))
		if err := imaging.Save(scaled, path); err != nil {
			return nil, errors.Wrapf(err, "saving preview %q", path)
		}
		paths = append(paths, path)
	}
	klog.V(1).Infof("saved %d previews to %s", len(paths), dir)
	return paths, nil
}
