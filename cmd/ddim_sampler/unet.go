// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"sync/atomic"

	"github.com/gomlx/deploy/backends"
	"github.com/gomlx/deploy/pkg/core/dag"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/ml/pipeline"
)

// syntheticUNet stands in for a noise prediction model: it predicts noise_pred = factor * sample, using
// uncondFactor for the unconditional half of a guided batch.
type syntheticUNet struct {
	backend                  backends.Backend
	device                   tensors.Device
	sample, noisePred        *dag.Edge
	uncondFactor, textFactor float64
	guided                   bool
	numCalls                 atomic.Int64
}

func newSyntheticUNet(backend backends.Backend, device tensors.Device, edges dag.Edges, guided bool) *syntheticUNet {
	u := &syntheticUNet{
		backend:      backend,
		device:       device,
		sample:       edges[pipeline.EdgeSample],
		noisePred:    edges[pipeline.EdgeNoisePred],
		uncondFactor: 0.05,
		textFactor:   0.1,
		guided:       guided,
	}
	u.sample.AddConsumer(u)
	u.noisePred.SetProducer(u)
	return u
}

// Name implements dag.Node.
func (u *syntheticUNet) Name() string { return "synthetic_unet" }

// Run implements pipeline.Executor.
func (u *syntheticUNet) Run(_ context.Context) error {
	u.numCalls.Add(1)
	sample, err := u.sample.GetTensor(u)
	if err != nil {
		return err
	}
	scope := backends.NewScope(u.backend, u.device)
	defer scope.Release()
	shape := sample.Shape()
	out, err := u.noisePred.Create(u.backend, u.device, shape, 0)
	if err != nil {
		return err
	}
	if !u.guided {
		factor, err := scope.UnitLike(shape, u.textFactor)
		if err != nil {
			return err
		}
		return u.backend.Mul(sample, factor, out)
	}

	// Guided batches: [unconditional; text conditioned] halves along the batch axis.
	half := shape.WithDim(0, shape.Dim(0)/2)
	uncond, err := scope.NewTensor(half)
	if err != nil {
		return err
	}
	text, err := scope.NewTensor(half)
	if err != nil {
		return err
	}
	if err = u.backend.Split(sample, 0, uncond, text); err != nil {
		return err
	}
	for _, part := range []struct {
		t      *tensors.Tensor
		factor float64
	}{{uncond, u.uncondFactor}, {text, u.textFactor}} {
		factor, err := scope.UnitLike(half, part.factor)
		if err != nil {
			return err
		}
		if err = u.backend.Mul(part.t, factor, part.t); err != nil {
			return err
		}
	}
	return u.backend.Concat(0, out, uncond, text)
}
