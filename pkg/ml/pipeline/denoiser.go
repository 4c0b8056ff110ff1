// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pipeline implements the nodes of a diffusion inference pipeline that are driven by a scheduler.
//
// The Denoiser node runs the sampling loop of a latent diffusion model: it produces the model inputs on its
// "sample" and "timestep" edges, asks an external Executor (e.g. a UNet compiled by some inference engine) to run
// the model, reads the prediction from the "noise_pred" edge, applies classifier-free guidance, and steps the
// scheduler. The final latents are written to the "latents" edge, to be consumed by a decoder.
package pipeline

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/gomlx/deploy/backends"
	"github.com/gomlx/deploy/pkg/core/dag"
	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/ml/loop"
	"github.com/gomlx/deploy/pkg/ml/scheduler"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the edges used by the Denoiser.
const (
	// EdgeEncoderHiddenStates is the text conditioning, input. Its first axis is the batch size.
	EdgeEncoderHiddenStates = "encoder_hidden_states"

	// EdgeInitLatents are the encoded initial image for image-to-image, optional input.
	EdgeInitLatents = "init_latents"

	// EdgeSample is the model input, produced by the Denoiser. With classifier-free guidance the latents are
	// duplicated along the batch axis: the first half for the unconditional prediction, the second half for the
	// text conditioned one.
	EdgeSample = "sample"

	// EdgeTimestep holds the training timestep of the current step, one per sample row.
	EdgeTimestep = "timestep"

	// EdgeNoisePred is the model output, produced by the Executor with the shape of the sample.
	EdgeNoisePred = "noise_pred"

	// EdgeLatents are the final latents, output.
	EdgeLatents = "latents"
)

// LatentsDType is the dtype of the latents and of the scheduler arithmetic.
// Model outputs of other dtypes (e.g. Float16) are converted.
var LatentsDType = dtypes.Float32

// Executor runs the denoising model: it reads the "sample", "timestep" and "encoder_hidden_states" edges and writes
// the "noise_pred" edge. It's implemented outside of this package, by the inference engine.
type Executor interface {
	Run(ctx context.Context) error
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(ctx context.Context) error

// Run implements Executor.
func (fn ExecutorFunc) Run(ctx context.Context) error { return fn(ctx) }

// Denoiser is a pipeline node that runs the scheduler sampling loop. It implements loop.Iterable and dag.Node.
type Denoiser struct {
	name      string
	scheduler *scheduler.Scheduler
	executor  Executor
	backend   backends.Backend
	device    tensors.Device
	loop      *loop.Loop

	encoderHiddenStates, initLatents      *dag.Edge
	sample, timestep, noisePred, latents *dag.Edge

	// startStep is the first schedule slot executed, > 0 for image-to-image.
	startStep int

	// Per run state.
	runID           uuid.UUID
	rng             *rand.Rand
	batchSize       int
	latentsT        *tensors.Tensor
	sampleT         *tensors.Tensor
	timestepT       *tensors.Tensor
	timestepsBuffer []float32
}

var (
	_ loop.Iterable = (*Denoiser)(nil)
	_ dag.Node      = (*Denoiser)(nil)
)

// NewDenoiser creates a Denoiser node connected to the given edges, and registers itself as their producer or
// consumer. All edges listed as constants in this package are required, except EdgeInitLatents.
// It fails with status.ErrNotFound if a required edge is missing.
//
// The scheduler's backend and device are used for all the tensors the Denoiser allocates.
func NewDenoiser(name string, s *scheduler.Scheduler, executor Executor, edges dag.Edges) (*Denoiser, error) {
	d := &Denoiser{
		name:      name,
		scheduler: s,
		executor:  executor,
		backend:   s.Backend(),
		device:    s.Device(),
		loop:      loop.New(name),
	}
	for _, required := range []struct {
		name string
		edge **dag.Edge
	}{
		{EdgeEncoderHiddenStates, &d.encoderHiddenStates},
		{EdgeSample, &d.sample},
		{EdgeTimestep, &d.timestep},
		{EdgeNoisePred, &d.noisePred},
		{EdgeLatents, &d.latents},
	} {
		edge, err := edges.Get(required.name)
		if err != nil {
			return nil, errors.WithMessagef(err, "creating denoiser %q", name)
		}
		*required.edge = edge
	}
	d.initLatents = edges[EdgeInitLatents]

	d.encoderHiddenStates.AddConsumer(d)
	d.noisePred.AddConsumer(d)
	if d.initLatents != nil {
		d.initLatents.AddConsumer(d)
	}
	d.sample.SetProducer(d)
	d.timestep.SetProducer(d)
	d.latents.SetProducer(d)
	return d, nil
}

// Name implements dag.Node.
func (d *Denoiser) Name() string { return d.name }

// Scheduler used by the denoiser.
func (d *Denoiser) Scheduler() *scheduler.Scheduler { return d.scheduler }

// Loop driving the iterations, where hooks (e.g. progress bars) can be attached.
func (d *Denoiser) Loop() *loop.Loop { return d.loop }

// StartStep is the first schedule slot executed by Run.
func (d *Denoiser) StartStep() int { return d.startStep }

// RunID identifies the last (or current) run in the logs.
func (d *Denoiser) RunID() uuid.UUID { return d.runID }

// isImageToImage returns whether the denoiser starts from noised initial latents.
func (d *Denoiser) isImageToImage() bool {
	return d.initLatents != nil && d.scheduler.Params().Strength < 1
}

// Init implements loop.Iterable. It initializes the scheduler and computes the number of iterations.
func (d *Denoiser) Init() error {
	if err := d.scheduler.Init(); err != nil {
		return err
	}
	params := d.scheduler.Params()
	if err := params.ValidateGeometry(); err != nil {
		return errors.WithMessagef(err, "denoiser %q", d.name)
	}
	d.startStep = 0
	if d.isImageToImage() {
		d.startStep = params.StartStep()
	}
	return d.loop.Init(params.NumInferenceSteps - d.startStep)
}

// Loops implements loop.Iterable: the number of inference steps, minus the ones skipped by image-to-image.
func (d *Denoiser) Loops() int {
	return d.loop.Loops()
}

// Run implements loop.Iterable: it samples the latents, running the executor once per iteration.
//
// Errors from the executor and from the tensor operations are returned unchanged. The latents on the output edge
// reflect the last completed iteration.
func (d *Denoiser) Run(ctx context.Context) error {
	d.runID = uuid.New()
	start := time.Now()
	if err := d.prepare(); err != nil {
		return err
	}
	klog.V(1).Infof("denoiser %q run %s: %d steps from slot %d, batch size %d, guidance=%v",
		d.name, d.runID, d.Loops(), d.startStep, d.batchSize, d.scheduler.Params().UseGuidance())
	if err := d.loop.Run(ctx, d.iterate); err != nil {
		klog.V(1).Infof("denoiser %q run %s: stopped at iteration %d: %v", d.name, d.runID, d.loop.Iteration, err)
		return err
	}
	if err := d.finish(); err != nil {
		return err
	}
	klog.V(1).Infof("denoiser %q run %s: done in %s", d.name, d.runID, time.Since(start))
	return nil
}

// produce creates the tensor in slot 0 of a produced edge, and shares it with the other slots.
func (d *Denoiser) produce(edge *dag.Edge, shape shapes.Shape) (*tensors.Tensor, error) {
	t, err := edge.Create(d.backend, d.device, shape, 0)
	if err != nil {
		return nil, err
	}
	for index := 1; index < edge.NumSlots(); index++ {
		if err = edge.Set(index, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// prepare allocates the produced tensors and the initial latents.
func (d *Denoiser) prepare() error {
	params := d.scheduler.Params()
	tables := d.scheduler.Tables()
	if tables == nil {
		return status.InvalidConfigurationf("denoiser %q: Run called before Init", d.name)
	}
	hiddenStates, err := d.encoderHiddenStates.GetTensor(d)
	if err != nil {
		return err
	}
	if hiddenStates.Rank() < 1 {
		return status.InvalidValuef("denoiser %q: %s must have a batch axis, got shape %s", d.name,
			EdgeEncoderHiddenStates, hiddenStates.Shape())
	}
	d.batchSize = hiddenStates.Shape().Dim(0)
	latentsShape := shapes.Make(LatentsDType, params.LatentDimensions(d.batchSize)...)
	sampleBatch := d.batchSize
	if params.UseGuidance() {
		sampleBatch *= 2
	}

	if d.latentsT, err = d.produce(d.latents, latentsShape); err != nil {
		return err
	}
	if d.sampleT, err = d.produce(d.sample, latentsShape.WithDim(0, sampleBatch)); err != nil {
		return err
	}
	if d.timestepT, err = d.produce(d.timestep, shapes.Make(LatentsDType, sampleBatch, 1)); err != nil {
		return err
	}
	d.timestepsBuffer = make([]float32, sampleBatch)

	// Initial latents.
	d.rng = rand.New(rand.NewPCG(params.Seed, params.Seed))
	scope := backends.NewScope(d.backend, d.device)
	defer scope.Release()
	noise, err := scope.NewTensor(latentsShape)
	if err != nil {
		return err
	}
	if err = d.backend.RandomNormal(d.rng, noise); err != nil {
		return err
	}
	if !d.isImageToImage() {
		sigma, err := scope.UnitLike(latentsShape, tables.InitNoiseSigma)
		if err != nil {
			return err
		}
		return d.backend.Mul(noise, sigma, d.latentsT)
	}
	initLatents, err := d.initLatents.GetTensor(d)
	if err != nil {
		return err
	}
	if !initLatents.Shape().EqualDimensions(latentsShape) {
		return status.InvalidValuef("denoiser %q: %s shape %s doesn't match latents shape %s", d.name,
			EdgeInitLatents, initLatents.Shape(), latentsShape)
	}
	noisy, err := d.scheduler.AddNoise(initLatents, noise, d.startStep)
	if err != nil {
		return err
	}
	defer d.backend.Release(noisy)
	if err = noisy.CopyTo(d.latentsT); err != nil {
		return status.DependencyFailuref("denoiser %q: writing initial latents: %v", d.name, err)
	}
	return nil
}

// iterate runs one denoising step: schedule slot startStep+iteration.
func (d *Denoiser) iterate(ctx context.Context, iteration int) error {
	params := d.scheduler.Params()
	stepIndex := d.startStep + iteration
	timestep := d.scheduler.Tables().Timesteps[stepIndex]
	scope := backends.NewScope(d.backend, d.device)
	defer scope.Release()

	// Model inputs.
	var err error
	if params.UseGuidance() {
		err = d.backend.Concat(0, d.sampleT, d.latentsT, d.latentsT)
	} else {
		err = d.latentsT.CopyTo(d.sampleT)
	}
	if err != nil {
		return err
	}
	for ii := range d.timestepsBuffer {
		d.timestepsBuffer[ii] = float32(timestep)
	}
	if err = tensors.AssignFlatData(d.timestepT, d.timestepsBuffer); err != nil {
		return status.DependencyFailuref("denoiser %q: writing timestep: %v", d.name, err)
	}

	if err = d.executor.Run(ctx); err != nil {
		return err
	}

	modelOutput, err := d.readNoisePrediction(scope)
	if err != nil {
		return err
	}
	if params.UseGuidance() {
		if modelOutput, err = d.guide(scope, modelOutput, params.GuidanceScale); err != nil {
			return err
		}
	}

	out, err := d.scheduler.Step(scheduler.StepInput{
		ModelOutput:           modelOutput,
		Sample:                d.latentsT,
		StepIndex:             stepIndex,
		Eta:                   params.Eta,
		UseClippedModelOutput: params.UseClippedModelOutput,
		Generator:             d.rng,
	})
	if err != nil {
		return err
	}
	defer out.Release(d.backend)
	if err = out.PrevSample.CopyTo(d.latentsT); err != nil {
		return status.DependencyFailuref("denoiser %q: writing back latents: %v", d.name, err)
	}
	klog.V(2).Infof("denoiser %q run %s: step %d (timestep %d) done", d.name, d.runID, stepIndex, timestep)
	return nil
}

// readNoisePrediction returns the executor output, converted to the latents dtype and moved to the denoiser device
// if needed.
func (d *Denoiser) readNoisePrediction(scope *backends.Scope) (*tensors.Tensor, error) {
	noisePred, err := d.noisePred.GetTensor(d)
	if err != nil {
		return nil, errors.WithMessagef(err, "denoiser %q: executor didn't produce a prediction", d.name)
	}
	if !noisePred.Shape().EqualDimensions(d.sampleT.Shape()) {
		return nil, status.InvalidValuef("denoiser %q: %s shape %s doesn't match sample shape %s", d.name,
			EdgeNoisePred, noisePred.Shape(), d.sampleT.Shape())
	}
	if noisePred.DType() == LatentsDType && noisePred.Device() == d.device {
		return noisePred, nil
	}
	converted, err := scope.NewTensor(d.sampleT.Shape())
	if err != nil {
		return nil, err
	}
	if err = noisePred.CopyTo(converted); err != nil {
		return nil, status.DependencyFailuref("denoiser %q: converting %s from %s: %v", d.name, EdgeNoisePred,
			noisePred.DType(), err)
	}
	return converted, nil
}

// guide combines the unconditional and text conditioned halves of the prediction:
//
//	uncond + scale * (text - uncond)
func (d *Denoiser) guide(scope *backends.Scope, noisePred *tensors.Tensor, scale float64) (*tensors.Tensor, error) {
	halfShape := noisePred.Shape().WithDim(0, d.batchSize)
	uncond, err := scope.NewTensor(halfShape)
	if err != nil {
		return nil, err
	}
	text, err := scope.NewTensor(halfShape)
	if err != nil {
		return nil, err
	}
	if err = d.backend.Split(noisePred, 0, uncond, text); err != nil {
		return nil, err
	}
	scaleT, err := scope.UnitLike(halfShape, scale)
	if err != nil {
		return nil, err
	}
	if err = d.backend.Sub(text, uncond, text); err != nil {
		return nil, err
	}
	if err = d.backend.Mul(text, scaleT, text); err != nil {
		return nil, err
	}
	if err = d.backend.Add(uncond, text, uncond); err != nil {
		return nil, err
	}
	return uncond, nil
}

// finish scales the latents for the decoder.
func (d *Denoiser) finish() error {
	factor := d.scheduler.Params().VAEScalingFactor
	if factor <= 0 {
		return nil
	}
	scope := backends.NewScope(d.backend, d.device)
	defer scope.Release()
	inverse, err := scope.UnitLike(d.latentsT.Shape(), 1/factor)
	if err != nil {
		return err
	}
	return d.backend.Mul(d.latentsT, inverse, d.latentsT)
}

// Latents returns the latents of the last run, nil before the first run or once the output edge is released.
// They are owned by the output edge, and remain available after Deinit.
func (d *Denoiser) Latents() *tensors.Tensor {
	latents, err := d.latents.Slot(0)
	if err != nil {
		return nil
	}
	return latents
}

// Cancel requests the current run to stop before the next iteration.
func (d *Denoiser) Cancel() {
	d.loop.Cancel()
}

// Deinit implements loop.Iterable. It releases the model inputs produced by the denoiser and the scheduler state.
// It is idempotent.
//
// The final latents are kept on the output edge, so they can be read after loop.RunIterable: the consumer releases
// them with the edge (or they are replaced by the next run).
func (d *Denoiser) Deinit() error {
	if err := d.loop.Deinit(); err != nil {
		return err
	}
	d.sample.Release()
	d.timestep.Release()
	d.latentsT, d.sampleT, d.timestepT = nil, nil, nil
	return d.scheduler.Deinit()
}
