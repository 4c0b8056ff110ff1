// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scheduler implements the algorithm-agnostic driver of iterative diffusion sampling.
//
// A Scheduler owns the Params and the derived Tables of one sampling run, and delegates the numerics to an
// Algorithm (e.g. DDIM, see package ddim) created from a Registry. Iterations are driven by a loop.Loop, so they
// run strictly in order and can be cancelled between steps.
//
// Example:
//
//	s, err := scheduler.New("ddim", schedulers.Registry(), scheduler.TypeDDIM, params, backend, device)
//	err = s.Init()
//	err = s.Run(ctx, func(ctx context.Context, i int) error {
//		// Run the model on the sample, then:
//		out, err := s.Step(scheduler.StepInput{ModelOutput: noisePred, Sample: sample, StepIndex: i})
//		...
//	})
package scheduler

import (
	"context"

	"github.com/gomlx/deploy/backends"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/ml/loop"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scheduler drives the denoising steps of one Algorithm. It is not safe for concurrent use, except for Cancel.
type Scheduler struct {
	name      string
	typ       Type
	algorithm Algorithm
	params    Params
	backend   backends.Backend
	device    tensors.Device
	tables    *Tables
	loop      *loop.Loop
}

// New creates a scheduler of the given type from the registry. It fails with status.ErrNotFound if the type is
// not registered. The scheduler must be initialized with Init before use.
func New(name string, r *Registry, typ Type, params Params, backend backends.Backend, device tensors.Device) (*Scheduler, error) {
	algorithm, err := r.Create(typ)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating scheduler %q", name)
	}
	return &Scheduler{
		name:      name,
		typ:       typ,
		algorithm: algorithm,
		params:    params,
		backend:   backend,
		device:    device,
		loop:      loop.New(name),
	}, nil
}

// Name of the scheduler.
func (s *Scheduler) Name() string { return s.name }

// Type of the scheduler algorithm.
func (s *Scheduler) Type() Type { return s.typ }

// Backend used for the tensor operations.
func (s *Scheduler) Backend() backends.Backend { return s.backend }

// Device where the scheduler allocates tensors.
func (s *Scheduler) Device() tensors.Device { return s.device }

// Params returns a copy of the current parameters.
func (s *Scheduler) Params() Params { return s.params }

// Tables returns the numeric state, nil before Init. It must not be modified.
func (s *Scheduler) Tables() *Tables { return s.tables }

// Loop used to drive the iterations, where hooks can be attached.
func (s *Scheduler) Loop() *loop.Loop { return s.loop }

// SetParams changes the parameters. If the scheduler was already initialized, it is re-initialized.
// On error the previous parameters and tables are kept.
func (s *Scheduler) SetParams(params Params) error {
	if s.tables == nil {
		s.params = params
		return nil
	}
	previous := s.params
	s.params = params
	if err := s.Init(); err != nil {
		s.params = previous
		return err
	}
	return nil
}

// Init validates the parameters, precomputes the tables, and sets the timesteps and variances.
// It leaves the scheduler unchanged on error.
func (s *Scheduler) Init() error {
	if err := s.params.Validate(); err != nil {
		return errors.WithMessagef(err, "scheduler %q", s.name)
	}
	tables, err := s.algorithm.Precompute(s.params)
	if err != nil {
		return errors.WithMessagef(err, "scheduler %q: precomputing tables", s.name)
	}
	previous := s.tables
	s.tables = tables
	if err = s.SetTimesteps(); err == nil {
		err = s.Configure()
	}
	if err == nil {
		err = s.loop.Init(s.Loops())
	}
	if err != nil {
		s.tables = previous
		return errors.WithMessagef(err, "scheduler %q", s.name)
	}
	klog.V(1).Infof("scheduler %q (%s): %d steps, timesteps %d..%d, ᾱ[0]=%g, ᾱ[-1]=%g", s.name, s.typ,
		len(tables.Timesteps), tables.Timesteps[0], tables.Timesteps[len(tables.Timesteps)-1],
		tables.AlphasCumprod[0], tables.AlphasCumprod[len(tables.AlphasCumprod)-1])
	return nil
}

func (s *Scheduler) checkInitialized() error {
	if s.tables == nil {
		return status.InvalidConfigurationf("scheduler %q not initialized", s.name)
	}
	return nil
}

// SetTimesteps derives the inference timesteps from the parameters. See Timesteps.
func (s *Scheduler) SetTimesteps() error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	timesteps, err := Timesteps(s.params)
	if err != nil {
		return err
	}
	s.tables.Timesteps = timesteps
	return nil
}

// Configure derives the per-step variances from the timesteps and the cumulative alphas. It is idempotent.
func (s *Scheduler) Configure() error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	return s.tables.ConfigureVariance()
}

// Variance returns the DDIM variance between the two training timesteps. See Tables.VarianceOf.
func (s *Scheduler) Variance(timestep, prevTimestep int) (float64, error) {
	if err := s.checkInitialized(); err != nil {
		return 0, err
	}
	return s.tables.VarianceOf(timestep, prevTimestep)
}

// Loops returns the number of inference steps.
func (s *Scheduler) Loops() int {
	return s.params.NumInferenceSteps
}

// Step runs one denoising step of the algorithm. Temporary tensors are released before returning, and the
// outputs are owned by the caller (see StepOutput.Release).
//
// Errors from the backend are returned unchanged.
func (s *Scheduler) Step(in StepInput) (*StepOutput, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	if !s.params.PredictionType.IsAPredictionType() {
		return nil, status.InvalidConfigurationf("scheduler %q: unknown prediction_type %s", s.name,
			s.params.PredictionType)
	}
	if err := s.tables.CheckStepIndex(in.StepIndex); err != nil {
		return nil, err
	}
	if in.ModelOutput == nil || in.Sample == nil {
		return nil, status.InvalidValuef("scheduler %q: Step requires both model output and sample", s.name)
	}
	if !in.ModelOutput.Shape().EqualDimensions(in.Sample.Shape()) {
		return nil, status.InvalidValuef("scheduler %q: model output shape %s doesn't match sample shape %s",
			s.name, in.ModelOutput.Shape(), in.Sample.Shape())
	}
	scope := backends.NewScope(s.backend, in.Sample.Device())
	defer scope.Release()
	out, err := s.algorithm.Step(scope, s.tables, s.params, in)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("scheduler %q: step %d (timestep %d) done", s.name, in.StepIndex, s.tables.Timesteps[in.StepIndex])
	return out, nil
}

// AddNoise returns initLatents noised to the level of schedule slot stepIndex. The result is owned by the caller.
func (s *Scheduler) AddNoise(initLatents, noise *tensors.Tensor, stepIndex int) (*tensors.Tensor, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	if err := s.tables.CheckStepIndex(stepIndex); err != nil {
		return nil, err
	}
	if !initLatents.Shape().EqualDimensions(noise.Shape()) {
		return nil, status.InvalidValuef("scheduler %q: latents shape %s doesn't match noise shape %s",
			s.name, initLatents.Shape(), noise.Shape())
	}
	scope := backends.NewScope(s.backend, initLatents.Device())
	defer scope.Release()
	return s.algorithm.AddNoise(scope, s.tables, initLatents, noise, stepIndex)
}

// Run executes fn for each inference step in order, through the scheduler's loop. See loop.Loop.Run.
func (s *Scheduler) Run(ctx context.Context, fn loop.StepFn) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	return s.loop.Run(ctx, fn)
}

// Cancel requests the current Run to stop before its next step. It is safe to call concurrently.
func (s *Scheduler) Cancel() {
	s.loop.Cancel()
}

// Deinit releases the tables. It is idempotent.
func (s *Scheduler) Deinit() error {
	if err := s.loop.Deinit(); err != nil {
		return err
	}
	s.tables = nil
	return nil
}
