// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"math/rand/v2"

	"github.com/gomlx/deploy/backends"
	"github.com/gomlx/deploy/pkg/core/registry"
	"github.com/gomlx/deploy/pkg/core/tensors"
)

// Algorithm is one scheduler variant: how to precompute its tables, and how to run one denoising step.
//
// Implementations are stateless, all state is in the Tables and Params passed in. Tensors are allocated
// with the given scope: temporaries are released by the caller when the scope is released, and returned tensors
// are removed from the scope (with Scope.Keep) and owned by the caller.
type Algorithm interface {
	// Type of the algorithm, the key it's registered under.
	Type() Type

	// Precompute the per-timestep tables (betas, alphas, cumulative alphas, final alpha and initial noise sigma)
	// for the validated params. Timesteps and Variance are filled by the Scheduler afterwards.
	Precompute(params Params) (*Tables, error)

	// Step computes the previous (less noisy) sample from the model output at schedule slot in.StepIndex.
	// It never modifies in.ModelOutput or in.Sample.
	Step(scope *backends.Scope, tables *Tables, params Params, in StepInput) (*StepOutput, error)

	// AddNoise noises initLatents to the level of schedule slot stepIndex.
	AddNoise(scope *backends.Scope, tables *Tables, initLatents, noise *tensors.Tensor, stepIndex int) (*tensors.Tensor, error)
}

// StepInput holds the arguments of Algorithm.Step.
type StepInput struct {
	// ModelOutput is the (guided) prediction of the model, interpreted according to Params.PredictionType.
	ModelOutput *tensors.Tensor

	// Sample is the current noisy sample.
	Sample *tensors.Tensor

	// StepIndex is the slot in the inference schedule (0 is the noisiest).
	StepIndex int

	// Eta weights the noise added to the step, usually Params.Eta. Eta = 0 makes the step deterministic.
	Eta float64

	// UseClippedModelOutput re-derives the noise estimate from the predicted original sample.
	UseClippedModelOutput bool

	// Generator is the source of randomness used when Eta > 0 and VarianceNoise is nil.
	Generator *rand.Rand

	// VarianceNoise, if given, is used as the noise when Eta > 0. It must have the shape of Sample.
	VarianceNoise *tensors.Tensor
}

// StepOutput holds the results of Algorithm.Step. The tensors are owned by the caller.
type StepOutput struct {
	// PrevSample is the sample to feed to the next step.
	PrevSample *tensors.Tensor

	// PredOriginalSample is the predicted denoised sample x₀.
	PredOriginalSample *tensors.Tensor
}

// Release both output tensors.
func (o *StepOutput) Release(backend backends.Backend) {
	if o == nil {
		return
	}
	backend.Release(o.PrevSample)
	backend.Release(o.PredOriginalSample)
}

// Registry of scheduler algorithms, keyed by Type.
type Registry = registry.Registry[Type, Algorithm]

// NewRegistry returns an empty scheduler registry, ready for registration.
func NewRegistry() *Registry {
	return registry.New[Type, Algorithm]("schedulers")
}
