// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ddim implements the Denoising Diffusion Implicit Models (DDIM) scheduler algorithm.
//
// See "Denoising Diffusion Implicit Models", Song et al., 2020 (https://arxiv.org/abs/2010.02502): with eta = 0 the
// sampling is deterministic, with eta = 1 it matches DDPM's variance.
//
// Register it in a scheduler registry with Register, or use the pre-built registry in package schedulers.
package ddim

import (
	"math"

	"github.com/gomlx/deploy/backends"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/ml/scheduler"
	"github.com/gomlx/deploy/pkg/support/status"
	"k8s.io/klog/v2"
)

// roundOff is the magnitude of negative squared coefficients attributed to float round-off, and clamped to 0.
const roundOff = 1e-12

// Algorithm implements scheduler.Algorithm for DDIM. It is stateless.
type Algorithm struct{}

var _ scheduler.Algorithm = (*Algorithm)(nil)

// New returns a DDIM algorithm. It matches the scheduler.Registry factory signature.
func New() (scheduler.Algorithm, error) {
	return &Algorithm{}, nil
}

// Register DDIM under scheduler.TypeDDIM.
func Register(r *scheduler.Registry) error {
	return r.Register(scheduler.TypeDDIM, New)
}

// Type implements scheduler.Algorithm.
func (*Algorithm) Type() scheduler.Type { return scheduler.TypeDDIM }

// Precompute the betas (from the beta schedule), alphas, their cumulative product and the final cumulative alpha.
func (*Algorithm) Precompute(params scheduler.Params) (*scheduler.Tables, error) {
	n := params.NumTrainTimesteps
	if n <= 0 {
		return nil, status.InvalidConfigurationf("num_train_timesteps must be > 0, got %d", n)
	}
	tables := &scheduler.Tables{InitNoiseSigma: 1.0}
	switch params.BetaSchedule {
	case scheduler.BetaScheduleScaledLinear:
		tables.Betas = scheduler.Linspace(math.Sqrt(params.BetaStart), math.Sqrt(params.BetaEnd), n)
		for ii, beta := range tables.Betas {
			tables.Betas[ii] = beta * beta
		}
	case scheduler.BetaScheduleLinear:
		tables.Betas = scheduler.Linspace(params.BetaStart, params.BetaEnd, n)
	default:
		return nil, status.InvalidConfigurationf("DDIM doesn't support beta_schedule %s", params.BetaSchedule)
	}
	tables.ComputeAlphas(params.SetAlphaToOne)
	if last := tables.AlphasCumprod[n-1]; !(last > 0) {
		return nil, status.InvalidConfigurationf("betas drive the cumulative alpha to %g at timestep %d", last, n-1)
	}
	return tables, nil
}

// stepCoefficients are the scalars of one step, all derived from the tables.
type stepCoefficients struct {
	alphaProdT, alphaProdPrev, betaProdT float64
	stdDev, directionCoef               float64
}

func computeStepCoefficients(tables *scheduler.Tables, stepIndex int, eta float64) (c stepCoefficients, err error) {
	timestep := tables.Timesteps[stepIndex]
	c.alphaProdT, err = tables.AlphaCumprod(timestep)
	if err != nil {
		return
	}
	c.alphaProdPrev, err = tables.AlphaCumprod(tables.PrevTimestep(stepIndex))
	if err != nil {
		return
	}
	c.betaProdT = 1 - c.alphaProdT
	c.stdDev = eta * math.Sqrt(tables.Variance[stepIndex])
	direction2 := 1 - c.alphaProdPrev - c.stdDev*c.stdDev
	if direction2 < 0 {
		if direction2 < -roundOff {
			err = status.InvalidValuef("eta=%g too large at step %d (timestep %d): 1 - ᾱ_prev - σ² = %g < 0",
				eta, stepIndex, timestep, direction2)
			return
		}
		direction2 = 0
	}
	c.directionCoef = math.Sqrt(direction2)
	return
}

// Step computes the previous sample of the DDIM reverse process:
//
//	x₀ = prediction of the original sample, according to params.PredictionType (optionally clipped)
//	σ = eta * sqrt(variance[stepIndex])
//	prev = sqrt(ᾱ_prev) * x₀ + sqrt(1 - ᾱ_prev - σ²) * ε + σ * z
//
// where ε is the noise estimate and z is standard normal noise, only used if eta > 0.
//
// All validation happens before any tensor is allocated. The inputs are never modified: the v-prediction branch
// writes its noise estimate to a new tensor.
func (a *Algorithm) Step(scope *backends.Scope, tables *scheduler.Tables, params scheduler.Params,
	in scheduler.StepInput) (*scheduler.StepOutput, error) {
	if !params.PredictionType.IsAPredictionType() {
		return nil, status.InvalidConfigurationf("DDIM: unknown prediction_type %s", params.PredictionType)
	}
	if err := tables.CheckStepIndex(in.StepIndex); err != nil {
		return nil, err
	}
	if len(tables.Variance) != len(tables.Timesteps) {
		return nil, status.InvalidConfigurationf("DDIM: variances not configured")
	}
	if !(in.Eta >= 0) {
		return nil, status.InvalidValuef("DDIM: eta must be >= 0, got %g", in.Eta)
	}
	sample, modelOutput := in.Sample, in.ModelOutput
	shape := sample.Shape()
	if in.Eta > 0 {
		if in.VarianceNoise == nil && in.Generator == nil {
			return nil, status.InvalidValuef("DDIM: eta=%g requires either a variance noise tensor or a generator", in.Eta)
		}
		if in.VarianceNoise != nil && !in.VarianceNoise.Shape().EqualDimensions(shape) {
			return nil, status.InvalidValuef("DDIM: variance noise shape %s doesn't match sample shape %s",
				in.VarianceNoise.Shape(), shape)
		}
	}
	c, err := computeStepCoefficients(tables, in.StepIndex, in.Eta)
	if err != nil {
		return nil, err
	}
	backend := scope.Backend()
	coef := func(value float64) (*tensors.Tensor, error) { return scope.UnitLike(shape, value) }
	sqrtAlphaProdT, err := coef(math.Sqrt(c.alphaProdT))
	if err != nil {
		return nil, err
	}
	sqrtBetaProdT, err := coef(math.Sqrt(c.betaProdT))
	if err != nil {
		return nil, err
	}
	predOriginal, err := scope.NewTensor(shape)
	if err != nil {
		return nil, err
	}
	tmp, err := scope.NewTensor(shape)
	if err != nil {
		return nil, err
	}

	// Predicted original sample and noise estimate.
	noiseEstimate := modelOutput
	switch params.PredictionType {
	case scheduler.PredictionEpsilon:
		if err = backend.Mul(modelOutput, sqrtBetaProdT, tmp); err != nil {
			return nil, err
		}
		if err = backend.Sub(sample, tmp, predOriginal); err != nil {
			return nil, err
		}
		if err = backend.Div(predOriginal, sqrtAlphaProdT, predOriginal); err != nil {
			return nil, err
		}
	case scheduler.PredictionSample:
		if err = modelOutput.CopyTo(predOriginal); err != nil {
			return nil, status.DependencyFailuref("DDIM: copying sample prediction: %v", err)
		}
	case scheduler.PredictionVPrediction:
		if err = backend.Mul(sample, sqrtAlphaProdT, predOriginal); err != nil {
			return nil, err
		}
		if err = backend.Mul(modelOutput, sqrtBetaProdT, tmp); err != nil {
			return nil, err
		}
		if err = backend.Sub(predOriginal, tmp, predOriginal); err != nil {
			return nil, err
		}
		if noiseEstimate, err = scope.NewTensor(shape); err != nil {
			return nil, err
		}
		if err = backend.Mul(sample, sqrtBetaProdT, noiseEstimate); err != nil {
			return nil, err
		}
		if err = backend.Mul(modelOutput, sqrtAlphaProdT, tmp); err != nil {
			return nil, err
		}
		if err = backend.Add(noiseEstimate, tmp, noiseEstimate); err != nil {
			return nil, err
		}
	}

	if params.ClipSample {
		if err = backend.Clamp(predOriginal, -params.ClipSampleRange, params.ClipSampleRange, predOriginal); err != nil {
			return nil, err
		}
	}

	if in.UseClippedModelOutput {
		// Re-derive the noise estimate from the (possibly clipped) x₀.
		if noiseEstimate, err = scope.NewTensor(shape); err != nil {
			return nil, err
		}
		if err = backend.Mul(predOriginal, sqrtAlphaProdT, noiseEstimate); err != nil {
			return nil, err
		}
		if err = backend.Sub(sample, noiseEstimate, noiseEstimate); err != nil {
			return nil, err
		}
		if err = backend.Div(noiseEstimate, sqrtBetaProdT, noiseEstimate); err != nil {
			return nil, err
		}
	}

	// Deterministic part.
	prevSample, err := scope.NewTensor(shape)
	if err != nil {
		return nil, err
	}
	sqrtAlphaProdPrev, err := coef(math.Sqrt(c.alphaProdPrev))
	if err != nil {
		return nil, err
	}
	directionCoef, err := coef(c.directionCoef)
	if err != nil {
		return nil, err
	}
	if err = backend.Mul(predOriginal, sqrtAlphaProdPrev, prevSample); err != nil {
		return nil, err
	}
	if err = backend.Mul(noiseEstimate, directionCoef, tmp); err != nil {
		return nil, err
	}
	if err = backend.Add(prevSample, tmp, prevSample); err != nil {
		return nil, err
	}

	// Stochastic part.
	if in.Eta > 0 {
		noise := in.VarianceNoise
		if noise == nil {
			if noise, err = scope.NewTensor(shape); err != nil {
				return nil, err
			}
			if err = backend.RandomNormal(in.Generator, noise); err != nil {
				return nil, err
			}
		}
		stdDev, err := coef(c.stdDev)
		if err != nil {
			return nil, err
		}
		if err = backend.Mul(noise, stdDev, tmp); err != nil {
			return nil, err
		}
		if err = backend.Add(prevSample, tmp, prevSample); err != nil {
			return nil, err
		}
	}
	if klog.V(2).Enabled() {
		klog.Infof("DDIM step %d: ᾱ_t=%.6g, ᾱ_prev=%.6g, σ=%.6g, direction=%.6g", in.StepIndex,
			c.alphaProdT, c.alphaProdPrev, c.stdDev, c.directionCoef)
	}
	return &scheduler.StepOutput{
		PrevSample:         scope.Keep(prevSample),
		PredOriginalSample: scope.Keep(predOriginal),
	}, nil
}

// AddNoise returns sqrt(ᾱ) * initLatents + sqrt(1 - ᾱ) * noise, with ᾱ taken at the timestep of schedule slot
// stepIndex. The inputs are not modified.
func (a *Algorithm) AddNoise(scope *backends.Scope, tables *scheduler.Tables, initLatents, noise *tensors.Tensor,
	stepIndex int) (*tensors.Tensor, error) {
	if err := tables.CheckStepIndex(stepIndex); err != nil {
		return nil, err
	}
	alphaProd, err := tables.AlphaCumprod(tables.Timesteps[stepIndex])
	if err != nil {
		return nil, err
	}
	backend := scope.Backend()
	shape := initLatents.Shape()
	sqrtAlphaProd, err := scope.UnitLike(shape, math.Sqrt(alphaProd))
	if err != nil {
		return nil, err
	}
	sqrtOneMinusAlphaProd, err := scope.UnitLike(shape, math.Sqrt(1-alphaProd))
	if err != nil {
		return nil, err
	}
	noisy, err := scope.NewTensor(shape)
	if err != nil {
		return nil, err
	}
	tmp, err := scope.NewTensor(shape)
	if err != nil {
		return nil, err
	}
	if err = backend.Mul(initLatents, sqrtAlphaProd, noisy); err != nil {
		return nil, err
	}
	if err = backend.Mul(noise, sqrtOneMinusAlphaProd, tmp); err != nil {
		return nil, err
	}
	if err = backend.Add(noisy, tmp, noisy); err != nil {
		return nil, err
	}
	return scope.Keep(noisy), nil
}
