// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"math"

	"github.com/gomlx/deploy/pkg/support/status"
)

// varianceRoundOff is the magnitude of negative variances attributed to float round-off, and clamped to 0.
const varianceRoundOff = 1e-12

// Tables hold the numeric state of a scheduler, derived from its Params.
//
// They are owned by one Scheduler, computed by Init/Configure and read-only while running.
type Tables struct {
	// Betas, Alphas and AlphasCumprod are indexed by training timestep.
	Betas, Alphas, AlphasCumprod []float64

	// FinalAlphaCumprod is the cumulative alpha past the last inference step.
	FinalAlphaCumprod float64

	// InitNoiseSigma scales the initial noise.
	InitNoiseSigma float64

	// Timesteps of the inference schedule, strictly descending, one per inference step.
	Timesteps []int

	// Variance per inference step, all >= 0.
	Variance []float64
}

// NumTrainTimesteps is the length of the per-timestep tables.
func (t *Tables) NumTrainTimesteps() int { return len(t.AlphasCumprod) }

// AlphaCumprod returns ᾱ for the training timestep, or FinalAlphaCumprod if timestep < 0.
func (t *Tables) AlphaCumprod(timestep int) (float64, error) {
	if timestep < 0 {
		return t.FinalAlphaCumprod, nil
	}
	if timestep >= len(t.AlphasCumprod) {
		return 0, status.InvalidValuef("timestep %d out of range for %d training timesteps", timestep,
			len(t.AlphasCumprod))
	}
	return t.AlphasCumprod[timestep], nil
}

// PrevTimestep returns the timestep of the schedule slot following stepIndex, the one the step denoises into, or
// -1 past the last slot.
func (t *Tables) PrevTimestep(stepIndex int) int {
	if stepIndex+1 < len(t.Timesteps) {
		return t.Timesteps[stepIndex+1]
	}
	return -1
}

// CheckStepIndex returns an error if stepIndex is not a valid slot of the inference schedule.
func (t *Tables) CheckStepIndex(stepIndex int) error {
	if stepIndex < 0 || stepIndex >= len(t.Timesteps) {
		return status.InvalidValuef("step index %d out of range for %d inference steps", stepIndex, len(t.Timesteps))
	}
	return nil
}

// Linspace returns n evenly spaced values from start to end, inclusive.
func Linspace(start, end float64, n int) []float64 {
	values := make([]float64, n)
	if n == 1 {
		values[0] = start
		return values
	}
	delta := (end - start) / float64(n-1)
	for ii := range values {
		values[ii] = start + float64(ii)*delta
	}
	values[n-1] = end
	return values
}

// ComputeAlphas fills Alphas, AlphasCumprod and FinalAlphaCumprod from Betas.
func (t *Tables) ComputeAlphas(setAlphaToOne bool) {
	n := len(t.Betas)
	t.Alphas = make([]float64, n)
	t.AlphasCumprod = make([]float64, n)
	cumprod := 1.0
	for ii, beta := range t.Betas {
		t.Alphas[ii] = 1 - beta
		cumprod *= t.Alphas[ii]
		t.AlphasCumprod[ii] = cumprod
	}
	t.FinalAlphaCumprod = 1.0
	if !setAlphaToOne && n > 0 {
		t.FinalAlphaCumprod = t.AlphasCumprod[0]
	}
}

// Timesteps returns the inference schedule: entry i is (NumInferenceSteps-1-i)*StepRatio + StepsOffset.
func Timesteps(p Params) ([]int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ratio := p.StepRatio()
	timesteps := make([]int, p.NumInferenceSteps)
	for ii := range timesteps {
		timesteps[ii] = (p.NumInferenceSteps-1-ii)*ratio + p.StepsOffset
	}
	return timesteps, nil
}

// VarianceOf returns the DDIM variance between timestep and prevTimestep (the one being denoised into):
//
//	(1 - ᾱ[prev]) / (1 - ᾱ[t]) * (1 - ᾱ[t] / ᾱ[prev])
//
// where ᾱ[prev] is FinalAlphaCumprod if prevTimestep < 0.
//
// The result is validated: round-off negatives are clamped to 0, any other negative or non-finite value fails
// with status.ErrInvalidValue.
func (t *Tables) VarianceOf(timestep, prevTimestep int) (float64, error) {
	alphaProdT, err := t.AlphaCumprod(timestep)
	if err != nil {
		return 0, err
	}
	alphaProdPrev, err := t.AlphaCumprod(prevTimestep)
	if err != nil {
		return 0, err
	}
	betaProdT, betaProdPrev := 1-alphaProdT, 1-alphaProdPrev
	variance := (betaProdPrev / betaProdT) * (1 - alphaProdT/alphaProdPrev)
	if alphaProdT == alphaProdPrev {
		variance = 0
	}
	switch {
	case math.IsNaN(variance) || math.IsInf(variance, 0):
		return 0, status.InvalidValuef("variance(%d, %d) is not finite (ᾱ_t=%g, ᾱ_prev=%g)",
			timestep, prevTimestep, alphaProdT, alphaProdPrev)
	case variance < -varianceRoundOff:
		return 0, status.InvalidValuef("variance(%d, %d)=%g is negative: ᾱ must be non-increasing (ᾱ_t=%g, ᾱ_prev=%g)",
			timestep, prevTimestep, variance, alphaProdT, alphaProdPrev)
	case variance < 0:
		variance = 0
	}
	return variance, nil
}

// ConfigureVariance fills Variance for every slot of Timesteps. It is idempotent.
func (t *Tables) ConfigureVariance() error {
	variance := make([]float64, len(t.Timesteps))
	for ii, timestep := range t.Timesteps {
		v, err := t.VarianceOf(timestep, t.PrevTimestep(ii))
		if err != nil {
			return err
		}
		variance[ii] = v
	}
	t.Variance = variance
	return nil
}
