// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scheduler

// Type identifies a scheduler algorithm. It is the key of the scheduler Registry.
type Type int

//go:generate go tool enumer -type=Type -trimprefix=Type -transform=snake -json -text -output=gen_type_enumer.go types.go

const (
	// TypeDDIM is the Denoising Diffusion Implicit Models scheduler, see package ddim.
	TypeDDIM Type = iota
)

// PredictionType is the quantity the denoising model predicts at each step.
type PredictionType int

//go:generate go tool enumer -type=PredictionType -trimprefix=Prediction -transform=snake -json -text -output=gen_predictiontype_enumer.go types.go

const (
	// PredictionEpsilon: the model predicts the noise added to the sample.
	PredictionEpsilon PredictionType = iota

	// PredictionSample: the model predicts the denoised sample directly.
	PredictionSample

	// PredictionVPrediction: the model predicts the "velocity" sqrt(ᾱ)·ε - sqrt(1-ᾱ)·x₀.
	// See https://arxiv.org/abs/2202.00512, section 2.4.
	PredictionVPrediction
)

// BetaSchedule defines how the per-timestep betas are interpolated between BetaStart and BetaEnd.
type BetaSchedule int

//go:generate go tool enumer -type=BetaSchedule -trimprefix=BetaSchedule -transform=snake -json -text -output=gen_betaschedule_enumer.go types.go

const (
	// BetaScheduleScaledLinear interpolates linearly the square roots of the betas, and squares the result.
	// This is the schedule used by Stable Diffusion.
	BetaScheduleScaledLinear BetaSchedule = iota

	// BetaScheduleLinear interpolates the betas linearly.
	BetaScheduleLinear
)
