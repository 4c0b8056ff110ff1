// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"encoding/json"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Params configures a scheduler and the denoising pipeline using it.
//
// The JSON names follow the "scheduler_config.json" files distributed with diffusion models, so those files can
// be loaded directly with LoadParams: unknown fields are ignored.
type Params struct {
	// NumTrainTimesteps is the number of diffusion steps the model was trained with.
	NumTrainTimesteps int `json:"num_train_timesteps"`

	// NumInferenceSteps is the number of denoising steps actually executed, <= NumTrainTimesteps.
	NumInferenceSteps int `json:"num_inference_steps"`

	// BetaStart and BetaEnd bound the noise schedule: 0 < BetaStart < BetaEnd < 1.
	BetaStart float64 `json:"beta_start"`
	BetaEnd   float64 `json:"beta_end"`

	BetaSchedule BetaSchedule `json:"beta_schedule"`

	// StepsOffset is added to every inference timestep.
	StepsOffset int `json:"steps_offset"`

	// SetAlphaToOne selects the cumulative alpha used past the last timestep: 1 if true, otherwise ᾱ[0].
	SetAlphaToOne bool `json:"set_alpha_to_one"`

	// ClipSample clamps the predicted original sample to [-ClipSampleRange, ClipSampleRange].
	ClipSample      bool    `json:"clip_sample"`
	ClipSampleRange float64 `json:"clip_sample_range"`

	PredictionType PredictionType `json:"prediction_type"`

	// Geometry of the latents: [batch, UNetChannels, ImageHeight/8, ImageWidth/8].
	UNetChannels int `json:"unet_channels"`
	ImageHeight  int `json:"image_height"`
	ImageWidth   int `json:"image_width"`

	// Eta weights the stochastic noise added at each step: 0 is deterministic DDIM, 1 is DDPM-like.
	Eta float64 `json:"eta"`

	// GuidanceScale of classifier-free guidance. Values <= 1 disable it.
	GuidanceScale float64 `json:"guidance_scale"`

	// UseClippedModelOutput re-derives the noise estimate from the (clipped) predicted original sample.
	UseClippedModelOutput bool `json:"use_clipped_model_output"`

	// Seed of the random number generator used for the initial latents and the step noise.
	Seed uint64 `json:"seed"`

	// Strength for image-to-image: the fraction of the schedule to run, starting from the noised initial latents.
	// 1 starts from pure noise.
	Strength float64 `json:"strength"`

	// VAEScalingFactor: final latents are divided by it before decoding. 0 disables the scaling.
	VAEScalingFactor float64 `json:"vae_scaling_factor"`
}

// LatentDownsampling is the ratio between image and latent spatial dimensions.
const LatentDownsampling = 8

// DefaultParams returns the parameters used by Stable Diffusion v1.x.
func DefaultParams() Params {
	return Params{
		NumTrainTimesteps: 1000,
		NumInferenceSteps: 50,
		BetaStart:         0.00085,
		BetaEnd:           0.012,
		BetaSchedule:      BetaScheduleScaledLinear,
		StepsOffset:       1,
		SetAlphaToOne:     false,
		ClipSample:        false,
		ClipSampleRange:   1.0,
		PredictionType:    PredictionEpsilon,
		UNetChannels:      4,
		ImageHeight:       512,
		ImageWidth:        512,
		Eta:               0,
		GuidanceScale:     7.5,
		Seed:              0,
		Strength:          1.0,
		VAEScalingFactor:  0.18215,
	}
}

// StepRatio is the distance between consecutive inference timesteps. Integer division is intentional: the number
// of inference steps need not divide the number of training timesteps.
func (p Params) StepRatio() int {
	if p.NumInferenceSteps <= 0 {
		return 0
	}
	return p.NumTrainTimesteps / p.NumInferenceSteps
}

// Validate the scheduling parameters. All failures wrap status.ErrInvalidConfiguration.
func (p Params) Validate() error {
	if p.NumTrainTimesteps <= 0 {
		return status.InvalidConfigurationf("num_train_timesteps must be > 0, got %d", p.NumTrainTimesteps)
	}
	if p.NumInferenceSteps <= 0 {
		return status.InvalidConfigurationf("num_inference_steps must be > 0, got %d", p.NumInferenceSteps)
	}
	if p.StepRatio() < 1 {
		return status.InvalidConfigurationf("num_inference_steps (%d) must be <= num_train_timesteps (%d)",
			p.NumInferenceSteps, p.NumTrainTimesteps)
	}
	if !(p.BetaStart > 0 && p.BetaStart < p.BetaEnd && p.BetaEnd < 1) {
		return status.InvalidConfigurationf("betas must satisfy 0 < beta_start < beta_end < 1, got beta_start=%g, beta_end=%g",
			p.BetaStart, p.BetaEnd)
	}
	if !p.BetaSchedule.IsABetaSchedule() {
		return status.InvalidConfigurationf("unknown beta_schedule %s", p.BetaSchedule)
	}
	if !p.PredictionType.IsAPredictionType() {
		return status.InvalidConfigurationf("unknown prediction_type %s", p.PredictionType)
	}
	if p.StepsOffset < 0 {
		return status.InvalidConfigurationf("steps_offset must be >= 0, got %d", p.StepsOffset)
	}
	if maxTimestep := (p.NumInferenceSteps-1)*p.StepRatio() + p.StepsOffset; maxTimestep >= p.NumTrainTimesteps {
		return status.InvalidConfigurationf("steps_offset=%d makes the first timestep %d out of range for %d training timesteps",
			p.StepsOffset, maxTimestep, p.NumTrainTimesteps)
	}
	if p.ClipSample && !(p.ClipSampleRange > 0) {
		return status.InvalidConfigurationf("clip_sample_range must be > 0, got %g", p.ClipSampleRange)
	}
	if !(p.Eta >= 0) {
		return status.InvalidConfigurationf("eta must be >= 0, got %g", p.Eta)
	}
	if !(p.Strength > 0 && p.Strength <= 1) {
		return status.InvalidConfigurationf("strength must be in (0, 1], got %g", p.Strength)
	}
	if !(p.VAEScalingFactor >= 0) {
		return status.InvalidConfigurationf("vae_scaling_factor must be >= 0, got %g", p.VAEScalingFactor)
	}
	if p.NumTrainTimesteps%p.NumInferenceSteps != 0 {
		klog.V(1).Infof("num_inference_steps=%d doesn't divide num_train_timesteps=%d, step ratio truncated to %d",
			p.NumInferenceSteps, p.NumTrainTimesteps, p.StepRatio())
	}
	return nil
}

// ValidateGeometry checks the fields used to size the latents.
func (p Params) ValidateGeometry() error {
	if p.UNetChannels <= 0 {
		return status.InvalidConfigurationf("unet_channels must be > 0, got %d", p.UNetChannels)
	}
	if p.ImageHeight < LatentDownsampling || p.ImageWidth < LatentDownsampling {
		return status.InvalidConfigurationf("image size %dx%d too small, must be at least %d",
			p.ImageHeight, p.ImageWidth, LatentDownsampling)
	}
	if p.ImageHeight%LatentDownsampling != 0 || p.ImageWidth%LatentDownsampling != 0 {
		klog.Warningf("image size %dx%d not a multiple of %d, latents will be truncated",
			p.ImageHeight, p.ImageWidth, LatentDownsampling)
	}
	return nil
}

// LatentDimensions returns the dimensions of the latents for the given batch size.
func (p Params) LatentDimensions(batchSize int) []int {
	return []int{batchSize, p.UNetChannels, p.ImageHeight / LatentDownsampling, p.ImageWidth / LatentDownsampling}
}

// UseGuidance returns whether classifier-free guidance is enabled.
func (p Params) UseGuidance() bool {
	return p.GuidanceScale > 1
}

// StartStep is the first schedule slot executed. It is 0 unless running image-to-image with Strength < 1.
func (p Params) StartStep() int {
	if p.Strength >= 1 {
		return 0
	}
	initTimestep := min(int(float64(p.NumInferenceSteps)*p.Strength), p.NumInferenceSteps)
	return max(p.NumInferenceSteps-initTimestep, 0)
}

// ParseParams parses the JSON content of a scheduler configuration on top of DefaultParams.
func ParseParams(data []byte) (Params, error) {
	p := DefaultParams()
	if err := json.Unmarshal(data, &p); err != nil {
		return p, status.InvalidConfigurationf("parsing scheduler configuration: %v", err)
	}
	return p, nil
}

// LoadParams reads a JSON scheduler configuration file (e.g. "scheduler_config.json") on top of DefaultParams.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultParams(), errors.Wrapf(err, "reading scheduler configuration from %q", path)
	}
	p, err := ParseParams(data)
	if err != nil {
		return p, errors.WithMessagef(err, "file %q", path)
	}
	return p, nil
}

// ParseSettings updates the parameters from a list of settings in the format "key1=value1;key2=value2;...".
// The keys are the JSON names of the fields. Integer values may use "_" as a separator, e.g. "1_000".
func (p *Params) ParseSettings(settings string) error {
	if strings.TrimSpace(settings) == "" {
		return nil
	}
	current, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encoding current parameters")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(current, &fields); err != nil {
		return errors.Wrap(err, "decoding current parameters")
	}
	for _, setting := range strings.Split(settings, ";") {
		setting = strings.TrimSpace(setting)
		if setting == "" {
			continue
		}
		key, value, found := strings.Cut(setting, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !found {
			return status.InvalidConfigurationf("invalid setting %q, expected key=value", setting)
		}
		previous, known := fields[key]
		if !known {
			return status.InvalidConfigurationf("unknown scheduler parameter %q in setting %q", key, setting)
		}
		if len(previous) > 0 && previous[0] == '"' {
			// String-valued fields (the enums) are quoted.
			encoded, _ := json.Marshal(value)
			fields[key] = encoded
		} else {
			fields[key] = json.RawMessage(strings.ReplaceAll(value, "_", ""))
		}
	}
	updated, err := json.Marshal(fields)
	if err != nil {
		return status.InvalidConfigurationf("encoding settings %q: %v", settings, err)
	}
	newParams := *p
	if err := json.Unmarshal(updated, &newParams); err != nil {
		return status.InvalidConfigurationf("parsing settings %q: %v", settings, err)
	}
	*p = newParams
	return nil
}

// Settings returns the parameters as sorted (key, value) pairs, using the same keys accepted by ParseSettings.
func (p Params) Settings() [][2]string {
	encoded, err := json.Marshal(p)
	if err != nil {
		klog.Errorf("failed to encode scheduler parameters: %+v", err)
		return nil
	}
	var fields map[string]json.RawMessage
	if err = json.Unmarshal(encoded, &fields); err != nil {
		klog.Errorf("failed to decode scheduler parameters: %+v", err)
		return nil
	}
	settings := make([][2]string, 0, len(fields))
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		settings = append(settings, [2]string{key, strings.Trim(string(fields[key]), `"`)})
	}
	return settings
}
