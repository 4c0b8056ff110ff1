// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scheduler_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/deploy/backends/simplego"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/ml/loop"
	. "github.com/gomlx/deploy/pkg/ml/scheduler"
	"github.com/gomlx/deploy/pkg/ml/scheduler/schedulers"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, params Params) *Scheduler {
	backend := must.M1(simplego.New(""))
	t.Cleanup(backend.Finalize)
	s, err := New("test", schedulers.Registry(), TypeDDIM, params, backend, must.M1(backend.Device(0)))
	require.NoError(t, err)
	return s
}

func TestTimesteps(t *testing.T) {
	params := DefaultParams()
	params.StepsOffset = 0
	timesteps, err := Timesteps(params)
	require.NoError(t, err)
	require.Len(t, timesteps, 50)
	assert.Equal(t, 980, timesteps[0])
	assert.Equal(t, 0, timesteps[49])
	for ii := 1; ii < len(timesteps); ii++ {
		assert.Equal(t, 20, timesteps[ii-1]-timesteps[ii])
	}

	// Truncated step ratio when the number of steps doesn't divide the training timesteps.
	params.NumInferenceSteps = 30
	timesteps = must.M1(Timesteps(params))
	require.Len(t, timesteps, 30)
	assert.Equal(t, 29*33, timesteps[0])
	for ii := 1; ii < len(timesteps); ii++ {
		assert.Less(t, timesteps[ii], timesteps[ii-1])
	}

	params.NumInferenceSteps = 0
	_, err = Timesteps(params)
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	for name, modify := range map[string]func(p *Params){
		"no train timesteps":     func(p *Params) { p.NumTrainTimesteps = 0 },
		"negative steps":         func(p *Params) { p.NumInferenceSteps = -1 },
		"more steps than train":  func(p *Params) { p.NumInferenceSteps = 2000 },
		"reversed betas":         func(p *Params) { p.BetaStart, p.BetaEnd = 0.02, 0.001 },
		"unknown prediction":     func(p *Params) { p.PredictionType = PredictionType(17) },
		"unknown beta schedule":  func(p *Params) { p.BetaSchedule = BetaSchedule(17) },
		"offset out of range":    func(p *Params) { p.StepsOffset = 20 },
		"negative eta":           func(p *Params) { p.Eta = -0.5 },
		"zero strength":          func(p *Params) { p.Strength = 0 },
		"zero clip sample range": func(p *Params) { p.ClipSample, p.ClipSampleRange = true, 0 },
	} {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			modify(&p)
			require.ErrorIs(t, p.Validate(), status.ErrInvalidConfiguration)
		})
	}
}

func TestLoadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"_class_name": "DDIMScheduler",
		"beta_end": 0.012,
		"beta_schedule": "scaled_linear",
		"beta_start": 0.00085,
		"clip_sample": false,
		"num_train_timesteps": 1000,
		"prediction_type": "v_prediction",
		"set_alpha_to_one": false,
		"steps_offset": 1
	}`), 0o644))
	params, err := LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, PredictionVPrediction, params.PredictionType)
	assert.Equal(t, 1000, params.NumTrainTimesteps)
	assert.Equal(t, 50, params.NumInferenceSteps, "fields missing from the file keep their defaults")

	_, err = LoadParams(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	_, err = ParseParams([]byte(`{"prediction_type": "unknown"}`))
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)
}

func TestParseSettings(t *testing.T) {
	params := DefaultParams()
	require.NoError(t, params.ParseSettings("num_inference_steps=25;eta=0.5;prediction_type=sample;clip_sample=true;num_train_timesteps=1_000"))
	assert.Equal(t, 25, params.NumInferenceSteps)
	assert.Equal(t, 0.5, params.Eta)
	assert.Equal(t, PredictionSample, params.PredictionType)
	assert.True(t, params.ClipSample)
	assert.Equal(t, 1000, params.NumTrainTimesteps)

	require.Error(t, params.ParseSettings("num_inference_steps"))
	require.Error(t, params.ParseSettings("prediction_type=unknown"))
}

func TestStartStep(t *testing.T) {
	params := DefaultParams()
	assert.Equal(t, 0, params.StartStep())
	params.Strength = 0.75
	assert.Equal(t, 50-37, params.StartStep())
	params.Strength = 0.01
	assert.Equal(t, 50, params.StartStep())
}

func TestInitTables(t *testing.T) {
	params := DefaultParams()
	params.StepsOffset = 0
	s := newTestScheduler(t, params)
	require.Nil(t, s.Tables())
	_, err := s.Variance(10, 0)
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)

	require.NoError(t, s.Init())
	tables := s.Tables()
	require.Len(t, tables.AlphasCumprod, 1000)
	assert.Equal(t, tables.Alphas[0], tables.AlphasCumprod[0])
	assert.LessOrEqual(t, tables.AlphasCumprod[0], 1.0)
	for ii := 1; ii < len(tables.AlphasCumprod); ii++ {
		assert.LessOrEqual(t, tables.AlphasCumprod[ii], tables.AlphasCumprod[ii-1])
	}
	assert.InDelta(t, 1-0.00085*0.00085, tables.AlphasCumprod[0], 1e-3)
	assert.Greater(t, tables.AlphasCumprod[999], 0.0)
	assert.Less(t, tables.AlphasCumprod[999], 0.01)
	assert.Equal(t, tables.AlphasCumprod[0], tables.FinalAlphaCumprod, "set_alpha_to_one=false")
	assert.Equal(t, 1.0, tables.InitNoiseSigma)

	require.Len(t, tables.Variance, 50)
	for ii, v := range tables.Variance {
		assert.GreaterOrEqual(t, v, 0.0)
		expected := must.M1(s.Variance(tables.Timesteps[ii], tables.PrevTimestep(ii)))
		assert.Equal(t, expected, v)
	}
	assert.Equal(t, 50, s.Loops())
	assert.Equal(t, loop.StateInitialized, s.Loop().State())

	// Configure is idempotent.
	variance := append([]float64(nil), tables.Variance...)
	require.NoError(t, s.Configure())
	assert.Equal(t, variance, s.Tables().Variance)
}

func TestVariance(t *testing.T) {
	s := newTestScheduler(t, DefaultParams())
	require.NoError(t, s.Init())
	v, err := s.Variance(500, 500)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	// Past the last slot ᾱ_prev is the final cumulative alpha.
	v = must.M1(s.Variance(0, -1))
	assert.Equal(t, 0.0, v, "final ᾱ equals ᾱ[0]")

	v = must.M1(s.Variance(981, 961))
	assert.Greater(t, v, 0.0)
	assert.False(t, math.IsNaN(v))

	_, err = s.Variance(1000, 0)
	require.ErrorIs(t, err, status.ErrInvalidValue)

	// Increasing ᾱ is rejected.
	_, err = s.Variance(100, 900)
	require.ErrorIs(t, err, status.ErrInvalidValue)
}

func TestSetParams(t *testing.T) {
	s := newTestScheduler(t, DefaultParams())
	require.NoError(t, s.Init())
	params := DefaultParams()
	params.NumInferenceSteps = 10
	require.NoError(t, s.SetParams(params))
	assert.Equal(t, 10, s.Loops())
	assert.Len(t, s.Tables().Timesteps, 10)

	params.NumInferenceSteps = -3
	require.ErrorIs(t, s.SetParams(params), status.ErrInvalidConfiguration)
	assert.Equal(t, 10, s.Loops(), "failed SetParams keeps the previous configuration")
	assert.Len(t, s.Tables().Timesteps, 10)
}

func TestNewUnknownType(t *testing.T) {
	backend := must.M1(simplego.New(""))
	defer backend.Finalize()
	_, err := New("bad", schedulers.Registry(), Type(42), DefaultParams(), backend, must.M1(backend.Device(0)))
	require.ErrorIs(t, err, status.ErrNotFound)

	// Registry not sealed yet.
	r := NewRegistry()
	_, err = New("early", r, TypeDDIM, DefaultParams(), backend, must.M1(backend.Device(0)))
	require.ErrorIs(t, err, status.ErrNotReady)
}

func TestStepValidation(t *testing.T) {
	s := newTestScheduler(t, DefaultParams())
	backend, device := s.Backend(), s.Device()
	host := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6, 7, 8}, 1, 2, 2, 2)
	sample := must.M1(backend.NewTensor(device, host.Shape()))
	require.NoError(t, host.CopyTo(sample))
	modelOutput := must.M1(backend.NewTensor(device, host.Shape()))
	require.NoError(t, host.CopyTo(modelOutput))

	_, err := s.Step(StepInput{ModelOutput: modelOutput, Sample: sample})
	require.ErrorIs(t, err, status.ErrInvalidConfiguration, "Step before Init")
	require.NoError(t, s.Init())

	_, err = s.Step(StepInput{ModelOutput: modelOutput, Sample: sample, StepIndex: 50})
	require.ErrorIs(t, err, status.ErrInvalidValue)
	_, err = s.Step(StepInput{ModelOutput: modelOutput, StepIndex: 0})
	require.ErrorIs(t, err, status.ErrInvalidValue)
	other := must.M1(backend.NewTensor(device, tensors.FromScalarAndDimensions(float32(0), 1, 8).Shape()))
	_, err = s.Step(StepInput{ModelOutput: other, Sample: sample, StepIndex: 0})
	require.ErrorIs(t, err, status.ErrInvalidValue)
	_, err = s.AddNoise(sample, other, 0)
	require.ErrorIs(t, err, status.ErrInvalidValue)

	out, err := s.Step(StepInput{ModelOutput: modelOutput, Sample: sample, StepIndex: 49})
	require.NoError(t, err)
	defer out.Release(backend)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, must.M1(tensors.CopyFlatData[float32](sample)))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, must.M1(tensors.CopyFlatData[float32](modelOutput)))
	assert.True(t, out.PrevSample.Shape().Equal(sample.Shape()))
}

func TestRunAndCancel(t *testing.T) {
	params := DefaultParams()
	params.NumInferenceSteps = 10
	s := newTestScheduler(t, params)
	require.ErrorIs(t, s.Run(context.Background(), func(context.Context, int) error { return nil }),
		status.ErrInvalidConfiguration)
	require.NoError(t, s.Init())

	var iterations []int
	err := s.Run(context.Background(), func(_ context.Context, i int) error {
		iterations = append(iterations, i)
		if i == 3 {
			s.Cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, status.ErrCancelled)
	assert.Equal(t, []int{0, 1, 2, 3}, iterations)

	// A new run starts from scratch.
	iterations = nil
	require.NoError(t, s.Run(context.Background(), func(_ context.Context, i int) error {
		iterations = append(iterations, i)
		return nil
	}))
	assert.Len(t, iterations, 10)

	require.NoError(t, s.Deinit())
	require.NoError(t, s.Deinit())
	assert.Nil(t, s.Tables())
}
