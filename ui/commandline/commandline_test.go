// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gomlx/deploy/backends/simplego"
	"github.com/gomlx/deploy/pkg/ml/loop"
	"github.com/gomlx/deploy/pkg/ml/scheduler"
	"github.com/gomlx/deploy/pkg/ml/scheduler/schedulers"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "12.35ms", FormatDuration(12345678*time.Nanosecond))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

func TestParseSettings(t *testing.T) {
	params := scheduler.DefaultParams()
	require.NoError(t, ParseSettings(&params, "num_inference_steps=20; eta=0.5"))
	assert.Equal(t, 20, params.NumInferenceSteps)
	assert.Equal(t, 0.5, params.Eta)

	settingsPath := filepath.Join(t.TempDir(), "settings.txt")
	contents := "# Faster schedule.\nnum_inference_steps=10\n\nprediction_type=v_prediction\n"
	require.NoError(t, os.WriteFile(settingsPath, []byte(contents), 0o644))
	require.NoError(t, ParseSettings(&params, "file:"+settingsPath+";seed=7"))
	assert.Equal(t, 10, params.NumInferenceSteps)
	assert.Equal(t, scheduler.PredictionVPrediction, params.PredictionType)
	assert.Equal(t, uint64(7), params.Seed)
	assert.Equal(t, 0.5, params.Eta)

	require.Error(t, ParseSettings(&params, "file:"+filepath.Join(t.TempDir(), "missing.txt")))
	require.ErrorIs(t, ParseSettings(&params, "no_such_param=1"), status.ErrInvalidConfiguration)
}

func TestSprintSettings(t *testing.T) {
	got := SprintSettings(scheduler.DefaultParams())
	assert.Contains(t, got, "num_train_timesteps")
	assert.Contains(t, got, "scaled_linear")
}

func TestSprintSchedule(t *testing.T) {
	backend := must.M1(simplego.New(""))
	defer backend.Finalize()
	params := scheduler.DefaultParams()
	params.NumInferenceSteps = 10
	s := must.M1(scheduler.New("table", schedulers.Registry(), scheduler.TypeDDIM, params, backend,
		must.M1(backend.Device(0))))
	_, err := SprintSchedule(s, 0)
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)

	require.NoError(t, s.Init())
	full := must.M1(SprintSchedule(s, 0))
	assert.Contains(t, full, "901")
	assert.Contains(t, full, "501")
	truncated := must.M1(SprintSchedule(s, 4))
	assert.Contains(t, truncated, "...")
	assert.Contains(t, truncated, "901")
	assert.Less(t, strings.Count(truncated, "\n"), strings.Count(full, "\n"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressBar(t *testing.T) {
	out := &syncBuffer{}
	previous := Output
	Output = out
	defer func() { Output = previous }()

	l := loop.New("denoise")
	AttachProgressBar(l, func() (string, string) { return "Guidance", "7.5" })
	require.NoError(t, l.Init(3))
	var count int
	require.NoError(t, l.Run(context.Background(), func(_ context.Context, _ int) error {
		count++
		return nil
	}))
	assert.Equal(t, 3, count)
	printed := out.String()
	assert.True(t, strings.Contains(printed, "of 3"), "output: %q", printed)
	assert.Contains(t, printed, "Guidance")
	assert.Contains(t, printed, "Median step duration")
}
