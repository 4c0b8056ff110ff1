// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gomlx/deploy/pkg/support/fsutil"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	*flagBackend = "go"
	*flagBatch = 2
	*flagTable = 4
	*flagProgress = false
	*flagPlot = filepath.Join(dir, "ddim")
	*flagPreviewDir = filepath.Join(dir, "previews")
	settings := "num_inference_steps=5;image_height=32;image_width=32;eta=0.5"
	require.NoError(t, run(context.Background(), settings))

	for _, name := range []string{"ddim_points.json", "ddim_alpha.png", "ddim_noise.png",
		filepath.Join("previews", "latents_0.png"), filepath.Join("previews", "latents_1.png")} {
		assert.True(t, must.M1(fsutil.FileExists(filepath.Join(dir, name))), "missing %s", name)
	}

	// Without guidance and without the pipeline run.
	*flagRun = false
	require.NoError(t, run(context.Background(), "guidance_scale=1"))
	*flagRun = true

	err := run(context.Background(), "num_inference_steps=0")
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)
}
