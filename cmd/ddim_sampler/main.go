// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// ddim_sampler inspects and runs DDIM schedules.
//
// It prints the schedule (timesteps, cumulative alphas, variances), optionally plots it, and runs the denoising
// pipeline with a synthetic noise predictor standing in for the UNet, e.g.:
//
//	ddim_sampler -set="num_inference_steps=20;eta=0.3" -plot=/tmp/ddim -preview_dir=/tmp/ddim_previews
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/deploy/backends"
	_default "github.com/gomlx/deploy/backends/default"
	"github.com/gomlx/deploy/pkg/core/dag"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/core/tensors/images"
	"github.com/gomlx/deploy/pkg/ml/pipeline"
	"github.com/gomlx/deploy/pkg/ml/scheduler"
	"github.com/gomlx/deploy/pkg/ml/scheduler/schedulers"
	"github.com/gomlx/deploy/pkg/support/fsutil"
	"github.com/gomlx/deploy/ui/commandline"
	"github.com/gomlx/deploy/ui/plots"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagConfig     = flag.String("config", "", "Path to a scheduler_config.json file. Defaults to Stable Diffusion v1.x parameters.")
	flagBackend    = flag.String("backend", "", "Backend configuration, e.g. \"go:parallelism=4\". Defaults to $"+backends.ConfigEnvVar+".")
	flagBatch      = flag.Int("batch", 1, "Number of examples to sample.")
	flagTable      = flag.Int("table", 20, "Print the schedule with at most these many rows. 0 prints all rows, -1 disables it.")
	flagSettings   = flag.Bool("settings", false, "Print the scheduler parameters.")
	flagPlot       = flag.String("plot", "", "If set, save plots of the schedule to \"<plot>_alpha.png\" and \"<plot>_noise.png\".")
	flagRun        = flag.Bool("run", true, "Run the denoising pipeline with a synthetic noise predictor.")
	flagProgress   = flag.Bool("progress", true, "Display a progress bar while running.")
	flagPreviewDir = flag.String("preview_dir", "", "If set, save previews of the final latents to this directory.")
	flagNoColor    = flag.Bool("nocolor", false, "Disable colors in the terminal output.")
)

func main() {
	klog.InitFlags(nil)
	settings := commandline.CreateSettingsFlag(scheduler.DefaultParams(), "set")
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := run(ctx, *settings); err != nil {
		klog.Fatalf("ddim_sampler failed: %+v", err)
	}
}

func loadParams(settings string) (scheduler.Params, error) {
	params := scheduler.DefaultParams()
	if *flagConfig != "" {
		configPath, err := fsutil.ReplaceTilde(*flagConfig)
		if err != nil {
			return params, err
		}
		if params, err = scheduler.LoadParams(configPath); err != nil {
			return params, err
		}
	}
	if err := commandline.ParseSettings(&params, settings); err != nil {
		return params, err
	}
	return params, nil
}

func run(ctx context.Context, settings string) error {
	params, err := loadParams(settings)
	if err != nil {
		return err
	}
	if *flagSettings {
		fmt.Println(commandline.SprintSettings(params))
	}

	var backend backends.Backend
	if *flagBackend != "" {
		backend, err = backends.NewWithConfig(_default.Backends(), *flagBackend)
	} else {
		backend, err = backends.New(_default.Backends())
	}
	if err != nil {
		return err
	}
	defer backend.Finalize()
	device, err := backend.Device(0)
	if err != nil {
		return err
	}

	s, err := scheduler.New("ddim", schedulers.Registry(), scheduler.TypeDDIM, params, backend, device)
	if err != nil {
		return err
	}
	if err = s.Init(); err != nil {
		return err
	}
	if *flagTable >= 0 {
		table, err := commandline.SprintSchedule(s, *flagTable)
		if err != nil {
			return err
		}
		fmt.Println(table)
	}
	if *flagPlot != "" {
		if err = plotSchedule(s, *flagPlot); err != nil {
			return err
		}
	}
	if !*flagRun {
		return s.Deinit()
	}
	return runPipeline(ctx, s)
}

func plotSchedule(s *scheduler.Scheduler, prefix string) error {
	rawPoints, err := plots.SchedulePoints(s.Tables(), s.Params().Eta)
	if err != nil {
		return err
	}
	if err = plots.SavePoints(prefix+"_points.json", rawPoints); err != nil {
		return err
	}
	points := plots.NewPoints(rawPoints)
	if err = points.SavePNG(prefix+"_alpha.png", "Cumulative alphas", plots.MetricTypeAlpha); err != nil {
		return err
	}
	return points.SavePNG(prefix+"_noise.png", "Variance and σ", plots.MetricTypeNoise)
}

func runPipeline(ctx context.Context, s *scheduler.Scheduler) error {
	params := s.Params()
	backend, device := s.Backend(), s.Device()
	edges := dag.Connect(
		dag.NewEdge(pipeline.EdgeEncoderHiddenStates), dag.NewEdge(pipeline.EdgeSample),
		dag.NewEdge(pipeline.EdgeTimestep), dag.NewEdge(pipeline.EdgeNoisePred), dag.NewEdge(pipeline.EdgeLatents))
	unet := newSyntheticUNet(backend, device, edges, params.UseGuidance())
	denoiser, err := pipeline.NewDenoiser("denoiser", s, unet, edges)
	if err != nil {
		return err
	}
	defer edges[pipeline.EdgeNoisePred].Release()
	defer edges[pipeline.EdgeLatents].Release()

	// The text encoder is not part of this tool: only the batch size of its output matters to the denoiser.
	hiddenStates := tensors.FromScalarAndDimensions(float32(0), *flagBatch, 77, 8)
	if err = edges[pipeline.EdgeEncoderHiddenStates].Set(0, hiddenStates); err != nil {
		return err
	}

	if err = denoiser.Init(); err != nil {
		return err
	}
	if *flagProgress {
		commandline.AttachProgressBar(denoiser.Loop(), func() (string, string) {
			return "UNet calls", humanize.Comma(unet.numCalls.Load())
		})
	}
	if err = denoiser.Run(ctx); err != nil {
		_ = denoiser.Deinit()
		return errors.WithMessagef(err, "denoising run %s", denoiser.RunID())
	}
	latents := denoiser.Latents()
	fmt.Printf("Run %s: %d steps, latents %s\n", denoiser.RunID(), denoiser.Loops(), latents.Shape())
	if *flagPreviewDir != "" {
		paths, err := images.SavePreviews(latents, images.ChannelsFirst, *flagPreviewDir, "latents", 8)
		if err != nil {
			_ = denoiser.Deinit()
			return err
		}
		fmt.Printf("Saved previews to %s\n", filepath.Dir(paths[0]))
	}
	return denoiser.Deinit()
}
