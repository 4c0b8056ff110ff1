// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loop

import (
	"context"
	"testing"
	"time"

	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopStates(t *testing.T) {
	loop := New("test")
	assert.Equal(t, StateUnconfigured, loop.State())

	// Run before Init.
	err := loop.Run(context.Background(), func(context.Context, int) error { return nil })
	require.ErrorIs(t, err, status.ErrInvalidConfiguration)

	require.ErrorIs(t, loop.Init(0), status.ErrInvalidConfiguration)
	require.NoError(t, loop.Init(5))
	assert.Equal(t, StateInitialized, loop.State())
	assert.Equal(t, 5, loop.Loops())

	var order []int
	require.NoError(t, loop.Run(context.Background(), func(_ context.Context, iteration int) error {
		assert.Equal(t, StateRunning, loop.State())
		order = append(order, iteration)
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, StateStopped, loop.State())
	assert.Len(t, loop.StepDurations, 5)
	assert.Greater(t, loop.MedianStepDuration(), time.Duration(-1))

	require.NoError(t, loop.Deinit())
	require.NoError(t, loop.Deinit())
	assert.Equal(t, StateDeinitialized, loop.State())
	assert.Equal(t, "Deinitialized", loop.State().String())
}

func TestLoopFirstErrorStops(t *testing.T) {
	loop := New("failing")
	require.NoError(t, loop.Init(10))
	stepErr := status.DependencyFailuref("executor failed")
	var count int
	err := loop.Run(context.Background(), func(_ context.Context, iteration int) error {
		count++
		if iteration == 3 {
			return stepErr
		}
		return nil
	})
	assert.Same(t, stepErr, err, "step errors must be returned unchanged")
	assert.Equal(t, 4, count)
	assert.Equal(t, StateStopped, loop.State())
}

func TestLoopCancel(t *testing.T) {
	loop := New("cancelled")
	require.NoError(t, loop.Init(10))
	var count int
	err := loop.Run(context.Background(), func(_ context.Context, iteration int) error {
		count++
		if iteration == 2 {
			loop.Cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, status.ErrCancelled)
	assert.Equal(t, 3, count, "the current iteration completes before the loop stops")
	assert.Equal(t, StateStopped, loop.State())
	assert.False(t, loop.IsCancelled())

	// Cancelling during the last iteration is reported, and skips the OnEnd hooks.
	require.NoError(t, loop.Init(2))
	var ended bool
	loop.OnEnd("ended", 0, func(*Loop) error { ended = true; return nil })
	count = 0
	err = loop.Run(context.Background(), func(_ context.Context, iteration int) error {
		count++
		if iteration == 1 {
			loop.Cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, status.ErrCancelled)
	assert.Contains(t, err.Error(), "last iteration")
	assert.Equal(t, 2, count)
	assert.False(t, ended)
	assert.False(t, loop.IsCancelled())

	// The next run is not affected by the previous cancellation.
	require.NoError(t, loop.Run(context.Background(), func(context.Context, int) error { return nil }))
	assert.True(t, ended)

	// Context cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	count = 0
	err = loop.Run(ctx, func(_ context.Context, iteration int) error {
		count++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, status.ErrCancelled)
	assert.Equal(t, 1, count)
}

func TestLoopHooks(t *testing.T) {
	loop := New("hooks")
	require.NoError(t, loop.Init(2))
	var calls []string
	loop.OnStart("start", 0, func(*Loop) error { calls = append(calls, "start"); return nil })
	loop.OnStep("second", 10, func(_ *Loop, i int) error { calls = append(calls, "second"); return nil })
	loop.OnStep("first", -1, func(_ *Loop, i int) error { calls = append(calls, "first"); return nil })
	loop.OnEnd("end", 0, func(*Loop) error { calls = append(calls, "end"); return nil })
	require.NoError(t, loop.Run(context.Background(), func(context.Context, int) error {
		calls = append(calls, "step")
		return nil
	}))
	assert.Equal(t, []string{"start", "step", "first", "second", "step", "first", "second", "end"}, calls)

	loop.OnStep("broken", 100, func(*Loop, int) error { return errors.New("disk full") })
	err := loop.Run(context.Background(), func(context.Context, int) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), `OnStep(hook "broken")`)
}

type countingIterable struct {
	loop                 *Loop
	loops, ran, deinited int
}

func (c *countingIterable) Init() error { return c.loop.Init(c.loops) }
func (c *countingIterable) Loops() int  { return c.loop.Loops() }
func (c *countingIterable) Run(ctx context.Context) error {
	return c.loop.Run(ctx, func(context.Context, int) error { c.ran++; return nil })
}
func (c *countingIterable) Deinit() error { c.deinited++; return c.loop.Deinit() }

func TestRunIterable(t *testing.T) {
	it := &countingIterable{loop: New("iterable"), loops: 3}
	require.NoError(t, RunIterable(context.Background(), it))
	assert.Equal(t, 3, it.ran)
	assert.Equal(t, 1, it.deinited)

	it = &countingIterable{loop: New("empty"), loops: 0}
	require.ErrorIs(t, RunIterable(context.Background(), it), status.ErrInvalidConfiguration)
	assert.Equal(t, 1, it.deinited)
}
