// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package loop implements the iteration contract shared by schedulers and pipeline nodes: a fixed number of
// strictly ordered iterations, driven by a Loop with a small state machine, hooks and cooperative cancellation.
package loop

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Iterable is implemented by components that run a fixed number of ordered iterations.
type Iterable interface {
	// Init performs one-time setup. It may be called again to pick up configuration changes.
	Init() error

	// Loops returns the number of iterations for the current configuration, always >= 1 after a successful Init.
	Loops() int

	// Run executes all iterations in order. It returns an error wrapping status.ErrCancelled if ctx is done or
	// the run is cancelled before all iterations completed.
	Run(ctx context.Context) error

	// Deinit releases owned state. It is idempotent.
	Deinit() error
}

// State of a Loop.
type State int

//go:generate go tool enumer -type=State -trimprefix=State -output=gen_state_enumer.go loop.go

const (
	StateUnconfigured State = iota
	StateInitialized
	StateRunning
	StateStopped
	StateDeinitialized
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative values are ok.
type Priority int

// StepFn runs one iteration.
type StepFn func(ctx context.Context, iteration int) error

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop) error

// OnStepFn is the type of OnStep hooks, called after each successful iteration.
type OnStepFn func(loop *Loop, iteration int) error

// OnEndFn is the type of OnEnd hooks, called after all iterations completed.
type OnEndFn func(loop *Loop) error

// Loop drives a fixed number of iterations of a StepFn, in order, calling the registered hooks.
//
// Cancellation is cooperative: Cancel (or the context given to Run) is checked before each iteration,
// never in the middle of one.
//
// The public attributes are meant for reading only.
type Loop struct {
	// Name used in logs and error messages.
	Name string

	// Iteration currently being executed.
	Iteration int

	// StepDurations collected during the last Run.
	StepDurations []time.Duration

	mu        sync.Mutex
	state     State
	loops     int
	cancelled atomic.Bool

	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// New creates a Loop in the StateUnconfigured state.
func New(name string) *Loop {
	return &Loop{
		Name:    name,
		onStart: newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:  newPriorityHooks[*hookWithName[OnStepFn]](),
		onEnd:   newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// State returns the current state of the loop.
func (loop *Loop) State() State {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	return loop.state
}

// Init configures the number of iterations. It fails with status.ErrInvalidConfiguration if loops < 1, and
// can't be called while running.
func (loop *Loop) Init(loops int) error {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	if loop.state == StateRunning {
		return status.InvalidConfigurationf("loop %q: Init called while running", loop.Name)
	}
	if loops < 1 {
		return status.InvalidConfigurationf("loop %q: number of iterations must be >= 1, got %d", loop.Name, loops)
	}
	loop.loops = loops
	loop.state = StateInitialized
	return nil
}

// Loops returns the configured number of iterations, 0 if not initialized.
func (loop *Loop) Loops() int {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	return loop.loops
}

// Cancel requests the running (or next) Run to stop before its next iteration.
func (loop *Loop) Cancel() {
	loop.cancelled.Store(true)
}

// IsCancelled returns whether cancellation was requested and not yet consumed by a Run.
func (loop *Loop) IsCancelled() bool {
	return loop.cancelled.Load()
}

// Run executes iterations 0 to Loops()-1 in order with step.
//
// The loop must be initialized (or stopped from a previous run). The first error returned by step stops the loop
// and is returned unchanged. If ctx is done, or Cancel was called, before an iteration starts, Run stops with an
// error wrapping status.ErrCancelled. A Cancel during the last iteration also yields that error, and the OnEnd hooks
// are not called. Either way, the loop ends in StateStopped.
func (loop *Loop) Run(ctx context.Context, step StepFn) (err error) {
	loop.mu.Lock()
	if loop.state != StateInitialized && loop.state != StateStopped {
		state := loop.state
		loop.mu.Unlock()
		return status.InvalidConfigurationf("loop %q: Run called in state %s", loop.Name, state)
	}
	loop.state = StateRunning
	numLoops := loop.loops
	loop.mu.Unlock()
	defer func() {
		loop.mu.Lock()
		loop.state = StateStopped
		loop.mu.Unlock()
		loop.cancelled.Store(false)
	}()

	loop.StepDurations = make([]time.Duration, 0, numLoops)
	if err = loop.start(); err != nil {
		return err
	}
	for loop.Iteration = 0; loop.Iteration < numLoops; loop.Iteration++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrapf(status.ErrCancelled, "loop %q: stopped before iteration %d of %d: %v",
				loop.Name, loop.Iteration, numLoops, ctxErr)
		}
		if loop.cancelled.Load() {
			return status.Cancelledf("loop %q: stopped before iteration %d of %d", loop.Name, loop.Iteration, numLoops)
		}
		startTime := time.Now()
		if err = step(ctx, loop.Iteration); err != nil {
			klog.V(1).Infof("loop %q: iteration %d failed: %v", loop.Name, loop.Iteration, err)
			return err
		}
		loop.StepDurations = append(loop.StepDurations, time.Since(startTime))
		if err = loop.step(loop.Iteration); err != nil {
			return err
		}
	}
	if loop.cancelled.Load() {
		return status.Cancelledf("loop %q: cancelled during the last iteration (%d)", loop.Name, numLoops-1)
	}
	return loop.end()
}

// Deinit moves the loop to StateDeinitialized. It is idempotent.
// If the loop is running, it requests cancellation and returns an error: call it again after Run returns.
func (loop *Loop) Deinit() error {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	if loop.state == StateRunning {
		loop.cancelled.Store(true)
		return status.InvalidValuef("loop %q: Deinit called while running, cancellation requested", loop.Name)
	}
	loop.state = StateDeinitialized
	loop.loops = 0
	return nil
}

func (loop *Loop) start() (err error) {
	loop.onStart.Enumerate(func(hook *hookWithName[OnStartFn]) {
		if err != nil {
			// After the first error stop.
			return
		}
		if err = hook.fn(loop); err != nil {
			err = errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	})
	return
}

func (loop *Loop) step(iteration int) (err error) {
	loop.onStep.Enumerate(func(hook *hookWithName[OnStepFn]) {
		if err != nil {
			return
		}
		if err = hook.fn(loop, iteration); err != nil {
			err = errors.WithMessagef(err, "OnStep(hook %q)", hook.name)
		}
	})
	return
}

func (loop *Loop) end() (err error) {
	loop.onEnd.Enumerate(func(hook *hookWithName[OnEndFn]) {
		if err != nil {
			return
		}
		if err = hook.fn(loop); err != nil {
			err = errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	})
	return
}

// MedianStepDuration returns the median duration of the iterations of the last run.
// It returns 1 millisecond if no iteration was recorded (to avoid potential division by 0).
func (loop *Loop) MedianStepDuration() time.Duration {
	if len(loop.StepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.StepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a run.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting), called after each iteration.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting), called after the last iteration.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{hooks: make(map[Priority][]H)}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// Enumerate calls fn for all registered hooks in priority order, and in order of registration within a priority.
func (h *priorityHooks[H]) Enumerate(fn func(hook H)) {
	keys := make([]Priority, 0, len(h.hooks))
	for key := range h.hooks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		for _, hook := range h.hooks[key] {
			fn(hook)
		}
	}
}

// RunIterable drives the full lifecycle of it: Init, Run and Deinit. Deinit is always called, and its error is
// returned only if everything else succeeded.
func RunIterable(ctx context.Context, it Iterable) (err error) {
	defer func() {
		if deinitErr := it.Deinit(); deinitErr != nil && err == nil {
			err = deinitErr
		}
	}()
	if err = it.Init(); err != nil {
		return err
	}
	if n := it.Loops(); n < 1 {
		return status.InvalidConfigurationf("number of iterations must be >= 1, got %d", n)
	}
	return it.Run(ctx)
}
