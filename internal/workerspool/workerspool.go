// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of goroutines the host backend uses to split element-wise kernels.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool hands out worker slots to tasks, up to MaxParallelism at a time.
//
// The zero value is not usable, create it with New.
type Pool struct {
	// maxParallelism: 0 disables parallelism (tasks run inline), negative means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases.
	numRunning int
}

// New returns a Pool with parallelism set to runtime.NumCPU().
func New() *Pool {
	p := &Pool{maxParallelism: runtime.NumCPU()}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the current limit of tasks running in parallel.
// 0 means tasks are run inline, and -1 means unlimited.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// SetMaxParallelism changes the limit. It should only be called before tasks are started.
func (p *Pool) SetMaxParallelism(maxParallelism int) {
	p.maxParallelism = maxParallelism
}

// IsEnabled returns whether tasks may run in parallel at all.
func (p *Pool) IsEnabled() bool {
	return p.maxParallelism != 0
}

func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= p.maxParallelism
}

// WaitToStart blocks until a worker slot is free and then runs task in a new goroutine.
//
// If parallelism is disabled, task runs inline and WaitToStart returns after it finishes.
func (p *Pool) WaitToStart(task func()) {
	if p.maxParallelism == 0 {
		task()
		return
	}
	if p.maxParallelism < 0 {
		go task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.numRunning++
	go func() {
		defer p.release()
		task()
	}()
}

func (p *Pool) release() {
	p.mu.Lock()
	p.numRunning--
	p.cond.Signal()
	p.mu.Unlock()
}

// ParallelFor calls fn(start, end) over contiguous chunks covering [0, n), and returns once all chunks are done.
//
// Chunks have at least minChunk elements, so small ranges are processed inline in one call.
func (p *Pool) ParallelFor(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if minChunk < 1 {
		minChunk = 1
	}
	numChunks := n / minChunk
	if parallelism := p.maxParallelism; parallelism >= 0 && numChunks > parallelism {
		numChunks = parallelism
	}
	if numChunks <= 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + numChunks - 1) / numChunks
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		p.WaitToStart(func() {
			defer wg.Done()
			fn(start, end)
		})
	}
	wg.Wait()
}
