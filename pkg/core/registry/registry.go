// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package registry implements a generic keyed registry with an explicit readiness gate.
//
// A Table maps keys to values (usually factories). It has two phases:
//
//  1. Registration: Register adds entries. Lookups fail with status.ErrNotReady.
//  2. Sealed: after Seal, registrations fail and lookups are served concurrently, lock-free of writers.
//
// There is no hidden initialization order: whoever builds the table decides when it's complete and calls Seal.
// Registry is the common specialization where values are factories that create a new instance per call.
//
// Example:
//
//	r := registry.New[string, Shape]("shapes")
//	r.MustRegister("circle", func() (Shape, error) { return &Circle{}, nil })
//	r.Seal()
//	shape, err := r.Create("circle")
package registry

import (
	"context"
	"slices"
	"sync"

	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/gomlx/deploy/pkg/support/xsync"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Table maps keys of type K to values of type V, with an explicit readiness gate. See package documentation.
type Table[K comparable, V any] struct {
	name string

	mu      sync.RWMutex
	entries map[K]V
	order   []K
	ready   *xsync.Latch
}

// NewTable creates an empty Table in the registration phase. The name is used in error messages.
func NewTable[K comparable, V any](name string) *Table[K, V] {
	return &Table[K, V]{
		name:    name,
		entries: make(map[K]V),
		ready:   xsync.NewLatch(),
	}
}

// Name of the table, as given at creation.
func (t *Table[K, V]) Name() string { return t.name }

// Register the value under key.
//
// It fails with status.ErrDuplicate if the key is already registered (the first registration is kept), and with
// status.ErrNotReady if the table is already sealed.
func (t *Table[K, V]) Register(key K, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ready.Test() {
		return status.NotReadyf("registry %q: cannot register %v after it was sealed", t.name, key)
	}
	if _, found := t.entries[key]; found {
		return status.Duplicatef("registry %q: key %v already registered", t.name, key)
	}
	t.entries[key] = value
	t.order = append(t.order, key)
	klog.V(2).Infof("registry %q: registered %v", t.name, key)
	return nil
}

// MustRegister is like Register, but panics on error. Meant for registration code that can only fail by a
// programming error.
func (t *Table[K, V]) MustRegister(key K, value V) {
	if err := t.Register(key, value); err != nil {
		exceptions.Panicf("%+v", err)
	}
}

// Seal ends the registration phase. It is idempotent.
func (t *Table[K, V]) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready.Trigger()
}

// IsReady returns whether the table has been sealed.
func (t *Table[K, V]) IsReady() bool {
	return t.ready.Test()
}

// WaitReady blocks until the table is sealed or ctx is done.
func (t *Table[K, V]) WaitReady(ctx context.Context) error {
	if err := t.ready.WaitContext(ctx); err != nil {
		return errors.Wrapf(err, "waiting for registry %q to be sealed", t.name)
	}
	return nil
}

// Lookup returns the value registered under key.
//
// It fails with status.ErrNotReady before Seal, and with status.ErrNotFound if key is not registered.
func (t *Table[K, V]) Lookup(key K) (V, error) {
	var zero V
	if !t.ready.Test() {
		return zero, status.NotReadyf("registry %q: lookup of %v before it was sealed", t.name, key)
	}
	t.mu.RLock()
	value, found := t.entries[key]
	t.mu.RUnlock()
	if !found {
		return zero, status.NotFoundf("registry %q: key %v not registered", t.name, key)
	}
	return value, nil
}

// Has returns whether key is registered. It works in both phases.
func (t *Table[K, V]) Has(key K) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, found := t.entries[key]
	return found
}

// Keys returns the registered keys in registration order.
func (t *Table[K, V]) Keys() []K {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.order)
}

// Len returns the number of registered entries.
func (t *Table[K, V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Factory creates a new instance of B.
type Factory[B any] func() (B, error)

// Registry is a Table of factories: each Create call builds a new instance.
type Registry[K comparable, B any] struct {
	*Table[K, Factory[B]]
}

// New creates an empty Registry in the registration phase.
func New[K comparable, B any](name string) *Registry[K, B] {
	return &Registry[K, B]{Table: NewTable[K, Factory[B]](name)}
}

// Create looks up the factory registered under key and returns a new instance.
//
// A missing key fails with status.ErrNotFound: there is never a default instance. Errors from the factory are
// returned with context added, keeping their kind.
func (r *Registry[K, B]) Create(key K) (B, error) {
	var zero B
	factory, err := r.Lookup(key)
	if err != nil {
		return zero, err
	}
	instance, err := factory()
	if err != nil {
		return zero, errors.WithMessagef(err, "registry %q: creating %v", r.Name(), key)
	}
	return instance, nil
}
