// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dag implements the edges (channels) that connect nodes of an inference dataflow graph.
//
// An Edge has at most one producer and any number of consumers. Each consumer reads from its own slot: the
// slot index is assigned when the consumer is added, and the producer writes one tensor per slot (usually the same
// data, possibly on different devices). Nodes are identified by handle, any comparable value implementing Node.
package dag

import (
	"sync"

	"github.com/gomlx/deploy/backends"
	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/support/status"
	"k8s.io/klog/v2"
)

// Node is a handle to a producer or consumer of edges. Implementations must be comparable, usually pointers.
type Node interface {
	Name() string
}

// Edge is a named channel carrying tensors from a producer to its consumers. It is safe for concurrent use.
type Edge struct {
	name string

	mu        sync.Mutex
	producer  Node
	consumers []Node
	slots     []*tensors.Tensor
	owner     []backends.Backend // Backend that allocated each slot's tensor, if created by Create.
}

// NewEdge creates an edge with no producer and no consumers.
func NewEdge(name string) *Edge {
	return &Edge{name: name}
}

// Name of the edge.
func (e *Edge) Name() string { return e.name }

// SetProducer sets the node writing into the edge.
func (e *Edge) SetProducer(node Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.producer = node
}

// Producer returns the node writing into the edge, or nil.
func (e *Edge) Producer() Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.producer
}

// AddConsumer registers node as a consumer and returns its slot index. Adding the same node twice returns the
// original index.
func (e *Edge) AddConsumer(node Node) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ii, consumer := range e.consumers {
		if consumer == node {
			return ii
		}
	}
	e.consumers = append(e.consumers, node)
	e.growLocked(len(e.consumers))
	return len(e.consumers) - 1
}

// Consumers returns the consumers in slot order.
func (e *Edge) Consumers() []Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Node(nil), e.consumers...)
}

// NumSlots is the number of slots: one per consumer, and at least one.
func (e *Edge) NumSlots() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(1, len(e.consumers))
}

func (e *Edge) growLocked(n int) {
	for len(e.slots) < n {
		e.slots = append(e.slots, nil)
		e.owner = append(e.owner, nil)
	}
}

// GetIndex returns the slot index of consumer. It fails with status.ErrNotFound if node is not a consumer.
func (e *Edge) GetIndex(consumer Node) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexLocked(consumer)
}

func (e *Edge) indexLocked(consumer Node) (int, error) {
	for ii, node := range e.consumers {
		if node == consumer {
			return ii, nil
		}
	}
	name := "<nil>"
	if consumer != nil {
		name = consumer.Name()
	}
	return 0, status.NotFoundf("edge %q: node %q is not a consumer", e.name, name)
}

// GetTensor returns the tensor in the consumer's slot.
// It fails with status.ErrNotFound if node is not a consumer, or if nothing was written to its slot yet.
func (e *Edge) GetTensor(consumer Node) (*tensors.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	index, err := e.indexLocked(consumer)
	if err != nil {
		return nil, err
	}
	t := e.slots[index]
	if t == nil {
		return nil, status.NotFoundf("edge %q: no tensor in slot %d (consumer %q)", e.name, index, consumer.Name())
	}
	return t, nil
}

// Slot returns the tensor at the given slot index, or nil if empty.
func (e *Edge) Slot(index int) (*tensors.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkIndexLocked(index); err != nil {
		return nil, err
	}
	e.growLocked(index + 1)
	return e.slots[index], nil
}

func (e *Edge) checkIndexLocked(index int) error {
	if index < 0 || index >= max(1, len(e.consumers)) {
		return status.InvalidValuef("edge %q: slot index %d out of range [0, %d)", e.name, index,
			max(1, len(e.consumers)))
	}
	return nil
}

// Create allocates a new tensor with backend on device, and stores it in slot index, releasing whatever tensor
// the edge had allocated there before.
func (e *Edge) Create(backend backends.Backend, device tensors.Device, shape shapes.Shape, index int) (*tensors.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkIndexLocked(index); err != nil {
		return nil, err
	}
	t, err := backend.NewTensor(device, shape)
	if err != nil {
		return nil, err
	}
	e.growLocked(index + 1)
	e.releaseLocked(index)
	e.slots[index], e.owner[index] = t, backend
	klog.V(2).Infof("edge %q: created %s on %s at slot %d", e.name, shape, device, index)
	return t, nil
}

// Set stores an externally owned tensor in slot index. The edge won't release it.
func (e *Edge) Set(index int, t *tensors.Tensor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkIndexLocked(index); err != nil {
		return err
	}
	e.growLocked(index + 1)
	e.releaseLocked(index)
	e.slots[index] = t
	return nil
}

func (e *Edge) releaseLocked(index int) {
	if owner := e.owner[index]; owner != nil && e.slots[index] != nil {
		owner.Release(e.slots[index])
	}
	e.slots[index], e.owner[index] = nil, nil
}

// Release all tensors the edge allocated with Create, and clears all slots.
func (e *Edge) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ii := range e.slots {
		e.releaseLocked(ii)
	}
}

// Edges indexes edges by name.
type Edges map[string]*Edge

// Connect builds Edges from a list of edges.
func Connect(edges ...*Edge) Edges {
	m := make(Edges, len(edges))
	for _, e := range edges {
		m[e.Name()] = e
	}
	return m
}

// Get returns the named edge, or fails with status.ErrNotFound.
func (m Edges) Get(name string) (*Edge, error) {
	e, found := m[name]
	if !found || e == nil {
		return nil, status.NotFoundf("edge %q not connected", name)
	}
	return e, nil
}
