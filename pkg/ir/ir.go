// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir defines the intermediate representation of models imported from external formats (see package
// ir/onnx): a flat list of operation descriptors, each with its typed parameters.
package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/deploy/pkg/support/status"
)

// OpDesc describes one operation of a model.
type OpDesc struct {
	// Name of the operation, unique within a model.
	Name string

	Type OpType

	// Inputs and Outputs are names of the values (tensors) consumed and produced.
	Inputs, Outputs []string

	// Param holds the operation parameters, nil for operations without parameters.
	Param OpParam
}

// NewOpDesc creates an OpDesc with the default parameters for opType.
func NewOpDesc(name string, opType OpType) *OpDesc {
	return &OpDesc{Name: name, Type: opType, Param: NewOpParam(opType)}
}

// String implements fmt.Stringer.
func (op *OpDesc) String() string {
	return fmt.Sprintf("%s %q(%s) -> (%s)", op.Type, op.Name, strings.Join(op.Inputs, ", "),
		strings.Join(op.Outputs, ", "))
}

// ModelDesc describes a model as a list of operations in topological order.
type ModelDesc struct {
	Name string
	Ops  []*OpDesc
}

// Op returns the operation with the given name, or fails with status.ErrNotFound.
func (m *ModelDesc) Op(name string) (*OpDesc, error) {
	for _, op := range m.Ops {
		if op.Name == name {
			return op, nil
		}
	}
	return nil, status.NotFoundf("model %q has no op named %q", m.Name, name)
}

// CountOps returns the number of operations of each type.
func (m *ModelDesc) CountOps() map[OpType]int {
	counts := make(map[OpType]int)
	for _, op := range m.Ops {
		counts[op.Type]++
	}
	return counts
}
