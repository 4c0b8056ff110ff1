// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default provides the sealed table of backends distributed with this module, namely SimpleGo.
//
// Example:
//
//	backend, err := backends.New(_default.Backends())
package _default

import (
	"sync"

	"github.com/gomlx/deploy/backends"
	"github.com/gomlx/deploy/backends/simplego"
	"github.com/gomlx/exceptions"
)

var (
	muTable sync.Once
	table   *backends.Table
)

// Backends returns the sealed table with all default backends. It is built on first use.
func Backends() *backends.Table {
	muTable.Do(func() {
		table = backends.NewTable()
		if err := simplego.Register(table); err != nil {
			exceptions.Panicf("failed to register simplego backend: %+v", err)
		}
		table.Seal()
	})
	return table
}
