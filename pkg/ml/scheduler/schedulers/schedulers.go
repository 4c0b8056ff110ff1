// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package schedulers provides the default scheduler registry, with all the algorithms of this module registered
// and sealed.
//
// Programs that want a different set of algorithms can build their own with scheduler.NewRegistry and the
// Register function of each algorithm package.
package schedulers

import (
	"sync"

	"github.com/gomlx/deploy/pkg/ml/scheduler"
	"github.com/gomlx/deploy/pkg/ml/scheduler/ddim"
	"github.com/gomlx/exceptions"
)

var (
	defaultRegistry     *scheduler.Registry
	defaultRegistryOnce sync.Once
)

// Registry returns the default registry, built and sealed on first use.
func Registry() *scheduler.Registry {
	defaultRegistryOnce.Do(func() {
		r := scheduler.NewRegistry()
		if err := ddim.Register(r); err != nil {
			exceptions.Panicf("schedulers: registering DDIM: %+v", err)
		}
		r.Seal()
		defaultRegistry = r
	})
	return defaultRegistry
}
