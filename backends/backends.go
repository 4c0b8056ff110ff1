// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface to a tensor operation layer (a "backend"), used by the schedulers and
// pipelines to allocate tensors on devices and run element-wise math on them.
//
// Backends are registered explicitly into a Table of constructors, and created from a configuration string of the
// form "<backend_name>:<backend_configuration>". See package backends/default for a sealed table with the backends
// distributed with this module.
package backends

import (
	"math/rand/v2"
	"os"
	"strings"

	"github.com/gomlx/deploy/pkg/core/registry"
	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeviceNum is the ordinal of a device within a backend.
type DeviceNum int

// Backend allocates tensors on its devices and implements Ops on them.
type Backend interface {
	// Name returns the short name of the backend, the one used in the configuration string.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices returns the number of devices available for this Backend.
	NumDevices() DeviceNum

	// Device returns the handle of the device with the given ordinal.
	Device(num DeviceNum) (tensors.Device, error)

	// NewTensor allocates a zero-initialized tensor on the device.
	NewTensor(device tensors.Device, shape shapes.Shape) (*tensors.Tensor, error)

	// Release a tensor allocated by NewTensor, possibly recycling its storage.
	// Tensors from other sources are simply finalized.
	Release(t *tensors.Tensor)

	Ops

	// Finalize releases all the associated resources, and makes the backend invalid.
	Finalize()
}

// Ops are the tensor operations consumed by the schedulers.
//
// All operations are synchronous: when they return, out holds the result. The output tensor out may alias any of
// the inputs. Element-wise binary ops broadcast their operands: they must have the same rank as out, and each
// dimension equal to the output's or 1, or be scalars. Unit-extent operands (one element) may come from any device,
// larger operands must be on the same device as out.
type Ops interface {
	// Add computes out = a + b.
	Add(a, b, out *tensors.Tensor) error

	// Sub computes out = a - b.
	Sub(a, b, out *tensors.Tensor) error

	// Mul computes out = a * b.
	Mul(a, b, out *tensors.Tensor) error

	// Div computes out = a / b.
	Div(a, b, out *tensors.Tensor) error

	// Clamp computes out = min(max(x, lo), hi).
	Clamp(x *tensors.Tensor, lo, hi float64, out *tensors.Tensor) error

	// Concat concatenates inputs along axis into out.
	Concat(axis int, out *tensors.Tensor, inputs ...*tensors.Tensor) error

	// Split is the inverse of Concat: it splits x along axis into the outputs, in order.
	Split(x *tensors.Tensor, axis int, outputs ...*tensors.Tensor) error

	// RandomNormal fills out with samples of the standard normal distribution drawn from rng.
	RandomNormal(rng *rand.Rand, out *tensors.Tensor) error
}

// Constructor creates a backend from its configuration string.
type Constructor func(config string) (Backend, error)

// Table of backend constructors, keyed by backend name.
type Table = registry.Table[string, Constructor]

// NewTable creates an empty Table of backends, ready for registration.
func NewTable() *Table {
	return registry.NewTable[string, Constructor]("backends")
}

// ConfigEnvVar is the environment variable used by New to select the backend.
const ConfigEnvVar = "GOMLX_DEPLOY_BACKEND"

// New creates a backend from the table, configured from the environment variable ConfigEnvVar if set,
// otherwise the first registered backend with an empty configuration.
func New(table *Table) (Backend, error) {
	config, _ := os.LookupEnv(ConfigEnvVar)
	return NewWithConfig(table, config)
}

// NewWithConfig creates a backend from a configuration string in the format "<backend_name>:<backend_configuration>".
// If the name is empty the first registered backend is used.
func NewWithConfig(table *Table, config string) (Backend, error) {
	keys := table.Keys()
	if len(keys) == 0 {
		return nil, status.InvalidConfigurationf("no backends registered in table %q", table.Name())
	}
	name, backendConfig := keys[0], config
	if idx := strings.Index(config, ":"); idx != -1 {
		name, backendConfig = config[:idx], config[idx+1:]
	} else if config != "" && table.Has(config) {
		name, backendConfig = config, ""
	}
	constructor, err := table.Lookup(name)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend configuration %q", config)
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating backend %q", name)
	}
	klog.V(1).Infof("created backend %q (%s) with %d device(s)", backend.Name(), backend.Description(),
		backend.NumDevices())
	return backend, nil
}

// NewScalar allocates a scalar tensor of the given dtype on the device, set to value.
func NewScalar(backend Backend, device tensors.Device, dtype dtypes.DType, value float64) (*tensors.Tensor, error) {
	t, err := backend.NewTensor(device, shapes.Scalar(dtype))
	if err != nil {
		return nil, err
	}
	if err := tensors.AssignFlatData(t, []float64{value}); err != nil {
		backend.Release(t)
		return nil, status.DependencyFailuref("setting scalar: %v", err)
	}
	return t, nil
}
