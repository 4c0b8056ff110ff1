// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, portable, pure Go backend running on the host CPU.
//
// It supports Float16, Float32 and Float64 tensors. Float16 math is done in float32.
//
// Configuration (comma separated, all optional):
//
//   - devices=N: number of (virtual) host devices, default 1. Used to test cross-device behavior.
//   - parallelism=N: max number of goroutines used to split large element-wise ops; 0 disables
//     parallelism, and -1 means unlimited. Default is runtime.NumCPU().
//
// Example: GOMLX_DEPLOY_BACKEND="go:devices=2,parallelism=4".
package simplego

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/deploy/backends"
	"github.com/gomlx/deploy/internal/workerspool"
	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/support/status"
	"k8s.io/klog/v2"
)

// BackendName to be used in the configuration string (and GOMLX_DEPLOY_BACKEND) to select this backend.
const BackendName = "go"

// Register the simplego constructor in the table of backends.
func Register(table *backends.Table) error {
	return table.Register(BackendName, func(config string) (backends.Backend, error) {
		return New(config)
	})
}

// Backend implements backends.Backend.
type Backend struct {
	numDevices backends.DeviceNum
	workers    *workerspool.Pool

	// bufferPools maps bufferPoolKey to *sync.Pool of flat slices.
	bufferPools sync.Map
	numLive     atomic.Int64
	finalized   atomic.Bool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// New constructs a new SimpleGo Backend. See package documentation for the configuration format.
func New(config string) (*Backend, error) {
	b := &Backend{numDevices: 1, workers: workerspool.New()}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, status.InvalidConfigurationf("simplego: invalid configuration %q, expected key=value", part)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, status.InvalidConfigurationf("simplego: invalid value for %q: %v", key, err)
		}
		switch key {
		case "devices":
			if n < 1 {
				return nil, status.InvalidConfigurationf("simplego: devices=%d must be >= 1", n)
			}
			b.numDevices = backends.DeviceNum(n)
		case "parallelism":
			b.workers.SetMaxParallelism(n)
		default:
			return nil, status.InvalidConfigurationf("simplego: unknown configuration key %q", key)
		}
	}
	klog.V(2).Infof("simplego: %d device(s), parallelism=%d", b.numDevices, b.workers.MaxParallelism())
	return b, nil
}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string { return "Simple Go Portable Backend" }

// NumDevices returns the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum { return b.numDevices }

// Device returns the handle for the device num.
func (b *Backend) Device(num backends.DeviceNum) (tensors.Device, error) {
	if num < 0 || num >= b.numDevices {
		return tensors.Device{}, status.InvalidValuef("simplego: device %d out of range, backend has %d device(s)",
			num, b.numDevices)
	}
	return tensors.Device{Backend: BackendName, Ordinal: int(num)}, nil
}

// NumLiveTensors returns the number of tensors allocated with NewTensor and not yet released.
func (b *Backend) NumLiveTensors() int {
	return int(b.numLive.Load())
}

// Finalize the backend. Further allocations fail.
func (b *Backend) Finalize() {
	b.finalized.Store(true)
	b.bufferPools.Clear()
}

// checkDevice returns an error if the device doesn't belong to this backend.
func (b *Backend) checkDevice(device tensors.Device) error {
	if b.finalized.Load() {
		return status.DependencyFailuref("simplego: backend already finalized")
	}
	if device.Backend != BackendName || device.Ordinal < 0 || device.Ordinal >= int(b.numDevices) {
		return status.DependencyFailuref("simplego: device %s doesn't belong to this backend (%d device(s))",
			device, b.numDevices)
	}
	return nil
}

// NewTensor allocates a zero-initialized tensor from the backend's pool of buffers.
func (b *Backend) NewTensor(device tensors.Device, shape shapes.Shape) (*tensors.Tensor, error) {
	if err := b.checkDevice(device); err != nil {
		return nil, err
	}
	if !shape.Ok() || !tensors.IsSupportedDType(shape.DType) {
		return nil, status.InvalidValuef("simplego: cannot allocate tensor of shape %s", shape)
	}
	flat := b.getFlat(shape.DType, shape.Size())
	t, err := tensors.FromStorage(device, shape, flat, b.putFlat)
	if err != nil {
		return nil, status.DependencyFailuref("simplego: %v", err)
	}
	b.numLive.Add(1)
	return t, nil
}

// Release the tensor, returning its storage to the pool if it was allocated by this backend.
func (b *Backend) Release(t *tensors.Tensor) {
	t.Finalize()
}
