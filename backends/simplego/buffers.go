// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for given dtype/length.
func (b *Backend) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	pool, ok := b.bufferPools.Load(key)
	if !ok {
		pool, _ = b.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				switch dtype {
				case dtypes.Float16:
					return make([]float16.Float16, length)
				case dtypes.Float32:
					return make([]float32, length)
				default:
					return make([]float64, length)
				}
			},
		})
	}
	return pool.(*sync.Pool)
}

// getFlat returns a zeroed flat slice for the dtype and length, reusing pooled storage when available.
func (b *Backend) getFlat(dtype dtypes.DType, length int) any {
	flat := b.getBufferPool(dtype, length).Get()
	switch f := flat.(type) {
	case []float16.Float16:
		clear(f)
	case []float32:
		clear(f)
	case []float64:
		clear(f)
	}
	return flat
}

// putFlat returns storage to the pool. After this, any references to flat must be dropped.
func (b *Backend) putFlat(flat any) {
	b.numLive.Add(-1)
	if b.finalized.Load() {
		return
	}
	var key bufferPoolKey
	switch f := flat.(type) {
	case []float16.Float16:
		key = bufferPoolKey{dtypes.Float16, len(f)}
	case []float32:
		key = bufferPoolKey{dtypes.Float32, len(f)}
	case []float64:
		key = bufferPoolKey{dtypes.Float64, len(f)}
	default:
		return
	}
	b.getBufferPool(key.dtype, key.length).Put(flat)
}
