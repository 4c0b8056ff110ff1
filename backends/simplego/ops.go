// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/deploy/pkg/core/shapes"
	"github.com/gomlx/deploy/pkg/core/tensors"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// minParallelChunk is the minimum number of elements processed by one goroutine.
const minParallelChunk = 16 * 1024

type binaryOp int

const (
	opAdd binaryOp = iota
	opSub
	opMul
	opDiv
)

var binaryOpNames = [...]string{"Add", "Sub", "Mul", "Div"}

func (op binaryOp) String() string { return binaryOpNames[op] }

func binaryFn[T constraints.Float](op binaryOp) func(x, y T) T {
	switch op {
	case opAdd:
		return func(x, y T) T { return x + y }
	case opSub:
		return func(x, y T) T { return x - y }
	case opMul:
		return func(x, y T) T { return x * y }
	default:
		return func(x, y T) T { return x / y }
	}
}

// Add implements backends.Ops.
func (b *Backend) Add(lhs, rhs, out *tensors.Tensor) error { return b.binary(opAdd, lhs, rhs, out) }

// Sub implements backends.Ops.
func (b *Backend) Sub(lhs, rhs, out *tensors.Tensor) error { return b.binary(opSub, lhs, rhs, out) }

// Mul implements backends.Ops.
func (b *Backend) Mul(lhs, rhs, out *tensors.Tensor) error { return b.binary(opMul, lhs, rhs, out) }

// Div implements backends.Ops.
func (b *Backend) Div(lhs, rhs, out *tensors.Tensor) error { return b.binary(opDiv, lhs, rhs, out) }

// broadcastMap maps a flat index of the output to the flat index of an operand.
type broadcastMap struct {
	full, unit bool
	outDims    []int
	strides    []int // Operand stride per output axis, 0 for broadcast axes.
}

func newBroadcastMap(operand, out shapes.Shape) broadcastMap {
	if operand.EqualDimensions(out) {
		return broadcastMap{full: true}
	}
	if operand.IsUnitExtent() {
		return broadcastMap{unit: true}
	}
	m := broadcastMap{outDims: out.Dimensions, strides: operand.Strides()}
	for axis, dim := range operand.Dimensions {
		if dim == 1 {
			m.strides[axis] = 0
		}
	}
	return m
}

func (m broadcastMap) index(outIdx int) int {
	if m.full {
		return outIdx
	}
	if m.unit {
		return 0
	}
	idx := 0
	for axis := len(m.outDims) - 1; axis >= 0; axis-- {
		dim := m.outDims[axis]
		idx += (outIdx % dim) * m.strides[axis]
		outIdx /= dim
	}
	return idx
}

// operandFlat returns the flat values of an operand as []T, checking shape and device compatibility with out.
// Unit-extent operands may be on any device and of any dtype, they are read back and converted.
func operandFlat[T tensors.Float](name string, operand, out *tensors.Tensor) ([]T, error) {
	if operand.Shape().IsUnitExtent() {
		value, err := tensors.ToScalar[T](operand)
		if err != nil {
			return nil, status.DependencyFailuref("%s: reading unit-extent operand: %v", name, err)
		}
		return []T{value}, nil
	}
	if operand.Device() != out.Device() {
		return nil, status.DependencyFailuref("%s: operand %s is on device %s, but output is on device %s",
			name, operand.Shape(), operand.Device(), out.Device())
	}
	if operand.DType() != out.DType() {
		return nil, status.InvalidValuef("%s: operand dtype %s doesn't match output dtype %s",
			name, operand.DType(), out.DType())
	}
	if !shapes.CanBroadcastTo(operand.Shape(), out.Shape()) {
		return nil, status.InvalidValuef("%s: operand shape %s cannot be broadcast to output shape %s",
			name, operand.Shape(), out.Shape())
	}
	if out.DType() == dtypes.Float16 {
		// Float16 is computed in float32.
		values, err := tensors.CopyFlatData[T](operand)
		if err != nil {
			return nil, status.DependencyFailuref("%s: %v", name, err)
		}
		return values, nil
	}
	flat, err := operand.Flat()
	if err != nil {
		return nil, status.DependencyFailuref("%s: %v", name, err)
	}
	return flat.([]T), nil
}

func (b *Backend) binary(op binaryOp, lhs, rhs, out *tensors.Tensor) error {
	if err := b.checkDevice(out.Device()); err != nil {
		return errors.WithMessagef(err, "simplego.%s", op)
	}
	if _, err := shapes.Broadcast(lhs.Shape().WithDType(out.DType()), rhs.Shape().WithDType(out.DType())); err != nil {
		return status.InvalidValuef("simplego.%s: %v", op, err)
	}
	klog.V(3).Infof("simplego.%s(%s, %s) -> %s", op, lhs.Shape(), rhs.Shape(), out.Shape())
	switch out.DType() {
	case dtypes.Float32:
		return execBinary[float32](b, op, lhs, rhs, out)
	case dtypes.Float64:
		return execBinary[float64](b, op, lhs, rhs, out)
	case dtypes.Float16:
		return execBinary[float32](b, op, lhs, rhs, out)
	default:
		return status.InvalidValuef("simplego.%s: dtype %s not supported", op, out.DType())
	}
}

// execBinary runs the binary op with values of type T. If out is Float16, T is float32 and the result is
// converted back.
func execBinary[T float32 | float64](b *Backend, op binaryOp, lhs, rhs, out *tensors.Tensor) error {
	name := "simplego." + op.String()
	lhsFlat, err := operandFlat[T](name, lhs, out)
	if err != nil {
		return err
	}
	rhsFlat, err := operandFlat[T](name, rhs, out)
	if err != nil {
		return err
	}
	outFlat, commit, err := outputFlat[T](out)
	if err != nil {
		return errors.WithMessagef(err, "%s", name)
	}
	lhsMap, rhsMap := newBroadcastMap(lhs.Shape(), out.Shape()), newBroadcastMap(rhs.Shape(), out.Shape())
	fn := binaryFn[T](op)
	err = exceptions.TryCatch[error](func() {
		b.workers.ParallelFor(len(outFlat), minParallelChunk, func(start, end int) {
			for ii := start; ii < end; ii++ {
				outFlat[ii] = fn(lhsFlat[lhsMap.index(ii)], rhsFlat[rhsMap.index(ii)])
			}
		})
	})
	if err != nil {
		return status.DependencyFailuref("%s: %v", name, err)
	}
	return commit()
}

// outputFlat returns the slice where to write the results for out, and a commit function to call after they are
// written. For Float16 outputs the slice is a float32 scratch buffer, converted on commit.
func outputFlat[T float32 | float64](out *tensors.Tensor) (flat []T, commit func() error, err error) {
	if out.DType() == dtypes.Float16 {
		scratch := make([]T, out.Size())
		return scratch, func() error { return tensors.AssignFlatData(out, scratch) }, nil
	}
	outAny, err := out.Flat()
	if err != nil {
		return nil, nil, status.DependencyFailuref("output: %v", err)
	}
	return outAny.([]T), func() error { return nil }, nil
}

// Clamp implements backends.Ops.
func (b *Backend) Clamp(x *tensors.Tensor, lo, hi float64, out *tensors.Tensor) error {
	if lo > hi || math.IsNaN(lo) || math.IsNaN(hi) {
		return status.InvalidValuef("simplego.Clamp: invalid range [%g, %g]", lo, hi)
	}
	if err := b.checkDevice(out.Device()); err != nil {
		return errors.WithMessagef(err, "simplego.Clamp")
	}
	switch out.DType() {
	case dtypes.Float32, dtypes.Float16:
		return execClamp[float32](b, x, lo, hi, out)
	case dtypes.Float64:
		return execClamp[float64](b, x, lo, hi, out)
	default:
		return status.InvalidValuef("simplego.Clamp: dtype %s not supported", out.DType())
	}
}

func execClamp[T float32 | float64](b *Backend, x *tensors.Tensor, lo, hi float64, out *tensors.Tensor) error {
	xFlat, err := operandFlat[T]("simplego.Clamp", x, out)
	if err != nil {
		return err
	}
	outFlat, commit, err := outputFlat[T](out)
	if err != nil {
		return errors.WithMessagef(err, "simplego.Clamp")
	}
	xMap := newBroadcastMap(x.Shape(), out.Shape())
	loT, hiT := T(lo), T(hi)
	b.workers.ParallelFor(len(outFlat), minParallelChunk, func(start, end int) {
		for ii := start; ii < end; ii++ {
			outFlat[ii] = min(max(xFlat[xMap.index(ii)], loT), hiT)
		}
	})
	return commit()
}

// checkSameDevice validates that all tensors are on the device of out, with the same dtype.
func (b *Backend) checkSameDevice(name string, out *tensors.Tensor, inputs []*tensors.Tensor) error {
	if err := b.checkDevice(out.Device()); err != nil {
		return errors.WithMessagef(err, "%s", name)
	}
	for ii, input := range inputs {
		if input.Device() != out.Device() {
			return status.DependencyFailuref("%s: input #%d is on device %s, but output is on device %s",
				name, ii, input.Device(), out.Device())
		}
		if input.DType() != out.DType() {
			return status.InvalidValuef("%s: input #%d dtype %s doesn't match output dtype %s",
				name, ii, input.DType(), out.DType())
		}
	}
	return nil
}

// blockSizes returns the number of outer blocks (product of dimensions before axis) and the size of each input's
// block along axis (product of dimensions from axis on).
func blockSizes(axis int, parts []*tensors.Tensor) (outer int, blocks []int) {
	outer = 1
	for _, dim := range parts[0].Shape().Dimensions[:axis] {
		outer *= dim
	}
	blocks = make([]int, len(parts))
	for ii, part := range parts {
		blocks[ii] = part.Size() / outer
	}
	return
}

func normalizeAxis(name string, axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, status.InvalidValuef("%s: axis out of bounds for rank %d", name, rank)
	}
	return axis, nil
}

// Concat implements backends.Ops.
func (b *Backend) Concat(axis int, out *tensors.Tensor, inputs ...*tensors.Tensor) error {
	const name = "simplego.Concat"
	if len(inputs) == 0 {
		return status.InvalidValuef("%s: no inputs", name)
	}
	if err := b.checkSameDevice(name, out, inputs); err != nil {
		return err
	}
	axis, err := normalizeAxis(name, axis, out.Rank())
	if err != nil {
		return err
	}
	inputShapes := make([]shapes.Shape, len(inputs))
	for ii, input := range inputs {
		inputShapes[ii] = input.Shape()
	}
	want, err := shapes.Concatenate(axis, inputShapes...)
	if err != nil {
		return status.InvalidValuef("%s: %v", name, err)
	}
	if !want.Equal(out.Shape()) {
		return status.InvalidValuef("%s: output shape %s doesn't match concatenated shape %s", name, out.Shape(), want)
	}
	if len(inputs) == 1 {
		return inputs[0].CopyTo(out)
	}
	outer, blocks := blockSizes(axis, inputs)
	outAny, err := out.Flat()
	if err != nil {
		return status.DependencyFailuref("%s: %v", name, err)
	}
	flats := make([]any, len(inputs))
	for ii, input := range inputs {
		if flats[ii], err = input.Flat(); err != nil {
			return status.DependencyFailuref("%s: input #%d: %v", name, ii, err)
		}
	}
	switch outFlat := outAny.(type) {
	case []float16.Float16:
		concatFlat(outFlat, flats, outer, blocks)
	case []float32:
		concatFlat(outFlat, flats, outer, blocks)
	case []float64:
		concatFlat(outFlat, flats, outer, blocks)
	}
	return nil
}

func concatFlat[T tensors.Float](out []T, inputs []any, outer int, blocks []int) {
	pos := 0
	for o := range outer {
		for ii, input := range inputs {
			block := blocks[ii]
			pos += copy(out[pos:pos+block], input.([]T)[o*block:(o+1)*block])
		}
	}
}

// Split implements backends.Ops.
func (b *Backend) Split(x *tensors.Tensor, axis int, outputs ...*tensors.Tensor) error {
	const name = "simplego.Split"
	if len(outputs) == 0 {
		return status.InvalidValuef("%s: no outputs", name)
	}
	if err := b.checkSameDevice(name, x, outputs); err != nil {
		return err
	}
	axis, err := normalizeAxis(name, axis, x.Rank())
	if err != nil {
		return err
	}
	outputShapes := make([]shapes.Shape, len(outputs))
	for ii, output := range outputs {
		outputShapes[ii] = output.Shape()
	}
	want, err := shapes.Concatenate(axis, outputShapes...)
	if err != nil {
		return status.InvalidValuef("%s: %v", name, err)
	}
	if !want.Equal(x.Shape()) {
		return status.InvalidValuef("%s: outputs concatenated shape %s doesn't match input shape %s",
			name, want, x.Shape())
	}
	if len(outputs) == 1 {
		return x.CopyTo(outputs[0])
	}
	outer, blocks := blockSizes(axis, outputs)
	xAny, err := x.Flat()
	if err != nil {
		return status.DependencyFailuref("%s: %v", name, err)
	}
	flats := make([]any, len(outputs))
	for ii, output := range outputs {
		if flats[ii], err = output.Flat(); err != nil {
			return status.DependencyFailuref("%s: output #%d: %v", name, ii, err)
		}
	}
	switch xFlat := xAny.(type) {
	case []float16.Float16:
		splitFlat(xFlat, flats, outer, blocks)
	case []float32:
		splitFlat(xFlat, flats, outer, blocks)
	case []float64:
		splitFlat(xFlat, flats, outer, blocks)
	}
	return nil
}

func splitFlat[T tensors.Float](x []T, outputs []any, outer int, blocks []int) {
	pos := 0
	for o := range outer {
		for ii, output := range outputs {
			block := blocks[ii]
			pos += copy(output.([]T)[o*block:(o+1)*block], x[pos:pos+block])
		}
	}
}

// RandomNormal implements backends.Ops. Values are drawn sequentially, so results are reproducible for a seeded rng.
func (b *Backend) RandomNormal(rng *rand.Rand, out *tensors.Tensor) error {
	if rng == nil {
		return status.InvalidValuef("simplego.RandomNormal: nil random number generator")
	}
	if err := b.checkDevice(out.Device()); err != nil {
		return errors.WithMessagef(err, "simplego.RandomNormal")
	}
	values := make([]float64, out.Size())
	for ii := range values {
		values[ii] = rng.NormFloat64()
	}
	if err := tensors.AssignFlatData(out, values); err != nil {
		return status.DependencyFailuref("simplego.RandomNormal: %v", err)
	}
	return nil
}
