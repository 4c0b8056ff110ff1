// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

// OpType identifies an operation of the intermediate representation.
// The string values are the ONNX operator names.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -json -text -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota
	OpTypeAdd
	OpTypeSub
	OpTypeMul
	OpTypeDiv
	OpTypeRelu
	OpTypeSigmoid
	OpTypeSoftmax
	OpTypeConcat
	OpTypeSplit
	OpTypeConv
	OpTypeMaxPool
	OpTypeGlobalAveragePool
	OpTypeBatchNormalization
	OpTypeReshape
	OpTypeFlatten
	OpTypeTranspose
	OpTypeResize
	OpTypeMatMul
	OpTypeGemm
	OpTypeLayerNorm
	OpTypeRMSNorm
	OpTypeAttention
	OpTypeClip
)
