// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"math"

	"github.com/gomlx/deploy/pkg/support/status"
)

// OpParam holds the static parameters (attributes) of an operation. It's a closed set: the implementations are the
// *Param types in this package, one per operation kind that takes parameters.
//
// Use ParamAs to access the concrete type.
type OpParam interface {
	// OpTypes returns the operation types this parameter kind applies to.
	OpTypes() []OpType

	opParam()
}

// BatchNormalizationParam for OpTypeBatchNormalization.
type BatchNormalizationParam struct {
	Epsilon      float32
	Momentum     float32
	TrainingMode bool
}

// ConcatParam for OpTypeConcat.
type ConcatParam struct {
	Axis int
}

// SplitParam for OpTypeSplit.
type SplitParam struct {
	Axis       int
	NumOutputs int
}

// ConvParam for OpTypeConv.
type ConvParam struct {
	AutoPad     string
	Dilations   []int
	Group       int
	KernelShape []int
	Pads        []int
	Strides     []int
}

// MaxPoolParam for OpTypeMaxPool.
type MaxPoolParam struct {
	AutoPad      string
	CeilMode     bool
	Dilations    []int
	KernelShape  []int
	Pads         []int
	StorageOrder int
	Strides      []int
}

// ReshapeParam for OpTypeReshape.
type ReshapeParam struct {
	AllowZero bool
}

// FlattenParam for OpTypeFlatten.
type FlattenParam struct {
	Axis int
}

// TransposeParam for OpTypeTranspose. An empty Perm reverses the axes.
type TransposeParam struct {
	Perm []int
}

// ResizeParam for OpTypeResize.
type ResizeParam struct {
	Antialias                    bool
	Axes                         []int
	CoordinateTransformationMode string
	CubicCoeffA                  float32
	ExcludeOutside               bool
	ExtrapolationValue           float32
	KeepAspectRatioPolicy        string
	Mode                         string
	NearestMode                  string
}

// SoftmaxParam for OpTypeSoftmax.
type SoftmaxParam struct {
	Axis int
}

// GemmParam for OpTypeGemm: Y = Alpha * A' * B' + Beta * C.
type GemmParam struct {
	Alpha, Beta    float32
	TransA, TransB bool
}

// NormalizationParam for OpTypeLayerNorm and OpTypeRMSNorm.
type NormalizationParam struct {
	Axis    int
	Epsilon float32

	// IsLast marks the last normalization of a transformer stack (RMSNorm only).
	IsLast bool
}

// ClipParam for OpTypeClip.
type ClipParam struct {
	Min, Max float32
}

func (*BatchNormalizationParam) opParam() {}
func (*ConcatParam) opParam()             {}
func (*SplitParam) opParam()              {}
func (*ConvParam) opParam()               {}
func (*MaxPoolParam) opParam()            {}
func (*ReshapeParam) opParam()            {}
func (*FlattenParam) opParam()            {}
func (*TransposeParam) opParam()          {}
func (*ResizeParam) opParam()             {}
func (*SoftmaxParam) opParam()            {}
func (*GemmParam) opParam()               {}
func (*NormalizationParam) opParam()      {}
func (*ClipParam) opParam()               {}

func (*BatchNormalizationParam) OpTypes() []OpType { return []OpType{OpTypeBatchNormalization} }
func (*ConcatParam) OpTypes() []OpType             { return []OpType{OpTypeConcat} }
func (*SplitParam) OpTypes() []OpType              { return []OpType{OpTypeSplit} }
func (*ConvParam) OpTypes() []OpType               { return []OpType{OpTypeConv} }
func (*MaxPoolParam) OpTypes() []OpType            { return []OpType{OpTypeMaxPool} }
func (*ReshapeParam) OpTypes() []OpType            { return []OpType{OpTypeReshape} }
func (*FlattenParam) OpTypes() []OpType            { return []OpType{OpTypeFlatten} }
func (*TransposeParam) OpTypes() []OpType          { return []OpType{OpTypeTranspose} }
func (*ResizeParam) OpTypes() []OpType             { return []OpType{OpTypeResize} }
func (*SoftmaxParam) OpTypes() []OpType            { return []OpType{OpTypeSoftmax} }
func (*GemmParam) OpTypes() []OpType               { return []OpType{OpTypeGemm} }
func (*NormalizationParam) OpTypes() []OpType      { return []OpType{OpTypeLayerNorm, OpTypeRMSNorm} }
func (*ClipParam) OpTypes() []OpType               { return []OpType{OpTypeClip} }

// NewOpParam returns the parameters of opType with their default values (the ONNX defaults), or nil for operations
// that don't take parameters.
func NewOpParam(opType OpType) OpParam {
	switch opType {
	case OpTypeBatchNormalization:
		return &BatchNormalizationParam{Epsilon: 1e-5, Momentum: 0.9}
	case OpTypeConcat:
		return &ConcatParam{}
	case OpTypeSplit:
		return &SplitParam{}
	case OpTypeConv:
		return &ConvParam{AutoPad: "NOTSET", Group: 1}
	case OpTypeMaxPool:
		return &MaxPoolParam{AutoPad: "NOTSET"}
	case OpTypeReshape:
		return &ReshapeParam{}
	case OpTypeFlatten:
		return &FlattenParam{Axis: 1}
	case OpTypeTranspose:
		return &TransposeParam{}
	case OpTypeResize:
		return &ResizeParam{
			CoordinateTransformationMode: "half_pixel",
			CubicCoeffA:                  -0.75,
			KeepAspectRatioPolicy:        "stretch",
			Mode:                         "nearest",
			NearestMode:                  "round_prefer_floor",
		}
	case OpTypeSoftmax:
		return &SoftmaxParam{Axis: -1}
	case OpTypeGemm:
		return &GemmParam{Alpha: 1, Beta: 1}
	case OpTypeLayerNorm, OpTypeRMSNorm:
		return &NormalizationParam{Axis: -1, Epsilon: 1e-5}
	case OpTypeClip:
		return &ClipParam{Min: -math.MaxFloat32, Max: math.MaxFloat32}
	default:
		return nil
	}
}

// ParamAs returns the parameters of op as the concrete type P.
// It fails with status.ErrInvalidValue if op has no parameters or if they are of a different kind.
func ParamAs[P OpParam](op *OpDesc) (P, error) {
	var zero P
	if op == nil || op.Param == nil {
		return zero, status.InvalidValuef("op has no parameters, wanted %T", zero)
	}
	p, ok := op.Param.(P)
	if !ok {
		return zero, status.InvalidValuef("op %q (%s) has parameters of type %T, not %T", op.Name, op.Type, op.Param, zero)
	}
	return p, nil
}
