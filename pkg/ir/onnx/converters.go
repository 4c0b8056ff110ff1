// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package onnx

import (
	"github.com/gomlx/deploy/pkg/ir"
	"github.com/pkg/errors"
)

// Converter converts an ONNX node to an operation descriptor.
type Converter interface {
	Convert(node *NodeProto) (*ir.OpDesc, error)
}

// ConverterFunc adapts a function to a Converter.
type ConverterFunc func(node *NodeProto) (*ir.OpDesc, error)

// Convert implements Converter.
func (fn ConverterFunc) Convert(node *NodeProto) (*ir.OpDesc, error) { return fn(node) }

// newOpDesc creates the OpDesc for node with the default parameters of opType, copying name, inputs and outputs.
func newOpDesc(node *NodeProto, opType ir.OpType) *ir.OpDesc {
	op := ir.NewOpDesc(node.Name, opType)
	op.Inputs = append([]string(nil), node.Input...)
	op.Outputs = append([]string(nil), node.Output...)
	return op
}

// attributes reads attributes of a node, keeping the first error. Missing attributes return the given default.
type attributes struct {
	node *NodeProto
	err  error
}

func (a *attributes) Int(name string, defaultValue int) int {
	v, err := AttributeInt(a.node, name, defaultValue)
	a.keep(err)
	return v
}

func (a *attributes) Bool(name string, defaultValue bool) bool {
	v, err := AttributeBool(a.node, name, defaultValue)
	a.keep(err)
	return v
}

func (a *attributes) Float(name string, defaultValue float32) float32 {
	v, err := AttributeFloat(a.node, name, defaultValue)
	a.keep(err)
	return v
}

func (a *attributes) String(name string, defaultValue string) string {
	v, err := AttributeString(a.node, name, defaultValue)
	a.keep(err)
	return v
}

func (a *attributes) Ints(name string) []int {
	v, err := AttributeInts(a.node, name)
	a.keep(err)
	return v
}

func (a *attributes) keep(err error) {
	if a.err == nil && err != nil {
		a.err = err
	}
}

// convertWith returns a Converter for opType that fills the parameters with setParams.
func convertWith[P ir.OpParam](opType ir.OpType, setParams func(p P, attrs *attributes)) Converter {
	return ConverterFunc(func(node *NodeProto) (*ir.OpDesc, error) {
		op := newOpDesc(node, opType)
		param, err := ir.ParamAs[P](op)
		if err != nil {
			return nil, errors.WithMessagef(err, "converting %s", opType)
		}
		attrs := &attributes{node: node}
		setParams(param, attrs)
		if attrs.err != nil {
			return nil, attrs.err
		}
		return op, nil
	})
}

// convertNoParams returns a Converter for operations without attributes.
func convertNoParams(opType ir.OpType) Converter {
	return ConverterFunc(func(node *NodeProto) (*ir.OpDesc, error) {
		return newOpDesc(node, opType), nil
	})
}

var (
	convertMaxPool = convertWith(ir.OpTypeMaxPool, func(p *ir.MaxPoolParam, attrs *attributes) {
		p.AutoPad = attrs.String("auto_pad", "NOTSET")
		p.CeilMode = attrs.Bool("ceil_mode", false)
		p.Dilations = attrs.Ints("dilations")
		p.KernelShape = attrs.Ints("kernel_shape")
		p.Pads = attrs.Ints("pads")
		p.StorageOrder = attrs.Int("storage_order", 0)
		p.Strides = attrs.Ints("strides")
	})

	convertConv = convertWith(ir.OpTypeConv, func(p *ir.ConvParam, attrs *attributes) {
		p.AutoPad = attrs.String("auto_pad", "NOTSET")
		p.Dilations = attrs.Ints("dilations")
		p.Group = attrs.Int("group", 1)
		p.KernelShape = attrs.Ints("kernel_shape")
		p.Pads = attrs.Ints("pads")
		p.Strides = attrs.Ints("strides")
	})

	convertBatchNormalization = convertWith(ir.OpTypeBatchNormalization,
		func(p *ir.BatchNormalizationParam, attrs *attributes) {
			p.Epsilon = attrs.Float("epsilon", 1e-5)
			p.Momentum = attrs.Float("momentum", 0.9)
			p.TrainingMode = attrs.Bool("training_mode", false)
		})

	convertConcat = convertWith(ir.OpTypeConcat, func(p *ir.ConcatParam, attrs *attributes) {
		p.Axis = attrs.Int("axis", 0)
	})

	convertSplit = convertWith(ir.OpTypeSplit, func(p *ir.SplitParam, attrs *attributes) {
		p.Axis = attrs.Int("axis", 0)
		p.NumOutputs = attrs.Int("num_outputs", len(attrs.node.Output))
	})

	convertSoftmax = convertWith(ir.OpTypeSoftmax, func(p *ir.SoftmaxParam, attrs *attributes) {
		p.Axis = attrs.Int("axis", -1)
	})

	convertReshape = convertWith(ir.OpTypeReshape, func(p *ir.ReshapeParam, attrs *attributes) {
		p.AllowZero = attrs.Bool("allowzero", false)
	})

	convertFlatten = convertWith(ir.OpTypeFlatten, func(p *ir.FlattenParam, attrs *attributes) {
		p.Axis = attrs.Int("axis", 1)
	})

	convertTranspose = convertWith(ir.OpTypeTranspose, func(p *ir.TransposeParam, attrs *attributes) {
		p.Perm = attrs.Ints("perm")
	})

	convertResize = convertWith(ir.OpTypeResize, func(p *ir.ResizeParam, attrs *attributes) {
		p.Antialias = attrs.Bool("antialias", false)
		p.Axes = attrs.Ints("axes")
		p.CoordinateTransformationMode = attrs.String("coordinate_transformation_mode", "half_pixel")
		p.CubicCoeffA = attrs.Float("cubic_coeff_a", -0.75)
		p.ExcludeOutside = attrs.Bool("exclude_outside", false)
		p.ExtrapolationValue = attrs.Float("extrapolation_value", 0)
		p.KeepAspectRatioPolicy = attrs.String("keep_aspect_ratio_policy", "stretch")
		p.Mode = attrs.String("mode", "nearest")
		p.NearestMode = attrs.String("nearest_mode", "round_prefer_floor")
	})

	convertGemm = convertWith(ir.OpTypeGemm, func(p *ir.GemmParam, attrs *attributes) {
		p.Alpha = attrs.Float("alpha", 1)
		p.Beta = attrs.Float("beta", 1)
		p.TransA = attrs.Bool("transA", false)
		p.TransB = attrs.Bool("transB", false)
	})

	convertLayerNorm = convertWith(ir.OpTypeLayerNorm, func(p *ir.NormalizationParam, attrs *attributes) {
		p.Axis = attrs.Int("axis", -1)
		p.Epsilon = attrs.Float("epsilon", 1e-5)
	})

	convertRMSNorm = convertWith(ir.OpTypeRMSNorm, func(p *ir.NormalizationParam, attrs *attributes) {
		p.Axis = attrs.Int("axis", -1)
		p.Epsilon = attrs.Float("epsilon", 1e-5)
		p.IsLast = attrs.Bool("is_last", false)
	})

	// Clip takes min and max as inputs since opset 11: the attributes are only set by older models.
	convertClip = convertWith(ir.OpTypeClip, func(p *ir.ClipParam, attrs *attributes) {
		p.Min = attrs.Float("min", p.Min)
		p.Max = attrs.Float("max", p.Max)
	})
)
