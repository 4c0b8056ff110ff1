// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package onnx converts ONNX graph nodes to the intermediate representation of package ir.
//
// Each ONNX operator type is handled by a Converter, registered by operator name in a Registry. The registry is
// populated explicitly (RegisterConverters) and sealed before use, so there is no dependency on package
// initialization order:
//
//	r := onnx.NewRegistry()  // Built-in converters, sealed.
//	model, err := onnx.Interpret(r, "unet", graph.Node)
//
// Programs adding their own converters build the registry themselves:
//
//	r := registry.New[string, onnx.Converter]("onnx")
//	err := onnx.RegisterConverters(r)
//	err = r.Register("MyOp", func() (onnx.Converter, error) { return myConverter, nil })
//	r.Seal()
package onnx

import (
	"github.com/gomlx/deploy/pkg/core/registry"
	"github.com/gomlx/deploy/pkg/ir"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Registry of converters, keyed by ONNX operator type (e.g. "MaxPool").
type Registry = registry.Registry[string, Converter]

// builtinConverters maps the ONNX operator types to their converters.
var builtinConverters = []struct {
	opType    string
	converter Converter
}{
	{"Add", convertNoParams(ir.OpTypeAdd)},
	{"Sub", convertNoParams(ir.OpTypeSub)},
	{"Mul", convertNoParams(ir.OpTypeMul)},
	{"Div", convertNoParams(ir.OpTypeDiv)},
	{"Relu", convertNoParams(ir.OpTypeRelu)},
	{"Sigmoid", convertNoParams(ir.OpTypeSigmoid)},
	{"MatMul", convertNoParams(ir.OpTypeMatMul)},
	{"GlobalAveragePool", convertNoParams(ir.OpTypeGlobalAveragePool)},
	{"Attention", convertNoParams(ir.OpTypeAttention)},
	{"Softmax", convertSoftmax},
	{"Concat", convertConcat},
	{"Split", convertSplit},
	{"Conv", convertConv},
	{"MaxPool", convertMaxPool},
	{"BatchNormalization", convertBatchNormalization},
	{"Reshape", convertReshape},
	{"Flatten", convertFlatten},
	{"Transpose", convertTranspose},
	{"Resize", convertResize},
	{"Gemm", convertGemm},
	{"LayerNormalization", convertLayerNorm},
	{"SimplifiedLayerNormalization", convertRMSNorm},
	{"RMSNormalization", convertRMSNorm},
	{"Clip", convertClip},
}

// RegisterConverters registers the built-in converters in r. It fails if any of the operator types is already
// registered.
func RegisterConverters(r *Registry) error {
	for _, builtin := range builtinConverters {
		converter := builtin.converter
		err := r.Register(builtin.opType, func() (Converter, error) { return converter, nil })
		if err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a sealed registry with the built-in converters.
func NewRegistry() *Registry {
	r := registry.New[string, Converter]("onnx")
	if err := RegisterConverters(r); err != nil {
		// Registration in a new registry can't fail.
		exceptions.Panicf("onnx: registering built-in converters: %+v", err)
	}
	r.Seal()
	return r
}

// Interpret converts the nodes of a graph (in topological order) to a model description.
//
// It fails on the first node that can't be converted: an operator type without converter fails with
// status.ErrNotFound, naming the operator.
func Interpret(r *Registry, name string, nodes []*NodeProto) (*ir.ModelDesc, error) {
	model := &ir.ModelDesc{Name: name, Ops: make([]*ir.OpDesc, 0, len(nodes))}
	for ii, node := range nodes {
		converter, err := r.Create(node.OpType)
		if err != nil {
			return nil, errors.WithMessagef(err, "model %q: node #%d %q has unsupported operator %q", name, ii,
				node.Name, node.OpType)
		}
		op, err := converter.Convert(node)
		if err != nil {
			return nil, errors.WithMessagef(err, "model %q: converting node #%d %q (%s)", name, ii, node.Name,
				node.OpType)
		}
		model.Ops = append(model.Ops, op)
	}
	klog.V(1).Infof("onnx: interpreted model %q with %d ops", name, len(model.Ops))
	return model, nil
}
