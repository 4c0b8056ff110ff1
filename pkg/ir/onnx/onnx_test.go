// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package onnx

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gomlx/deploy/pkg/core/registry"
	"github.com/gomlx/deploy/pkg/ir"
	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intsAttr(name string, values ...int64) *AttributeProto {
	return &AttributeProto{Name: name, Type: AttributeTypeInts, Ints: values}
}

func TestMaxPool(t *testing.T) {
	r := NewRegistry()
	node := &NodeProto{
		Name:   "pool1",
		OpType: "MaxPool",
		Input:  []string{"x"},
		Output: []string{"y"},
		Attribute: []*AttributeProto{
			intsAttr("kernel_shape", 3, 3),
			intsAttr("strides", 2, 2),
			intsAttr("pads", 1, 1, 1, 1),
			intsAttr("dilations", 1, 2),
			{Name: "ceil_mode", Type: AttributeTypeInt, I: 1},
		},
	}
	model, err := Interpret(r, "test", []*NodeProto{node})
	require.NoError(t, err)
	require.Len(t, model.Ops, 1)
	op := model.Ops[0]
	assert.Equal(t, ir.OpTypeMaxPool, op.Type)
	assert.Equal(t, []string{"x"}, op.Inputs)
	assert.Equal(t, []string{"y"}, op.Outputs)

	param, err := ir.ParamAs[*ir.MaxPoolParam](op)
	require.NoError(t, err)
	assert.Equal(t, "NOTSET", param.AutoPad)
	assert.True(t, param.CeilMode)
	assert.Equal(t, 0, param.StorageOrder)
	assert.Equal(t, []int{3, 3}, param.KernelShape)
	assert.Equal(t, []int{2, 2}, param.Strides)
	assert.Equal(t, []int{1, 1, 1, 1}, param.Pads)
	assert.Equal(t, []int{1, 2}, param.Dilations, "dilations must be kept")

	// Wrong typed access is an error, not a crash.
	_, err = ir.ParamAs[*ir.ConvParam](op)
	require.ErrorIs(t, err, status.ErrInvalidValue)
}

func TestDefaults(t *testing.T) {
	r := NewRegistry()
	model := must.M1(Interpret(r, "defaults", []*NodeProto{
		{Name: "conv", OpType: "Conv"},
		{Name: "softmax", OpType: "Softmax"},
		{Name: "gemm", OpType: "Gemm", Attribute: []*AttributeProto{{Name: "transB", Type: AttributeTypeInt, I: 1}}},
		{Name: "resize", OpType: "Resize"},
		{Name: "clip", OpType: "Clip"},
		{Name: "norm", OpType: "SimplifiedLayerNormalization",
			Attribute: []*AttributeProto{{Name: "epsilon", Type: AttributeTypeFloat, F: 1e-6}}},
		{Name: "relu", OpType: "Relu"},
		{Name: "split", OpType: "Split", Output: []string{"a", "b", "c"}},
	}))

	conv := must.M1(ir.ParamAs[*ir.ConvParam](must.M1(model.Op("conv"))))
	assert.Equal(t, 1, conv.Group)
	assert.Equal(t, "NOTSET", conv.AutoPad)
	assert.Equal(t, -1, must.M1(ir.ParamAs[*ir.SoftmaxParam](must.M1(model.Op("softmax")))).Axis)

	gemm := must.M1(ir.ParamAs[*ir.GemmParam](must.M1(model.Op("gemm"))))
	assert.Equal(t, ir.GemmParam{Alpha: 1, Beta: 1, TransB: true}, *gemm)

	resize := must.M1(ir.ParamAs[*ir.ResizeParam](must.M1(model.Op("resize"))))
	assert.Equal(t, "half_pixel", resize.CoordinateTransformationMode)
	assert.Equal(t, float32(-0.75), resize.CubicCoeffA)

	clip := must.M1(ir.ParamAs[*ir.ClipParam](must.M1(model.Op("clip"))))
	assert.Equal(t, float32(math.MaxFloat32), clip.Max)

	norm := must.M1(model.Op("norm"))
	assert.Equal(t, ir.OpTypeRMSNorm, norm.Type)
	assert.Equal(t, float32(1e-6), must.M1(ir.ParamAs[*ir.NormalizationParam](norm)).Epsilon)

	relu := must.M1(model.Op("relu"))
	assert.Nil(t, relu.Param)
	_, err := ir.ParamAs[*ir.SoftmaxParam](relu)
	require.ErrorIs(t, err, status.ErrInvalidValue)

	assert.Equal(t, 3, must.M1(ir.ParamAs[*ir.SplitParam](must.M1(model.Op("split")))).NumOutputs)
	assert.Equal(t, 1, model.CountOps()[ir.OpTypeConv])

	_, err = model.Op("missing")
	require.ErrorIs(t, err, status.ErrNotFound)
}

func TestInterpretErrors(t *testing.T) {
	r := NewRegistry()
	_, err := Interpret(r, "bad", []*NodeProto{{Name: "n0", OpType: "Relu"}, {Name: "n1", OpType: "FancyOp"}})
	require.ErrorIs(t, err, status.ErrNotFound)
	assert.Contains(t, err.Error(), "FancyOp")

	// Attribute with the wrong type.
	_, err = Interpret(r, "bad", []*NodeProto{{
		Name: "concat", OpType: "Concat",
		Attribute: []*AttributeProto{{Name: "axis", Type: AttributeTypeFloat, F: 1}},
	}})
	require.ErrorIs(t, err, status.ErrInvalidValue)
}

func TestRegistration(t *testing.T) {
	r := registry.New[string, Converter]("custom")
	require.NoError(t, RegisterConverters(r))
	require.ErrorIs(t, RegisterConverters(r), status.ErrDuplicate)

	// Lookups wait for Seal.
	_, err := Interpret(r, "early", []*NodeProto{{Name: "relu", OpType: "Relu"}})
	require.ErrorIs(t, err, status.ErrNotReady)

	custom := ConverterFunc(func(node *NodeProto) (*ir.OpDesc, error) {
		return newOpDesc(node, ir.OpTypeAttention), nil
	})
	require.NoError(t, r.Register("MultiHeadAttention", func() (Converter, error) { return custom, nil }))
	r.Seal()
	require.ErrorIs(t, r.Register("Late", func() (Converter, error) { return custom, nil }), status.ErrNotReady)

	// Concurrent conversions once sealed.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			model, err := Interpret(r, "concurrent", []*NodeProto{
				{Name: "mha", OpType: "MultiHeadAttention"},
				{Name: "pool", OpType: "MaxPool"},
			})
			assert.NoError(t, err)
			if err == nil {
				assert.Equal(t, ir.OpTypeAttention, model.Ops[0].Type)
			}
		}()
	}
	wg.Wait()
}

func TestLoadGraphJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"name": "tiny",
		"node": [
			{"name": "conv0", "opType": "Conv", "input": ["x", "w"], "output": ["h"],
			 "attribute": [{"name": "kernel_shape", "type": 7, "ints": [3, 3]}, {"name": "group", "type": 2, "i": 2}]},
			{"name": "act0", "opType": "Relu", "input": ["h"], "output": ["y"]}
		],
		"initializer": []
	}`), 0o644))
	graph, err := LoadGraphJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny", graph.Name)
	model := must.M1(Interpret(NewRegistry(), graph.Name, graph.Node))
	require.Len(t, model.Ops, 2)
	conv := must.M1(ir.ParamAs[*ir.ConvParam](model.Ops[0]))
	assert.Equal(t, []int{3, 3}, conv.KernelShape)
	assert.Equal(t, 2, conv.Group)
	assert.Equal(t, `Relu "act0"(h) -> (y)`, model.Ops[1].String())

	_, err = ParseGraphJSON([]byte(`{"node": 3}`))
	require.ErrorIs(t, err, status.ErrInvalidValue)
}

func TestParseGraphJSONProtojson(t *testing.T) {
	// ModelProto as written by protojson: enum names, quoted int64 and base64 bytes.
	graph, err := ParseGraphJSON([]byte(`{
		"irVersion": "8",
		"graph": {
			"name": "pooled",
			"node": [{
				"name": "pool0", "opType": "MaxPool", "input": ["x"], "output": ["y"],
				"attribute": [
					{"name": "kernel_shape", "type": "INTS", "ints": ["3", "3"]},
					{"name": "strides", "type": "INTS", "ints": [2, "2"]},
					{"name": "ceil_mode", "type": "INT", "i": "1"},
					{"name": "auto_pad", "type": "STRING", "s": "U0FNRV9VUFBFUg=="}
				]
			}]
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "pooled", graph.Name)
	require.Len(t, graph.Node, 1)
	assert.Equal(t, AttributeTypeInts, graph.Node[0].GetAttribute("kernel_shape").Type)

	model := must.M1(Interpret(NewRegistry(), graph.Name, graph.Node))
	param := must.M1(ir.ParamAs[*ir.MaxPoolParam](model.Ops[0]))
	assert.Equal(t, []int{3, 3}, param.KernelShape)
	assert.Equal(t, []int{2, 2}, param.Strides)
	assert.True(t, param.CeilMode)
	assert.Equal(t, "SAME_UPPER", param.AutoPad)

	_, err = ParseGraphJSON([]byte(`{"node": [{"name": "n", "attribute": [{"name": "a", "type": "WEIRD"}]}]}`))
	require.ErrorIs(t, err, status.ErrInvalidValue)
	_, err = ParseGraphJSON([]byte(`{"node": [{"name": "n", "attribute": [{"name": "a", "type": 2, "i": "x"}]}]}`))
	require.ErrorIs(t, err, status.ErrInvalidValue)
	assert.Equal(t, "INTS", AttributeTypeInts.String())
}
