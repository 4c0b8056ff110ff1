// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpParam(t *testing.T) {
	for _, opType := range OpTypeValues() {
		param := NewOpParam(opType)
		if param == nil {
			continue
		}
		assert.True(t, slices.Contains(param.OpTypes(), opType), "%s default param %T", opType, param)
	}
	assert.Nil(t, NewOpParam(OpTypeRelu))
}

func TestOpTypeNames(t *testing.T) {
	opType, err := OpTypeString("BatchNormalization")
	require.NoError(t, err)
	assert.Equal(t, OpTypeBatchNormalization, opType)
	assert.Equal(t, "RMSNorm", OpTypeRMSNorm.String())
	_, err = OpTypeString("NotAnOp")
	require.Error(t, err)
}

func TestParamAs(t *testing.T) {
	op := NewOpDesc("bn", OpTypeBatchNormalization)
	bn, err := ParamAs[*BatchNormalizationParam](op)
	require.NoError(t, err)
	assert.Equal(t, float32(1e-5), bn.Epsilon)
	bn.Momentum = 0.5
	assert.Equal(t, float32(0.5), op.Param.(*BatchNormalizationParam).Momentum, "ParamAs returns the op's own params")

	_, err = ParamAs[*ConvParam](op)
	require.Error(t, err)
	_, err = ParamAs[*ConvParam](nil)
	require.Error(t, err)
}
