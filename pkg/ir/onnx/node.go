// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package onnx

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/deploy/pkg/support/status"
	"github.com/pkg/errors"
)

// AttributeType of an AttributeProto, with the ONNX numbering.
type AttributeType int

const (
	AttributeTypeUndefined AttributeType = 0
	AttributeTypeFloat     AttributeType = 1
	AttributeTypeInt       AttributeType = 2
	AttributeTypeString    AttributeType = 3
	AttributeTypeTensor    AttributeType = 4
	AttributeTypeGraph     AttributeType = 5
	AttributeTypeFloats    AttributeType = 6
	AttributeTypeInts      AttributeType = 7
	AttributeTypeStrings   AttributeType = 8
)

// attributeTypeNames are the enum names used by the protobuf JSON mapping.
var attributeTypeNames = map[string]AttributeType{
	"UNDEFINED": AttributeTypeUndefined,
	"FLOAT":     AttributeTypeFloat,
	"INT":       AttributeTypeInt,
	"STRING":    AttributeTypeString,
	"TENSOR":    AttributeTypeTensor,
	"GRAPH":     AttributeTypeGraph,
	"FLOATS":    AttributeTypeFloats,
	"INTS":      AttributeTypeInts,
	"STRINGS":   AttributeTypeStrings,
}

// String returns the ONNX enum name of the type, or its number if it has no name here.
func (t AttributeType) String() string {
	for name, value := range attributeTypeNames {
		if value == t {
			return name
		}
	}
	return strconv.Itoa(int(t))
}

// AttributeProto is a named attribute of a node. Only the field matching Type is set.
type AttributeProto struct {
	Name    string        `json:"name"`
	Type    AttributeType `json:"type"`
	F       float32       `json:"f,omitempty"`
	I       int64         `json:"i,omitempty"`
	S       string        `json:"s,omitempty"`
	Floats  []float32     `json:"floats,omitempty"`
	Ints    []int64       `json:"ints,omitempty"`
	Strings []string      `json:"strings,omitempty"`
}

// jsonInt64 accepts both a JSON number and a quoted decimal string, the form protojson uses for int64.
type jsonInt64 int64

func (v *jsonInt64) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	parsed, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return errors.Errorf("invalid int64 %s", data)
	}
	*v = jsonInt64(parsed)
	return nil
}

// UnmarshalJSON accepts two encodings of an attribute:
//
//   - The plain one, as produced by encoding/json: numeric "type", numeric "i"/"ints" and plain "s"/"strings".
//   - The protobuf JSON mapping (protojson): "type" as the enum name ("INT", "FLOATS", ...), int64 values
//     quoted, and "s"/"strings" as base64 encoded bytes.
//
// The encoding is selected by the form of "type".
func (a *AttributeProto) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    string          `json:"name"`
		Type    json.RawMessage `json:"type"`
		F       float32         `json:"f"`
		I       jsonInt64       `json:"i"`
		S       string          `json:"s"`
		Floats  []float32       `json:"floats"`
		Ints    []jsonInt64     `json:"ints"`
		Strings []string        `json:"strings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = AttributeProto{Name: raw.Name, F: raw.F, I: int64(raw.I), S: raw.S, Floats: raw.Floats, Strings: raw.Strings}
	if len(raw.Ints) > 0 {
		a.Ints = make([]int64, len(raw.Ints))
		for ii, v := range raw.Ints {
			a.Ints[ii] = int64(v)
		}
	}
	if len(raw.Type) == 0 {
		return nil
	}
	if raw.Type[0] != '"' {
		var typeNum int
		if err := json.Unmarshal(raw.Type, &typeNum); err != nil {
			return errors.Errorf("attribute %q: invalid type %s", raw.Name, raw.Type)
		}
		a.Type = AttributeType(typeNum)
		return nil
	}

	// protojson encoding.
	var typeName string
	if err := json.Unmarshal(raw.Type, &typeName); err != nil {
		return errors.Wrapf(err, "attribute %q", raw.Name)
	}
	var found bool
	if a.Type, found = attributeTypeNames[typeName]; !found {
		return errors.Errorf("attribute %q: unknown type %q", raw.Name, typeName)
	}
	if a.S != "" {
		decoded, err := base64.StdEncoding.DecodeString(a.S)
		if err != nil {
			return errors.Wrapf(err, "attribute %q: string value is not base64", raw.Name)
		}
		a.S = string(decoded)
	}
	for ii, encoded := range a.Strings {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return errors.Wrapf(err, "attribute %q: strings[%d] is not base64", raw.Name, ii)
		}
		a.Strings[ii] = string(decoded)
	}
	return nil
}

// NodeProto is one node of an ONNX graph: an operator applied to named inputs, producing named outputs.
// It holds the subset of the ONNX NodeProto fields used by the converters.
type NodeProto struct {
	Name      string            `json:"name"`
	OpType    string            `json:"opType"`
	Domain    string            `json:"domain,omitempty"`
	Input     []string          `json:"input"`
	Output    []string          `json:"output"`
	Attribute []*AttributeProto `json:"attribute,omitempty"`
}

// GraphProto is the list of nodes of a graph, in topological order.
type GraphProto struct {
	Name string       `json:"name"`
	Node []*NodeProto `json:"node"`
}

// ParseGraphJSON parses a graph from JSON with the field names of the ONNX protobuf definitions.
//
// The input can be a GraphProto, or a ModelProto with the graph under "graph", as written by protojson.
// Attributes can use either the plain encoding or the protojson one, see AttributeProto.UnmarshalJSON.
// Unknown fields (initializers, value infos, ...) are ignored.
func ParseGraphJSON(data []byte) (*GraphProto, error) {
	var doc struct {
		GraphProto
		Graph *GraphProto `json:"graph"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, status.InvalidValuef("parsing ONNX graph: %v", err)
	}
	if doc.Graph != nil {
		return doc.Graph, nil
	}
	graph := doc.GraphProto
	return &graph, nil
}

// LoadGraphJSON reads and parses a JSON graph file, see ParseGraphJSON.
func LoadGraphJSON(path string) (*GraphProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading ONNX graph from %q", path)
	}
	graph, err := ParseGraphJSON(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", path)
	}
	return graph, nil
}

// GetAttribute returns the attribute with the given name, or nil if the node doesn't have it.
func (n *NodeProto) GetAttribute(name string) *AttributeProto {
	for _, attr := range n.Attribute {
		if attr.Name == name {
			return attr
		}
	}
	return nil
}

// attribute returns the named attribute if present, and checks its type.
func (n *NodeProto) attribute(name string, want AttributeType) (*AttributeProto, error) {
	attr := n.GetAttribute(name)
	if attr == nil {
		return nil, nil
	}
	if attr.Type != want {
		return nil, status.InvalidValuef("node %q (%s): attribute %q has type %s, expected %s", n.Name, n.OpType,
			name, attr.Type, want)
	}
	return attr, nil
}

// AttributeInt returns the value of an int attribute, or defaultValue if it's not set.
func AttributeInt(node *NodeProto, name string, defaultValue int) (int, error) {
	attr, err := node.attribute(name, AttributeTypeInt)
	if attr == nil || err != nil {
		return defaultValue, err
	}
	return int(attr.I), nil
}

// AttributeBool returns an int attribute interpreted as a boolean (non-zero is true).
func AttributeBool(node *NodeProto, name string, defaultValue bool) (bool, error) {
	defaultInt := 0
	if defaultValue {
		defaultInt = 1
	}
	value, err := AttributeInt(node, name, defaultInt)
	return value != 0, err
}

// AttributeFloat returns the value of a float attribute, or defaultValue if it's not set.
func AttributeFloat(node *NodeProto, name string, defaultValue float32) (float32, error) {
	attr, err := node.attribute(name, AttributeTypeFloat)
	if attr == nil || err != nil {
		return defaultValue, err
	}
	return attr.F, nil
}

// AttributeString returns the value of a string attribute, or defaultValue if it's not set.
func AttributeString(node *NodeProto, name string, defaultValue string) (string, error) {
	attr, err := node.attribute(name, AttributeTypeString)
	if attr == nil || err != nil {
		return defaultValue, err
	}
	return attr.S, nil
}

// AttributeInts returns the values of an ints attribute, or nil if it's not set.
func AttributeInts(node *NodeProto, name string) ([]int, error) {
	attr, err := node.attribute(name, AttributeTypeInts)
	if attr == nil || err != nil {
		return nil, err
	}
	values := make([]int, len(attr.Ints))
	for ii, v := range attr.Ints {
		values[ii] = int(v)
	}
	return values, nil
}

// AttributeFloats returns the values of a floats attribute, or nil if it's not set.
func AttributeFloats(node *NodeProto, name string) ([]float32, error) {
	attr, err := node.attribute(name, AttributeTypeFloats)
	if attr == nil || err != nil {
		return nil, err
	}
	return append([]float32(nil), attr.Floats...), nil
}
