// Package onnxtest builds small ONNX models in memory for tests and demos.
//
// Models are encoded directly with protowire so no generated ONNX protobuf
// package is needed. Only the fields ONNX Runtime requires to load a graph
// are emitted.
package onnxtest

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// IRVersion is the ONNX IR version stamped on generated models.
	IRVersion = 8
	// OpsetVersion is the default-domain opset imported by generated models.
	OpsetVersion = 13
)

// ONNX TensorProto.DataType values used by generated models.
const (
	Float   int32 = 1
	Int64   int32 = 7
	Float16 int32 = 10
	Double  int32 = 11
)

// ValueInfo declares a graph input or output. Negative dimensions are emitted
// as symbolic dimensions.
type ValueInfo struct {
	Name     string
	ElemType int32
	Dims     []int64
}

// Node is a single operator in the graph.
type Node struct {
	Name    string
	OpType  string
	Inputs  []string
	Outputs []string
	// IntAttrs are emitted as INT attributes in key order.
	IntAttrs map[string]int64
}

// Graph is a minimal ONNX graph description.
type Graph struct {
	Name    string
	Nodes   []Node
	Inputs  []ValueInfo
	Outputs []ValueInfo
}

// Field numbers from onnx.proto.
const (
	modelIRVersion    protowire.Number = 1
	modelProducerName protowire.Number = 2
	modelGraph        protowire.Number = 7
	modelOpsetImport  protowire.Number = 8

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	graphNode   protowire.Number = 1
	graphName   protowire.Number = 2
	graphInput  protowire.Number = 11
	graphOutput protowire.Number = 12

	nodeInput  protowire.Number = 1
	nodeOutput protowire.Number = 2
	nodeName   protowire.Number = 3
	nodeOpType protowire.Number = 4
	nodeAttr   protowire.Number = 5

	attrName protowire.Number = 1
	attrInt  protowire.Number = 3
	attrType protowire.Number = 20

	attrTypeInt = 2

	valueInfoName protowire.Number = 1
	valueInfoType protowire.Number = 2

	typeTensor protowire.Number = 1

	tensorElemType protowire.Number = 1
	tensorShape    protowire.Number = 2

	shapeDim protowire.Number = 1

	dimValue protowire.Number = 1
	dimParam protowire.Number = 2
)

// Encode serializes g as an ONNX ModelProto.
func Encode(g Graph) []byte {
	var b []byte
	b = protowire.AppendTag(b, modelIRVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, IRVersion)
	b = appendString(b, modelProducerName, "onnxtest")
	b = appendMessage(b, modelGraph, encodeGraph(g))

	var opset []byte
	opset = appendString(opset, opsetDomain, "")
	opset = protowire.AppendTag(opset, opsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, OpsetVersion)
	b = appendMessage(b, modelOpsetImport, opset)
	return b
}

func encodeGraph(g Graph) []byte {
	var b []byte
	for _, n := range g.Nodes {
		b = appendMessage(b, graphNode, encodeNode(n))
	}
	name := g.Name
	if name == "" {
		name = "graph"
	}
	b = appendString(b, graphName, name)
	for _, in := range g.Inputs {
		b = appendMessage(b, graphInput, encodeValueInfo(in))
	}
	for _, out := range g.Outputs {
		b = appendMessage(b, graphOutput, encodeValueInfo(out))
	}
	return b
}

func encodeNode(n Node) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendString(b, nodeInput, in)
	}
	for _, out := range n.Outputs {
		b = appendString(b, nodeOutput, out)
	}
	if n.Name != "" {
		b = appendString(b, nodeName, n.Name)
	}
	b = appendString(b, nodeOpType, n.OpType)

	keys := make([]string, 0, len(n.IntAttrs))
	for k := range n.IntAttrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var attr []byte
		attr = appendString(attr, attrName, k)
		attr = protowire.AppendTag(attr, attrInt, protowire.VarintType)
		attr = protowire.AppendVarint(attr, uint64(n.IntAttrs[k]))
		attr = protowire.AppendTag(attr, attrType, protowire.VarintType)
		attr = protowire.AppendVarint(attr, attrTypeInt)
		b = appendMessage(b, nodeAttr, attr)
	}
	return b
}

func encodeValueInfo(v ValueInfo) []byte {
	var shape []byte
	for i, d := range v.Dims {
		var dim []byte
		if d < 0 {
			dim = appendString(dim, dimParam, "d"+strconv.Itoa(i))
		} else {
			dim = protowire.AppendTag(dim, dimValue, protowire.VarintType)
			dim = protowire.AppendVarint(dim, uint64(d))
		}
		shape = appendMessage(shape, shapeDim, dim)
	}

	var tensor []byte
	tensor = protowire.AppendTag(tensor, tensorElemType, protowire.VarintType)
	tensor = protowire.AppendVarint(tensor, uint64(v.ElemType))
	tensor = appendMessage(tensor, tensorShape, shape)

	var typ []byte
	typ = appendMessage(typ, typeTensor, tensor)

	var b []byte
	b = appendString(b, valueInfoName, v.Name)
	return appendMessage(b, valueInfoType, typ)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// Identity returns a float32 model with one input "input" copied to one
// output "output". dims may contain -1 for dynamic dimensions.
func Identity(dims ...int64) []byte {
	return Encode(Graph{
		Name:    "identity",
		Nodes:   []Node{{Name: "identity", OpType: "Identity", Inputs: []string{"input"}, Outputs: []string{"output"}}},
		Inputs:  []ValueInfo{{Name: "input", ElemType: Float, Dims: dims}},
		Outputs: []ValueInfo{{Name: "output", ElemType: Float, Dims: dims}},
	})
}

// TwoInputs returns a float32 model computing "sum" = a + b and
// "difference" = a - b, declared in that order.
func TwoInputs(dims ...int64) []byte {
	return Encode(Graph{
		Name: "two_inputs",
		Nodes: []Node{
			{Name: "add", OpType: "Add", Inputs: []string{"a", "b"}, Outputs: []string{"sum"}},
			{Name: "sub", OpType: "Sub", Inputs: []string{"a", "b"}, Outputs: []string{"difference"}},
		},
		Inputs: []ValueInfo{
			{Name: "a", ElemType: Float, Dims: dims},
			{Name: "b", ElemType: Float, Dims: dims},
		},
		Outputs: []ValueInfo{
			{Name: "sum", ElemType: Float, Dims: dims},
			{Name: "difference", ElemType: Float, Dims: dims},
		},
	})
}

// MultiOutput returns a float32 model with input "x" and outputs "copy"
// (Identity) and "negated" (Neg), declared in that order.
func MultiOutput(dims ...int64) []byte {
	return Encode(Graph{
		Name: "multi_output",
		Nodes: []Node{
			{Name: "copy", OpType: "Identity", Inputs: []string{"x"}, Outputs: []string{"copy"}},
			{Name: "negate", OpType: "Neg", Inputs: []string{"x"}, Outputs: []string{"negated"}},
		},
		Inputs: []ValueInfo{{Name: "x", ElemType: Float, Dims: dims}},
		Outputs: []ValueInfo{
			{Name: "copy", ElemType: Float, Dims: dims},
			{Name: "negated", ElemType: Float, Dims: dims},
		},
	})
}

// CastToDouble returns a model whose single output "output" is float64,
// produced by casting float32 input "input".
func CastToDouble(dims ...int64) []byte {
	return Encode(Graph{
		Name: "cast",
		Nodes: []Node{{
			Name:     "cast",
			OpType:   "Cast",
			Inputs:   []string{"input"},
			Outputs:  []string{"output"},
			IntAttrs: map[string]int64{"to": int64(Double)},
		}},
		Inputs:  []ValueInfo{{Name: "input", ElemType: Float, Dims: dims}},
		Outputs: []ValueInfo{{Name: "output", ElemType: Double, Dims: dims}},
	})
}

// WriteFile writes model to path, creating parent directories.
func WriteFile(path string, model []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, model, 0o644)
}

// WriteTemp writes model as name inside a per-test temporary directory and
// returns its path.
func WriteTemp(tb testing.TB, name string, model []byte) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := WriteFile(path, model); err != nil {
		tb.Fatalf("failed to write model %s: %v", name, err)
	}
	return path
}
