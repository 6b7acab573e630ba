// Package onnxtest assembles small serialized ONNX models for tests.
package onnxtest

import (
	"sort"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"google.golang.org/protobuf/proto"
)

// ONNX TensorProto.DataType values.
const (
	Float32 int32 = 1
	Uint8   int32 = 2
	Int8    int32 = 3
	Int32   int32 = 6
	Int64   int32 = 7
	Float16 int32 = 10
	Float64 int32 = 11
)

// Value describes a graph input or output. A negative dimension is written as
// a named dynamic dimension.
type Value struct {
	Name        string
	Shape       []int64
	ElementType int32
}

type Initializer struct {
	Name     string
	Dims     []int64
	Floats   []float32
	Int32s   []int32
	Raw      []byte
	DataType int32
}

type Node struct {
	OpType  string
	Name    string
	Inputs  []string
	Outputs []string
}

// Annotation is a quantization annotation, e.g. SCALE_TENSOR -> name of an initializer.
type Annotation struct {
	Params     map[string]string
	TensorName string
}

type Model struct {
	Name         string
	Nodes        []Node
	Initializers []Initializer
	Inputs       []Value
	Outputs      []Value
	Annotations  []Annotation
	Opset        int64
}

func dynamicDimName(i int) string {
	return string(rune('N' + i))
}

func (v Value) proto() *onnx.ValueInfoProto {
	shape := &onnx.TensorShapeProto{}
	for i, d := range v.Shape {
		dim := &onnx.TensorShapeProto_Dimension{}
		if d < 0 {
			dim.Value = &onnx.TensorShapeProto_Dimension_DimParam{DimParam: dynamicDimName(i)}
		} else {
			dim.Value = &onnx.TensorShapeProto_Dimension_DimValue{DimValue: d}
		}
		shape.Dim = append(shape.Dim, dim)
	}
	return &onnx.ValueInfoProto{
		Name: v.Name,
		Type: &onnx.TypeProto{
			Value: &onnx.TypeProto_TensorType{
				TensorType: &onnx.TypeProto_Tensor{ElemType: v.ElementType, Shape: shape},
			},
		},
	}
}

func (t Initializer) proto() *onnx.TensorProto {
	return &onnx.TensorProto{
		Name:      t.Name,
		Dims:      t.Dims,
		DataType:  t.DataType,
		FloatData: t.Floats,
		Int32Data: t.Int32s,
		RawData:   t.Raw,
	}
}

func (n Node) proto() *onnx.NodeProto {
	return &onnx.NodeProto{
		Input:  n.Inputs,
		Output: n.Outputs,
		Name:   n.Name,
		OpType: n.OpType,
	}
}

func (a Annotation) proto() *onnx.TensorAnnotation {
	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	annotation := &onnx.TensorAnnotation{TensorName: a.TensorName}
	for _, k := range keys {
		annotation.QuantParameterTensorNames = append(annotation.QuantParameterTensorNames,
			&onnx.StringStringEntryProto{Key: k, Value: a.Params[k]})
	}
	return annotation
}

// Proto builds the ONNX ModelProto of m.
func (m Model) Proto() *onnx.ModelProto {
	name := m.Name
	if name == "" {
		name = "test_graph"
	}
	graph := &onnx.GraphProto{Name: name}
	for _, n := range m.Nodes {
		graph.Node = append(graph.Node, n.proto())
	}
	for _, t := range m.Initializers {
		graph.Initializer = append(graph.Initializer, t.proto())
	}
	for _, v := range m.Inputs {
		graph.Input = append(graph.Input, v.proto())
	}
	for _, v := range m.Outputs {
		graph.Output = append(graph.Output, v.proto())
	}
	for _, a := range m.Annotations {
		graph.QuantizationAnnotation = append(graph.QuantizationAnnotation, a.proto())
	}

	opset := m.Opset
	if opset == 0 {
		opset = 13
	}
	return &onnx.ModelProto{
		IrVersion:    8,
		ProducerName: "depthrt",
		Graph:        graph,
		OpsetImport:  []*onnx.OperatorSetIdProto{{Version: opset}},
	}
}

// Bytes serializes the model. It panics if the model cannot be marshalled.
func (m Model) Bytes() []byte {
	b, err := proto.Marshal(m.Proto())
	if err != nil {
		panic(err)
	}
	return b
}

// Identity is a single Identity node from x to y.
func Identity(elementType int32, shape ...int64) Model {
	return Model{
		Nodes:   []Node{{OpType: "Identity", Name: "identity", Inputs: []string{"x"}, Outputs: []string{"y"}}},
		Inputs:  []Value{{Name: "x", ElementType: elementType, Shape: shape}},
		Outputs: []Value{{Name: "y", ElementType: elementType, Shape: shape}},
	}
}

// Flatten reshapes x to two dimensions. On a [1, n] input it is an identity
// that the GO backend can run for every element type.
func Flatten(elementType int32, shape ...int64) Model {
	return Model{
		Nodes:   []Node{{OpType: "Flatten", Name: "flatten", Inputs: []string{"x"}, Outputs: []string{"y"}}},
		Inputs:  []Value{{Name: "x", ElementType: elementType, Shape: shape}},
		Outputs: []Value{{Name: "y", ElementType: elementType, Shape: shape}},
	}
}

// AddZeros computes y = x + 0 over float32 tensors, broadcasting a single
// zero. It is an identity built from an operator every runtime implements.
func AddZeros(shape ...int64) Model {
	return Model{
		Nodes: []Node{{OpType: "Add", Name: "add", Inputs: []string{"x", "zero"}, Outputs: []string{"y"}}},
		Initializers: []Initializer{{
			Name:     "zero",
			DataType: Float32,
			Dims:     []int64{1},
			Floats:   []float32{0},
		}},
		Inputs:  []Value{{Name: "x", ElementType: Float32, Shape: shape}},
		Outputs: []Value{{Name: "y", ElementType: Float32, Shape: shape}},
	}
}

// Quantized annotates the input and output of m with a single uint8 scale and zero point.
func Quantized(m Model, scale float32, zeroPoint uint8) Model {
	m.Initializers = append(m.Initializers,
		Initializer{Name: "scale", DataType: Float32, Floats: []float32{scale}},
		Initializer{Name: "zero_point", DataType: Uint8, Raw: []byte{zeroPoint}},
	)
	params := map[string]string{"SCALE_TENSOR": "scale", "ZERO_POINT_TENSOR": "zero_point"}
	for _, v := range append(append([]Value{}, m.Inputs...), m.Outputs...) {
		m.Annotations = append(m.Annotations, Annotation{TensorName: v.Name, Params: params})
	}
	return m
}
