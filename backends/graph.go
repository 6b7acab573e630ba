package backends

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"github.com/x448/float16"
)

const (
	scaleTensorKey     = "SCALE_TENSOR"
	zeroPointTensorKey = "ZERO_POINT_TENSOR"
)

// Graph is the input and output metadata of an ONNX model.
type Graph struct {
	Inputs  []TensorDescriptor
	Outputs []TensorDescriptor
}

func valueDescriptor(value *onnx.ValueInfoProto) TensorDescriptor {
	descriptor := TensorDescriptor{Name: value.GetName()}
	tensorType := value.GetType().GetTensorType()
	if tensorType == nil {
		return descriptor
	}
	descriptor.ElementType = ElementType(tensorType.GetElemType())
	if shape := tensorType.GetShape(); shape != nil {
		descriptor.Shape = make(Shape, 0, len(shape.GetDim()))
		for _, dim := range shape.GetDim() {
			// a named or missing dimension is dynamic
			size := dim.GetDimValue()
			if size <= 0 || dim.GetDimParam() != "" {
				size = -1
			}
			descriptor.Shape = append(descriptor.Shape, size)
		}
	}
	return descriptor
}

func hasData(t *onnx.TensorProto) bool {
	return len(t.GetRawData()) > 0 || len(t.GetFloatData()) > 0 || len(t.GetDoubleData()) > 0 ||
		len(t.GetInt32Data()) > 0 || len(t.GetInt64Data()) > 0 || len(t.GetUint64Data()) > 0
}

// float16Values decodes a float16 initializer, which gonnx does not read.
func float16Values(t *onnx.TensorProto) []float64 {
	if raw := t.GetRawData(); len(raw) > 0 {
		out := make([]float64, len(raw)/2)
		for i := range out {
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32())
		}
		return out
	}
	// float16 values are stored in int32_data
	out := make([]float64, len(t.GetInt32Data()))
	for i, v := range t.GetInt32Data() {
		out[i] = float64(float16.Frombits(uint16(v)).Float32())
	}
	return out
}

// realValues returns the contents of a scale initializer.
func realValues(t *onnx.TensorProto) ([]float64, error) {
	if !hasData(t) {
		return nil, fmt.Errorf("initializer %s has no data", t.GetName())
	}
	if ElementType(t.GetDataType()) == ElementTypeFloat16 {
		return float16Values(t), nil
	}
	decoded, err := onnx.TensorFromProto(t)
	if err != nil {
		return nil, fmt.Errorf("initializer %s: %w", t.GetName(), err)
	}
	switch data := decoded.Data().(type) {
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	case float32:
		return []float64{float64(data)}, nil
	case []float64:
		return data, nil
	case float64:
		return []float64{data}, nil
	default:
		return nil, fmt.Errorf("initializer %s: %s cannot hold a scale", t.GetName(), ElementType(t.GetDataType()))
	}
}

func widen[T int8 | uint8 | int16 | uint16 | int32 | int64](values []T) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

// integerValues returns the contents of a zero point initializer.
func integerValues(t *onnx.TensorProto) ([]int64, error) {
	if !hasData(t) {
		return nil, fmt.Errorf("initializer %s has no data", t.GetName())
	}
	decoded, err := onnx.TensorFromProto(t)
	if err != nil {
		return nil, fmt.Errorf("initializer %s: %w", t.GetName(), err)
	}
	switch data := decoded.Data().(type) {
	case []uint8:
		return widen(data), nil
	case uint8:
		return []int64{int64(data)}, nil
	case []int8:
		return widen(data), nil
	case int8:
		return []int64{int64(data)}, nil
	case []uint16:
		return widen(data), nil
	case uint16:
		return []int64{int64(data)}, nil
	case []int16:
		return widen(data), nil
	case int16:
		return []int64{int64(data)}, nil
	case []int32:
		return widen(data), nil
	case int32:
		return []int64{int64(data)}, nil
	case []int64:
		return data, nil
	case int64:
		return []int64{data}, nil
	default:
		return nil, fmt.Errorf("initializer %s: %s cannot hold a zero point", t.GetName(), ElementType(t.GetDataType()))
	}
}

// ParseGraph reads the graph inputs, outputs and their quantization
// annotations from a model decoded with gonnx.ModelProtoFromBytes. Inputs
// that are backed by an initializer are constants and are not reported.
func ParseGraph(model *onnx.ModelProto) (*Graph, error) {
	if model.GetGraph() == nil {
		return nil, errors.New("model has no graph")
	}
	g := model.GetGraph()

	initializers := make(map[string]*onnx.TensorProto, len(g.GetInitializer()))
	for _, t := range g.GetInitializer() {
		initializers[t.GetName()] = t
	}

	graph := &Graph{}
	for _, input := range g.GetInput() {
		if _, isConstant := initializers[input.GetName()]; !isConstant {
			graph.Inputs = append(graph.Inputs, valueDescriptor(input))
		}
	}
	for _, output := range g.GetOutput() {
		graph.Outputs = append(graph.Outputs, valueDescriptor(output))
	}

	for _, annotation := range g.GetQuantizationAnnotation() {
		q, err := quantizationFromAnnotation(annotation, initializers)
		if err != nil {
			return nil, err
		}
		for i := range graph.Inputs {
			if graph.Inputs[i].Name == annotation.GetTensorName() {
				graph.Inputs[i].Quantization = q
			}
		}
		for i := range graph.Outputs {
			if graph.Outputs[i].Name == annotation.GetTensorName() {
				graph.Outputs[i].Quantization = q
			}
		}
	}
	return graph, nil
}

func quantizationFromAnnotation(annotation *onnx.TensorAnnotation, initializers map[string]*onnx.TensorProto) (*Quantization, error) {
	params := map[string]string{}
	for _, entry := range annotation.GetQuantParameterTensorNames() {
		params[entry.GetKey()] = entry.GetValue()
	}
	tensorName := annotation.GetTensorName()

	q := &Quantization{}
	if scaleName, ok := params[scaleTensorKey]; ok {
		scaleTensor, exists := initializers[scaleName]
		if !exists {
			return nil, fmt.Errorf("scale tensor %s of %s is not an initializer", scaleName, tensorName)
		}
		scales, err := realValues(scaleTensor)
		if err != nil {
			return nil, err
		}
		for _, s := range scales {
			q.Scales = append(q.Scales, float32(s))
		}
	}
	if zeroPointName, ok := params[zeroPointTensorKey]; ok {
		zeroPointTensor, exists := initializers[zeroPointName]
		if !exists {
			return nil, fmt.Errorf("zero point tensor %s of %s is not an initializer", zeroPointName, tensorName)
		}
		zeroPoints, err := integerValues(zeroPointTensor)
		if err != nil {
			return nil, err
		}
		for _, z := range zeroPoints {
			if z < math.MinInt32 || z > math.MaxInt32 {
				return nil, fmt.Errorf("zero point %d of %s is out of range", z, tensorName)
			}
			q.ZeroPoints = append(q.ZeroPoints, int32(z))
		}
	} else {
		// ONNX defaults a missing zero point to 0
		q.ZeroPoints = make([]int32, len(q.Scales))
	}
	return q, nil
}
