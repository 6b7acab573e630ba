package backends

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"

	"github.com/knights-analytics/depthrt/util/safeconv"
)

// ElementType follows the ONNX TensorProto.DataType numbering so it converts
// directly to and from the native runtime's element type.
type ElementType int32

const (
	ElementTypeUndefined ElementType = 0
	ElementTypeFloat32   ElementType = 1
	ElementTypeUint8     ElementType = 2
	ElementTypeInt8      ElementType = 3
	ElementTypeUint16    ElementType = 4
	ElementTypeInt16     ElementType = 5
	ElementTypeInt32     ElementType = 6
	ElementTypeInt64     ElementType = 7
	ElementTypeString    ElementType = 8
	ElementTypeBool      ElementType = 9
	ElementTypeFloat16   ElementType = 10
	ElementTypeFloat64   ElementType = 11
	ElementTypeUint32    ElementType = 12
	ElementTypeUint64    ElementType = 13
	ElementTypeBFloat16  ElementType = 16
)

func (t ElementType) String() string {
	switch t {
	case ElementTypeFloat32:
		return "float32"
	case ElementTypeUint8:
		return "uint8"
	case ElementTypeInt8:
		return "int8"
	case ElementTypeUint16:
		return "uint16"
	case ElementTypeInt16:
		return "int16"
	case ElementTypeInt32:
		return "int32"
	case ElementTypeInt64:
		return "int64"
	case ElementTypeString:
		return "string"
	case ElementTypeBool:
		return "bool"
	case ElementTypeFloat16:
		return "float16"
	case ElementTypeFloat64:
		return "float64"
	case ElementTypeUint32:
		return "uint32"
	case ElementTypeUint64:
		return "uint64"
	case ElementTypeBFloat16:
		return "bfloat16"
	default:
		return fmt.Sprintf("undefined(%d)", int32(t))
	}
}

// Size is the width of one element in bytes, 0 for variable width or unknown types.
func (t ElementType) Size() int {
	switch t {
	case ElementTypeUint8, ElementTypeInt8, ElementTypeBool:
		return 1
	case ElementTypeUint16, ElementTypeInt16, ElementTypeFloat16, ElementTypeBFloat16:
		return 2
	case ElementTypeInt32, ElementTypeUint32, ElementTypeFloat32:
		return 4
	case ElementTypeInt64, ElementTypeUint64, ElementTypeFloat64:
		return 8
	default:
		return 0
	}
}

// HostElement lists the element types a caller buffer may hold.
type HostElement interface {
	float32 | float64 | int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | bool | float16.Float16
}

// ElementTypeOf returns the tensor element type matching T.
func ElementTypeOf[T HostElement]() ElementType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return ElementTypeFloat32
	case float64:
		return ElementTypeFloat64
	case int8:
		return ElementTypeInt8
	case uint8:
		return ElementTypeUint8
	case int16:
		return ElementTypeInt16
	case uint16:
		return ElementTypeUint16
	case int32:
		return ElementTypeInt32
	case uint32:
		return ElementTypeUint32
	case int64:
		return ElementTypeInt64
	case uint64:
		return ElementTypeUint64
	case bool:
		return ElementTypeBool
	case float16.Float16:
		return ElementTypeFloat16
	default:
		return ElementTypeUndefined
	}
}

// asBytes views a host buffer as its raw little-endian storage without copying.
func asBytes[T HostElement](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*int(unsafe.Sizeof(zero)))
}

type Shape []int64

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

func (s Shape) ValuesInt() []int {
	output := make([]int, len(s))
	for i, v := range s {
		output[i] = safeconv.Int64ToInt(v)
	}
	return output
}

// NewShape Returns a Shape, with the given dimensions.
func NewShape(dimensions ...int64) Shape {
	return dimensions
}

// IsStatic reports whether every dimension is known.
func (s Shape) IsStatic() bool {
	for _, d := range s {
		if d <= 0 {
			return false
		}
	}
	return true
}

// FlattenedSize is the element count of a static shape, -1 otherwise.
func (s Shape) FlattenedSize() int {
	return safeconv.Product(s)
}

// Quantization holds the affine parameters of a tensor stored as integers.
// Only single-parameter (per-tensor) quantization can be run.
type Quantization struct {
	Scales     []float32
	ZeroPoints []int32
}

type TensorDescriptor struct {
	Name         string
	Shape        Shape
	Quantization *Quantization
	ElementType  ElementType
}

// IsQuantized reports whether callers exchange floating point values with this tensor.
func (d TensorDescriptor) IsQuantized() bool {
	return d.Quantization != nil
}

func (d TensorDescriptor) String() string {
	if d.Quantization != nil {
		return fmt.Sprintf("%s %s%s quantized(scale=%v, zero_point=%v)", d.Name, d.ElementType, d.Shape, d.Quantization.Scales, d.Quantization.ZeroPoints)
	}
	return fmt.Sprintf("%s %s%s", d.Name, d.ElementType, d.Shape)
}
