package backends

import (
	"github.com/phuslu/log"

	"github.com/knights-analytics/depthrt/profiling"
)

// Backend is a loaded model with exactly one input and one output tensor.
// It is implemented by *Interpreter and *GoSession only.
//
// A Backend is not safe for concurrent Run calls: serialize calls or create
// one backend per goroutine.
type Backend interface {
	Name() string
	InputDescriptor() TensorDescriptor
	OutputDescriptor() TensorDescriptor
	Destroy() error

	// inputStorage returns the native storage for count input elements.
	inputStorage(count int) ([]byte, failure)
	invoke() error
	// outputStorage returns the native storage of the last invocation.
	outputStorage() ([]byte, failure)
	fail(f failure) error
	profilingFrame() *profiling.Frame
}

// noCopy marks types that wrap native handles. go vet reports copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func isFloat[T HostElement]() bool {
	switch ElementTypeOf[T]() {
	case ElementTypeFloat32, ElementTypeFloat64:
		return true
	default:
		return false
	}
}

// quantizedStorage reports whether t can hold affine quantized values at all.
func quantizedStorage(t ElementType) bool {
	switch t {
	case ElementTypeUint8, ElementTypeInt8, ElementTypeUint16, ElementTypeInt16, ElementTypeInt32:
		return true
	default:
		return false
	}
}

func quantizeInto[I HostElement](input []I, stored []byte, d TensorDescriptor) error {
	switch values := any(input).(type) {
	case []float32:
		return Quantize(values, stored, d.ElementType, d.Quantization)
	case []float64:
		return Quantize(values, stored, d.ElementType, d.Quantization)
	default:
		return QuantizationUnsupportedType
	}
}

func dequantizeInto[O HostElement](stored []byte, output []O, d TensorDescriptor) error {
	switch values := any(output).(type) {
	case []float32:
		return Dequantize(stored, values, d.ElementType, d.Quantization)
	case []float64:
		return Dequantize(stored, values, d.ElementType, d.Quantization)
	default:
		return QuantizationUnsupportedType
	}
}

// Run copies input into the model's input tensor, invokes the model and
// copies the result into output. Every failure is logged with the backend
// name before it is returned.
//
// A quantized tensor is exchanged as floating point values through the
// quantization codec. Every type and size check happens before the
// corresponding write; output is never written unless the invocation
// succeeded.
func Run[I, O HostElement](b Backend, input []I, output []O) error {
	err := run(b, input, output)
	if err != nil {
		log.Error().Err(err).Str("backend", b.Name()).
			Int("input_len", len(input)).Int("output_len", len(output)).
			Msg("run failed")
	}
	return err
}

func run[I, O HostElement](b Backend, input []I, output []O) error {
	frame := b.profilingFrame()
	in := b.InputDescriptor()

	endLoad := frame.Scope("Loading input")
	if in.IsQuantized() {
		if !quantizedStorage(in.ElementType) {
			endLoad()
			return b.fail(failQuantizedInputType)
		}
		if !isFloat[I]() {
			endLoad()
			return QuantizationUnsupportedType
		}
	} else if in.ElementType != ElementTypeOf[I]() {
		endLoad()
		return b.fail(failInputType)
	}
	stored, f := b.inputStorage(len(input))
	if f != failNone {
		endLoad()
		return b.fail(f)
	}
	if in.IsQuantized() {
		if err := quantizeInto(input, stored, in); err != nil {
			endLoad()
			return err
		}
	} else if copy(stored, asBytes(input)) != len(stored) {
		endLoad()
		return b.fail(failBufferCopy)
	}
	endLoad()

	endInvoke := frame.Scope("Invoking of model")
	err := b.invoke()
	endInvoke()
	if err != nil {
		log.Error().Err(err).Str("backend", b.Name()).Msg("model invocation failed")
		return b.fail(failInvoke)
	}

	defer frame.Scope("Reading output")()
	out := b.OutputDescriptor()
	if out.IsQuantized() {
		if !quantizedStorage(out.ElementType) {
			return b.fail(failQuantizedOutputType)
		}
		if !isFloat[O]() {
			return QuantizationUnsupportedType
		}
	} else if out.ElementType != ElementTypeOf[O]() {
		return b.fail(failOutputType)
	}
	result, f := b.outputStorage()
	if f != failNone {
		return b.fail(f)
	}
	if out.IsQuantized() {
		if len(result)/out.ElementType.Size() != len(output) {
			return b.fail(failOutputSize)
		}
		return dequantizeInto(result, output, out)
	}
	target := asBytes(output)
	if len(result) != len(target) {
		return b.fail(failOutputSize)
	}
	if copy(target, result) != len(target) {
		return b.fail(failBufferCopy)
	}
	return nil
}
