package backends

import (
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"github.com/phuslu/log"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/depthrt/options"
	"github.com/knights-analytics/depthrt/profiling"
)

// GoSession runs a model with the pure Go gonnx runtime. Input and output
// tensors are created on every call, so one dynamic input dimension is
// resolved from the length of the caller's buffer.
type GoSession struct {
	noCopy noCopy

	model      *gonnx.Model
	frame      *profiling.Frame
	input      TensorDescriptor
	output     TensorDescriptor
	modelBytes []byte

	// storage of the current call
	inputBacking any
	inputBytes   []byte
	inputShape   []int
	outputBytes  []byte
	outputErr    failure
}

func NewGoSession(modelBytes []byte, opts *options.Options) (*GoSession, error) {
	if opts == nil {
		opts = options.Defaults()
	}
	defer opts.Frame.Scope("Creating session")()

	modelProto, err := gonnx.ModelProtoFromBytes(modelBytes)
	if err != nil {
		log.Error().Err(err).Msg("failed to decode model")
		return nil, SessionFailedToLoadModel
	}
	graph, err := ParseGraph(modelProto)
	if err != nil {
		log.Error().Err(err).Msg("failed to read model graph")
		return nil, SessionFailedToLoadModel
	}
	if len(graph.Inputs) != 1 {
		log.Error().Int("inputs", len(graph.Inputs)).Msg("model must have exactly one input")
		return nil, SessionInvalidInputCount
	}
	if len(graph.Outputs) != 1 {
		log.Error().Int("outputs", len(graph.Outputs)).Msg("model must have exactly one output")
		return nil, SessionInvalidOutputCount
	}
	for _, d := range []TensorDescriptor{graph.Inputs[0], graph.Outputs[0]} {
		if _, ok := goDtype(d.ElementType); !ok {
			log.Error().Str("tensor", d.Name).Str("type", d.ElementType.String()).Msg("element type is not supported by the GO backend")
			return nil, SessionUnsupportedElementType
		}
	}
	if opts.Delegate != nil && !opts.Delegate.Disabled && opts.Delegate.CacheDir != "" {
		log.Info().Msg("the GO backend has no hardware delegate, delegate options are ignored")
	}

	model, err := gonnx.NewModel(modelProto)
	if err != nil {
		log.Error().Err(err).Msg("failed to load model with gonnx")
		return nil, SessionFailedToLoadModel
	}

	return &GoSession{
		model:      model,
		frame:      opts.Frame,
		input:      graph.Inputs[0],
		output:     graph.Outputs[0],
		modelBytes: modelBytes,
	}, nil
}

func (s *GoSession) Name() string {
	return "GO"
}

func (s *GoSession) InputDescriptor() TensorDescriptor {
	return s.input
}

func (s *GoSession) OutputDescriptor() TensorDescriptor {
	return s.output
}

// Destroy releases the model. It is safe to call more than once.
func (s *GoSession) Destroy() error {
	s.inputBacking = nil
	s.inputBytes = nil
	s.outputBytes = nil
	s.model = nil
	s.modelBytes = nil
	return nil
}

func (s *GoSession) fail(f failure) error {
	return sessionFailure(f)
}

func (s *GoSession) profilingFrame() *profiling.Frame {
	return s.frame
}

// resolveShape fills the dynamic dimensions of shape for count elements.
// Leading dynamic dimensions are taken as 1 and the last one absorbs the rest.
func resolveShape(shape Shape, count int) ([]int, bool) {
	if count <= 0 {
		return nil, false
	}
	resolved := make([]int, len(shape))
	known := 1
	last := -1
	for i, d := range shape {
		if d > 0 {
			resolved[i] = int(d)
			known *= int(d)
			continue
		}
		if last >= 0 {
			resolved[last] = 1
		}
		last = i
	}
	if last < 0 {
		return resolved, known == count
	}
	if count%known != 0 {
		return nil, false
	}
	resolved[last] = count / known
	return resolved, true
}

func (s *GoSession) inputStorage(count int) ([]byte, failure) {
	if s.model == nil {
		return nil, failTensorNotCreated
	}
	shape, ok := resolveShape(s.input.Shape, count)
	if !ok {
		return nil, failInputSize
	}
	backing, raw := newBacking(s.input.ElementType, count)
	if backing == nil {
		return nil, failTensorNotCreated
	}
	s.inputBacking, s.inputBytes, s.inputShape = backing, raw, shape
	return raw, failNone
}

func (s *GoSession) invoke() error {
	if s.model == nil || s.inputBacking == nil {
		return fmt.Errorf("no input tensor for %s", s.input.Name)
	}
	s.outputBytes, s.outputErr = nil, failTensorNotCreated

	inputs := map[string]tensor.Tensor{
		s.input.Name: tensor.New(
			tensor.WithShape(s.inputShape...),
			tensor.WithBacking(s.inputBacking),
		),
	}
	outputs, err := s.model.Run(inputs)
	if err != nil {
		return err
	}
	result, ok := outputs[s.output.Name]
	if !ok {
		return fmt.Errorf("model did not produce output %s", s.output.Name)
	}

	expected, _ := goDtype(s.output.ElementType)
	if result.Dtype() != expected {
		log.Error().Str("tensor", s.output.Name).Str("dtype", result.Dtype().String()).Msg("unexpected output dtype")
		s.outputErr = failOutputType
		return nil
	}
	raw, ok := backingBytes(result.Data())
	if !ok {
		s.outputErr = failBufferCopy
		return nil
	}
	s.outputBytes, s.outputErr = raw, failNone
	return nil
}

func (s *GoSession) outputStorage() ([]byte, failure) {
	if s.outputBytes == nil {
		if s.outputErr == failNone {
			return nil, failTensorNotCreated
		}
		return nil, s.outputErr
	}
	return s.outputBytes, failNone
}

func goDtype(t ElementType) (tensor.Dtype, bool) {
	switch t {
	case ElementTypeFloat32:
		return tensor.Float32, true
	case ElementTypeFloat64:
		return tensor.Float64, true
	case ElementTypeInt8:
		return tensor.Int8, true
	case ElementTypeUint8:
		return tensor.Uint8, true
	case ElementTypeInt16:
		return tensor.Int16, true
	case ElementTypeUint16:
		return tensor.Uint16, true
	case ElementTypeInt32:
		return tensor.Int32, true
	case ElementTypeUint32:
		return tensor.Uint32, true
	case ElementTypeInt64:
		return tensor.Int64, true
	case ElementTypeUint64:
		return tensor.Uint64, true
	case ElementTypeBool:
		return tensor.Bool, true
	default:
		return tensor.Dtype{}, false
	}
}

// newBacking allocates a typed slice for count elements and returns it with
// its byte view.
func newBacking(t ElementType, count int) (any, []byte) {
	switch t {
	case ElementTypeFloat32:
		return typedBacking[float32](count)
	case ElementTypeFloat64:
		return typedBacking[float64](count)
	case ElementTypeInt8:
		return typedBacking[int8](count)
	case ElementTypeUint8:
		return typedBacking[uint8](count)
	case ElementTypeInt16:
		return typedBacking[int16](count)
	case ElementTypeUint16:
		return typedBacking[uint16](count)
	case ElementTypeInt32:
		return typedBacking[int32](count)
	case ElementTypeUint32:
		return typedBacking[uint32](count)
	case ElementTypeInt64:
		return typedBacking[int64](count)
	case ElementTypeUint64:
		return typedBacking[uint64](count)
	case ElementTypeBool:
		return typedBacking[bool](count)
	default:
		return nil, nil
	}
}

func typedBacking[T HostElement](count int) (any, []byte) {
	backing := make([]T, count)
	return backing, asBytes(backing)
}

func backingBytes(data any) ([]byte, bool) {
	switch v := data.(type) {
	case []float32:
		return asBytes(v), true
	case []float64:
		return asBytes(v), true
	case []int8:
		return asBytes(v), true
	case []uint8:
		return asBytes(v), true
	case []int16:
		return asBytes(v), true
	case []uint16:
		return asBytes(v), true
	case []int32:
		return asBytes(v), true
	case []uint32:
		return asBytes(v), true
	case []int64:
		return asBytes(v), true
	case []uint64:
		return asBytes(v), true
	case []bool:
		return asBytes(v), true
	default:
		return nil, false
	}
}
