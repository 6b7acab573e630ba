//go:build cgo && (ORT || ALL)

package backends

import (
	"errors"

	"github.com/advancedclimatesystems/gonnx"
	"github.com/phuslu/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/depthrt/options"
	"github.com/knights-analytics/depthrt/profiling"
)

// Interpreter runs a model with static tensor shapes through onnxruntime.
// Input and output storage is allocated once at construction and reused by
// every call.
type Interpreter struct {
	noCopy noCopy

	session        *ort.AdvancedSession
	sessionOptions *ort.SessionOptions
	delegate       *Delegate
	inputTensor    *ort.CustomDataTensor
	outputTensor   *ort.CustomDataTensor
	frame          *profiling.Frame
	input          TensorDescriptor
	output         TensorDescriptor
	modelBytes     []byte
}

// NewInterpreter loads modelBytes into an onnxruntime session. The
// onnxruntime environment must already be initialised.
//
// If a hardware delegate is configured but the session cannot be created
// with it, the interpreter is built once more on the CPU only.
func NewInterpreter(modelBytes []byte, opts *options.Options) (*Interpreter, error) {
	if opts == nil {
		opts = options.Defaults()
		opts.Backend = "ORT"
	}
	if !ort.IsInitialized() {
		log.Error().Msg("the onnxruntime environment is not initialised")
		return nil, InterpreterFailedToLoadModel
	}
	defer opts.Frame.Scope("Creating interpreter")()

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(modelBytes)
	if err != nil {
		log.Error().Err(err).Msg("failed to read model inputs and outputs")
		return nil, InterpreterFailedToLoadModel
	}
	if len(inputs) != 1 {
		log.Error().Int("inputs", len(inputs)).Msg("model must have exactly one input")
		return nil, InterpreterInvalidInputCount
	}
	if len(outputs) != 1 {
		log.Error().Int("outputs", len(outputs)).Msg("model must have exactly one output")
		return nil, InterpreterInvalidOutputCount
	}
	modelProto, err := gonnx.ModelProtoFromBytes(modelBytes)
	if err != nil {
		log.Error().Err(err).Msg("failed to decode model")
		return nil, InterpreterFailedToLoadModel
	}
	graph, err := ParseGraph(modelProto)
	if err != nil {
		log.Error().Err(err).Msg("failed to read model graph")
		return nil, InterpreterFailedToLoadModel
	}

	i := &Interpreter{
		frame:      opts.Frame,
		input:      describe(inputs[0], graph.Inputs),
		output:     describe(outputs[0], graph.Outputs),
		modelBytes: modelBytes,
	}
	for _, d := range []TensorDescriptor{i.input, i.output} {
		if !d.Shape.IsStatic() {
			log.Error().Str("tensor", d.Name).Str("shape", d.Shape.String()).Msg("the interpreter needs static shapes")
			return nil, InterpreterUnsupportedDynamicShape
		}
		if d.ElementType.Size() == 0 {
			log.Error().Str("tensor", d.Name).Str("type", d.ElementType.String()).Msg("unsupported element type")
			return nil, InterpreterUnsupportedElementType
		}
	}

	if i.inputTensor, err = newStorage(i.input); err == nil {
		i.outputTensor, err = newStorage(i.output)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to allocate tensors")
		return nil, i.abandon(InterpreterFailedToAllocateTensors)
	}

	i.delegate = newDelegate(opts, true)
	start := i.delegate.mode()
	var modelToken string
	if opts.Delegate != nil {
		modelToken = opts.Delegate.ModelToken
	}
	i.session, err = withDelegateFallback(i.delegate.CacheDir(), modelToken, start,
		func(mode delegateMode) (*ort.AdvancedSession, error) {
			if mode != start {
				i.releaseDelegate()
				if mode == delegateUncached {
					if i.delegate = newDelegate(opts, false); i.delegate == nil {
						return nil, errors.New("hardware delegate is not available")
					}
				}
			}
			return i.createSession(opts.ORTOptions)
		})
	if err != nil {
		log.Error().Err(err).Msg("failed to create onnxruntime session")
		return nil, i.abandon(InterpreterFailedToLoadModel)
	}
	return i, nil
}

func (i *Interpreter) releaseDelegate() {
	if err := i.delegate.Destroy(); err != nil {
		log.Error().Err(err).Msg("failed to release delegate")
	}
	i.delegate = nil
}

// abandon releases a partially constructed interpreter and returns cause.
func (i *Interpreter) abandon(cause InterpreterError) error {
	if err := i.Destroy(); err != nil {
		log.Error().Err(err).Msg("failed to release partially constructed interpreter")
	}
	return cause
}

func describe(info ort.InputOutputInfo, parsed []TensorDescriptor) TensorDescriptor {
	d := TensorDescriptor{
		Name:        info.Name,
		ElementType: ElementType(info.DataType),
		Shape:       Shape(info.Dimensions),
	}
	for _, p := range parsed {
		if p.Name == info.Name {
			d.Quantization = p.Quantization
		}
	}
	return d
}

func newStorage(d TensorDescriptor) (*ort.CustomDataTensor, error) {
	data := make([]byte, d.Shape.FlattenedSize()*d.ElementType.Size())
	return ort.NewCustomDataTensor(ort.NewShape(d.Shape...), data, ort.TensorElementDataType(d.ElementType))
}

func (i *Interpreter) createSession(o *options.OrtOptions) (*ort.AdvancedSession, error) {
	sessionOptions, err := newSessionOptions(o)
	if err != nil {
		return nil, err
	}
	if i.delegate != nil {
		if attachErr := i.delegate.attach(sessionOptions); attachErr != nil {
			log.Info().Err(attachErr).Msg("hardware delegate cannot be attached, running on CPU")
			i.releaseDelegate()
		}
	}
	session, err := ort.NewAdvancedSessionWithONNXData(
		i.modelBytes,
		[]string{i.input.Name},
		[]string{i.output.Name},
		[]ort.Value{i.inputTensor},
		[]ort.Value{i.outputTensor},
		sessionOptions,
	)
	if err != nil {
		return nil, errors.Join(err, sessionOptions.Destroy())
	}
	i.sessionOptions = sessionOptions
	return session, nil
}

func newSessionOptions(o *options.OrtOptions) (*ort.SessionOptions, error) {
	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if o == nil {
		return sessionOptions, nil
	}
	if err = applySessionOptions(sessionOptions, o); err != nil {
		return nil, errors.Join(err, sessionOptions.Destroy())
	}
	return sessionOptions, nil
}

func applySessionOptions(sessionOptions *ort.SessionOptions, o *options.OrtOptions) error {
	if o.IntraOpNumThreads != nil {
		if err := sessionOptions.SetIntraOpNumThreads(*o.IntraOpNumThreads); err != nil {
			return err
		}
	}
	if o.InterOpNumThreads != nil {
		if err := sessionOptions.SetInterOpNumThreads(*o.InterOpNumThreads); err != nil {
			return err
		}
	}
	if o.CPUMemArena != nil {
		if err := sessionOptions.SetCpuMemArena(*o.CPUMemArena); err != nil {
			return err
		}
	}
	if o.MemPattern != nil {
		if err := sessionOptions.SetMemPattern(*o.MemPattern); err != nil {
			return err
		}
	}
	if o.CudaOptions != nil {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer func() {
			if destroyErr := cudaOptions.Destroy(); destroyErr != nil {
				log.Error().Err(destroyErr).Msg("failed to release CUDA options")
			}
		}()
		if len(o.CudaOptions) > 0 {
			if err = cudaOptions.Update(o.CudaOptions); err != nil {
				return err
			}
		}
		if err = sessionOptions.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return err
		}
	}
	return nil
}

func (i *Interpreter) Name() string {
	return "ORT"
}

func (i *Interpreter) InputDescriptor() TensorDescriptor {
	return i.input
}

func (i *Interpreter) OutputDescriptor() TensorDescriptor {
	return i.output
}

// HasDelegate reports whether a hardware delegate is attached.
func (i *Interpreter) HasDelegate() bool {
	return i.delegate != nil
}

// Destroy releases the delegate, the session, the tensors and session
// options, then the model, in that order. It is safe to call more than once.
func (i *Interpreter) Destroy() error {
	var err error
	if i.delegate != nil {
		err = errors.Join(err, i.delegate.Destroy())
		i.delegate = nil
	}
	if i.session != nil {
		err = errors.Join(err, i.session.Destroy())
		i.session = nil
	}
	if i.inputTensor != nil {
		err = errors.Join(err, i.inputTensor.Destroy())
		i.inputTensor = nil
	}
	if i.outputTensor != nil {
		err = errors.Join(err, i.outputTensor.Destroy())
		i.outputTensor = nil
	}
	if i.sessionOptions != nil {
		err = errors.Join(err, i.sessionOptions.Destroy())
		i.sessionOptions = nil
	}
	i.modelBytes = nil
	return err
}

func (i *Interpreter) fail(f failure) error {
	return interpreterFailure(f)
}

func (i *Interpreter) profilingFrame() *profiling.Frame {
	return i.frame
}

func (i *Interpreter) inputStorage(count int) ([]byte, failure) {
	if i.inputTensor == nil {
		return nil, failTensorNotCreated
	}
	if count != i.input.Shape.FlattenedSize() {
		return nil, failInputSize
	}
	return i.inputTensor.GetData(), failNone
}

func (i *Interpreter) invoke() error {
	if i.session == nil {
		return errors.New("session has been destroyed")
	}
	return i.session.Run()
}

func (i *Interpreter) outputStorage() ([]byte, failure) {
	if i.outputTensor == nil {
		return nil, failTensorNotCreated
	}
	return i.outputTensor.GetData(), failNone
}
