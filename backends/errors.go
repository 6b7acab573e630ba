package backends

// failure is the set of run failures shared by both backends. Each backend
// translates it into its own error enumeration.
type failure uint8

const (
	failNone failure = iota
	failInputType
	failInputSize
	failOutputType
	failOutputSize
	failInvoke
	failTensorNotCreated
	failQuantizedInputType
	failQuantizedOutputType
	failBufferCopy
)

// InterpreterError is returned by the fixed-graph interpreter.
type InterpreterError uint8

const (
	InterpreterUnknown InterpreterError = iota
	InterpreterInvalidInputType
	InterpreterInvalidInputSize
	InterpreterInvalidOutputType
	InterpreterInvalidOutputSize
	InterpreterFailedToInvoke
	InterpreterTensorNotYetCreated
	InterpreterInvalidQuantizedInputType
	InterpreterInvalidQuantizedOutputType
	InterpreterFailedToCopyBuffer
	InterpreterFailedToLoadModel
	InterpreterFailedToAllocateTensors
	InterpreterInvalidInputCount
	InterpreterInvalidOutputCount
	InterpreterUnsupportedDynamicShape
	InterpreterUnsupportedElementType
)

func (e InterpreterError) Error() string {
	switch e {
	case InterpreterInvalidInputType:
		return "interpreter: input buffer type does not match the input tensor"
	case InterpreterInvalidInputSize:
		return "interpreter: input buffer length does not match the input tensor"
	case InterpreterInvalidOutputType:
		return "interpreter: output buffer type does not match the output tensor"
	case InterpreterInvalidOutputSize:
		return "interpreter: output buffer length does not match the output tensor"
	case InterpreterFailedToInvoke:
		return "interpreter: failed to invoke the model"
	case InterpreterTensorNotYetCreated:
		return "interpreter: tensor storage has not been created"
	case InterpreterInvalidQuantizedInputType:
		return "interpreter: quantized input tensor has an unsupported storage type"
	case InterpreterInvalidQuantizedOutputType:
		return "interpreter: quantized output tensor has an unsupported storage type"
	case InterpreterFailedToCopyBuffer:
		return "interpreter: failed to copy buffer"
	case InterpreterFailedToLoadModel:
		return "interpreter: failed to load model"
	case InterpreterFailedToAllocateTensors:
		return "interpreter: failed to allocate tensors"
	case InterpreterInvalidInputCount:
		return "interpreter: model must have exactly one input"
	case InterpreterInvalidOutputCount:
		return "interpreter: model must have exactly one output"
	case InterpreterUnsupportedDynamicShape:
		return "interpreter: model tensors must have static shapes"
	case InterpreterUnsupportedElementType:
		return "interpreter: model tensor has an unsupported element type"
	default:
		return "interpreter: unknown error"
	}
}

// SessionError is returned by the dynamic-graph session.
type SessionError uint8

const (
	SessionUnknown SessionError = iota
	SessionInvalidInputType
	SessionInvalidInputSize
	SessionInvalidOutputType
	SessionInvalidOutputSize
	SessionRunInferenceException
	SessionTensorNotYetCreated
	SessionInvalidQuantizedInputType
	SessionInvalidQuantizedOutputType
	SessionFailedToCopyBuffer
	SessionFailedToLoadModel
	SessionInvalidInputCount
	SessionInvalidOutputCount
	SessionUnsupportedElementType
)

func (e SessionError) Error() string {
	switch e {
	case SessionInvalidInputType:
		return "session: input buffer type does not match the input tensor"
	case SessionInvalidInputSize:
		return "session: input buffer length does not match the input tensor"
	case SessionInvalidOutputType:
		return "session: output buffer type does not match the output tensor"
	case SessionInvalidOutputSize:
		return "session: output buffer length does not match the output tensor"
	case SessionRunInferenceException:
		return "session: inference failed"
	case SessionTensorNotYetCreated:
		return "session: tensor storage has not been created"
	case SessionInvalidQuantizedInputType:
		return "session: quantized input tensor has an unsupported storage type"
	case SessionInvalidQuantizedOutputType:
		return "session: quantized output tensor has an unsupported storage type"
	case SessionFailedToCopyBuffer:
		return "session: failed to copy buffer"
	case SessionFailedToLoadModel:
		return "session: failed to load model"
	case SessionInvalidInputCount:
		return "session: model must have exactly one input"
	case SessionInvalidOutputCount:
		return "session: model must have exactly one output"
	case SessionUnsupportedElementType:
		return "session: model tensor has an unsupported element type"
	default:
		return "session: unknown error"
	}
}

// QuantizationError is returned by the quantization codec.
type QuantizationError uint8

const (
	QuantizationUnknown QuantizationError = iota
	QuantizationUnsupportedType
	QuantizationUnsupportedAsymmetric
	QuantizationSizeMismatch
	QuantizationMissingParameters
)

func (e QuantizationError) Error() string {
	switch e {
	case QuantizationUnsupportedType:
		return "quantization: only floating point to uint8 is supported"
	case QuantizationUnsupportedAsymmetric:
		return "quantization: per-channel quantization is not supported"
	case QuantizationSizeMismatch:
		return "quantization: value and storage lengths differ"
	case QuantizationMissingParameters:
		return "quantization: tensor has no quantization parameters"
	default:
		return "quantization: unknown error"
	}
}

func interpreterFailure(f failure) error {
	switch f {
	case failNone:
		return nil
	case failInputType:
		return InterpreterInvalidInputType
	case failInputSize:
		return InterpreterInvalidInputSize
	case failOutputType:
		return InterpreterInvalidOutputType
	case failOutputSize:
		return InterpreterInvalidOutputSize
	case failInvoke:
		return InterpreterFailedToInvoke
	case failTensorNotCreated:
		return InterpreterTensorNotYetCreated
	case failQuantizedInputType:
		return InterpreterInvalidQuantizedInputType
	case failQuantizedOutputType:
		return InterpreterInvalidQuantizedOutputType
	case failBufferCopy:
		return InterpreterFailedToCopyBuffer
	default:
		return InterpreterUnknown
	}
}

func sessionFailure(f failure) error {
	switch f {
	case failNone:
		return nil
	case failInputType:
		return SessionInvalidInputType
	case failInputSize:
		return SessionInvalidInputSize
	case failOutputType:
		return SessionInvalidOutputType
	case failOutputSize:
		return SessionInvalidOutputSize
	case failInvoke:
		return SessionRunInferenceException
	case failTensorNotCreated:
		return SessionTensorNotYetCreated
	case failQuantizedInputType:
		return SessionInvalidQuantizedInputType
	case failQuantizedOutputType:
		return SessionInvalidQuantizedOutputType
	case failBufferCopy:
		return SessionFailedToCopyBuffer
	default:
		return SessionUnknown
	}
}
