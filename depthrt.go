package depthrt

import (
	"errors"
	"fmt"

	"github.com/phuslu/log"

	"github.com/knights-analytics/depthrt/backends"
	"github.com/knights-analytics/depthrt/options"
	"github.com/knights-analytics/depthrt/profiling"
	"github.com/knights-analytics/depthrt/util/fileutil"
)

// Error is returned by runtime construction and model loading.
type Error uint8

const (
	ErrUnknown Error = iota
	ErrUnknownBackend
	ErrModelNotFound
	ErrFailedToReadModel
	ErrEnvironment
	ErrEnvironmentActive
	ErrDestroyed
)

func (e Error) Error() string {
	switch e {
	case ErrUnknownBackend:
		return "depthrt: unknown or disabled backend"
	case ErrModelNotFound:
		return "depthrt: model not found"
	case ErrFailedToReadModel:
		return "depthrt: failed to read model"
	case ErrEnvironment:
		return "depthrt: failed to initialise the onnxruntime environment"
	case ErrEnvironmentActive:
		return "depthrt: another ORT runtime is currently active"
	case ErrDestroyed:
		return "depthrt: runtime has been destroyed"
	default:
		return "depthrt: unknown error"
	}
}

// Runtime owns one backend together with the environment it was created in.
// Callers thread it through Run and EstimateDepth and release it with Destroy.
type Runtime struct {
	backend            backends.Backend
	options            *options.Options
	environmentDestroy func() error
}

type runtimeFactory func(r *Runtime, modelBytes []byte) error

func newRuntime(backend string, modelBytes []byte, create runtimeFactory, opts ...options.WithOption) (*Runtime, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backend
	for _, option := range opts {
		if err := option(parsedOptions); err != nil {
			return nil, err
		}
	}

	r := &Runtime{
		options: parsedOptions,
		environmentDestroy: func() error {
			return nil
		},
	}
	if err := create(r, modelBytes); err != nil {
		return nil, err
	}
	log.Info().Str("backend", backend).
		Str("input", r.backend.InputDescriptor().String()).
		Str("output", r.backend.OutputDescriptor().String()).
		Msg("Runtime created")
	return r, nil
}

// NewRuntime creates a runtime on the named backend, "ORT" or "GO".
func NewRuntime(backend string, modelBytes []byte, opts ...options.WithOption) (*Runtime, error) {
	switch backend {
	case "ORT":
		return NewORTRuntime(modelBytes, opts...)
	case "GO":
		return NewGoRuntime(modelBytes, opts...)
	default:
		log.Error().Str("backend", backend).Msg("Unknown backend")
		return nil, ErrUnknownBackend
	}
}

// LoadModelBytes reads a serialized ONNX model from a local path or any URL
// supported by fileutil.
func LoadModelBytes(path string) ([]byte, error) {
	exists, err := fileutil.FileExists(path)
	if err != nil || !exists {
		log.Error().Err(err).Str("path", path).Msg("Model not found")
		return nil, ErrModelNotFound
	}
	modelBytes, err := fileutil.ReadFileBytes(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to read model")
		return nil, ErrFailedToReadModel
	}
	if len(modelBytes) == 0 {
		log.Error().Str("path", path).Msg("Model file is empty")
		return nil, ErrFailedToReadModel
	}
	return modelBytes, nil
}

// Backend returns the session the runtime owns, nil once destroyed.
func (r *Runtime) Backend() backends.Backend {
	return r.backend
}

func (r *Runtime) InputDescriptor() backends.TensorDescriptor {
	if r.backend == nil {
		return backends.TensorDescriptor{}
	}
	return r.backend.InputDescriptor()
}

func (r *Runtime) OutputDescriptor() backends.TensorDescriptor {
	if r.backend == nil {
		return backends.TensorDescriptor{}
	}
	return r.backend.OutputDescriptor()
}

// Frame returns the profiling frame passed with options.WithProfilingFrame.
func (r *Runtime) Frame() *profiling.Frame {
	return r.options.Frame
}

// Run forwards to backends.Run on the runtime's backend.
func Run[I, O backends.HostElement](r *Runtime, input []I, output []O) error {
	if r == nil || r.backend == nil {
		return ErrDestroyed
	}
	return backends.Run(r.backend, input, output)
}

// Destroy releases the backend, the session options and finally the
// environment. Calling it again, or on a nil runtime, is a no-op.
func (r *Runtime) Destroy() error {
	if r == nil || r.backend == nil {
		return nil
	}
	log.Info().Str("backend", r.backend.Name()).Msg("Destroying runtime")
	var errList []error
	errList = append(errList, r.backend.Destroy())
	r.backend = nil
	if r.options.Destroy != nil {
		errList = append(errList, r.options.Destroy())
		r.options.Destroy = nil
	}
	if r.environmentDestroy != nil {
		errList = append(errList, r.environmentDestroy())
		r.environmentDestroy = nil
	}
	if err := errors.Join(errList...); err != nil {
		return fmt.Errorf("destroying runtime: %w", err)
	}
	return nil
}
