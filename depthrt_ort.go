//go:build cgo && (ORT || ALL)

package depthrt

import (
	"fmt"

	"github.com/phuslu/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/depthrt/backends"
	"github.com/knights-analytics/depthrt/options"
	"github.com/knights-analytics/depthrt/util/fileutil"
)

// NewORTRuntime creates a runtime backed by an ONNX Runtime interpreter.
// Only one ORT runtime can be active at a time since the environment is
// process wide.
func NewORTRuntime(modelBytes []byte, opts ...options.WithOption) (*Runtime, error) {
	return newRuntime("ORT", modelBytes, ortRuntime, opts...)
}

func ortRuntime(r *Runtime, modelBytes []byte) error {
	if ort.IsInitialized() {
		log.Error().Msg("Another ORT runtime is currently active")
		return ErrEnvironmentActive
	}

	if initialised, err := initialiseORT(r.options.ORTOptions); err != nil {
		log.Error().Err(err).Msg("Failed to initialise onnxruntime")
		if initialised {
			if envErr := ort.DestroyEnvironment(); envErr != nil {
				log.Error().Err(envErr).Msg("Failed to destroy onnxruntime environment")
			}
		}
		return ErrEnvironment
	}
	r.environmentDestroy = func() error {
		return ort.DestroyEnvironment()
	}

	interpreter, err := backends.NewInterpreter(modelBytes, r.options)
	if err != nil {
		if envErr := ort.DestroyEnvironment(); envErr != nil {
			log.Error().Err(envErr).Msg("Failed to destroy onnxruntime environment")
		}
		return err
	}
	r.backend = interpreter
	return nil
}

func initialiseORT(o *options.OrtOptions) (bool, error) {
	if o.LibraryPath != nil {
		exists, err := fileutil.FileExists(*o.LibraryPath)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, fmt.Errorf("cannot find the ort library at: %s", *o.LibraryPath)
		}
		ort.SetSharedLibraryPath(*o.LibraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return false, err
	}

	if o.Telemetry != nil && *o.Telemetry {
		if err := ort.EnableTelemetry(); err != nil {
			return true, err
		}
	} else {
		if err := ort.DisableTelemetry(); err != nil {
			return true, err
		}
	}
	return true, nil
}
