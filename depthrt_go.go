package depthrt

import (
	"github.com/knights-analytics/depthrt/backends"
	"github.com/knights-analytics/depthrt/options"
)

// NewGoRuntime creates a runtime backed by the pure Go session. It needs
// neither cgo nor the onnxruntime shared library.
func NewGoRuntime(modelBytes []byte, opts ...options.WithOption) (*Runtime, error) {
	return newRuntime("GO", modelBytes, goRuntime, opts...)
}

func goRuntime(r *Runtime, modelBytes []byte) error {
	session, err := backends.NewGoSession(modelBytes, r.options)
	if err != nil {
		return err
	}
	r.backend = session
	return nil
}
