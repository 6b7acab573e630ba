//go:build !cgo || (!ORT && !ALL)

package backends

import (
	"github.com/phuslu/log"

	"github.com/knights-analytics/depthrt/options"
	"github.com/knights-analytics/depthrt/profiling"
)

type Interpreter struct {
	noCopy noCopy
}

func NewInterpreter(_ []byte, _ *options.Options) (*Interpreter, error) {
	log.Error().Msg("ORT is not enabled, build with -tags ORT")
	return nil, InterpreterFailedToLoadModel
}

func (i *Interpreter) Name() string                       { return "ORT" }
func (i *Interpreter) InputDescriptor() TensorDescriptor  { return TensorDescriptor{} }
func (i *Interpreter) OutputDescriptor() TensorDescriptor { return TensorDescriptor{} }
func (i *Interpreter) HasDelegate() bool                  { return false }
func (i *Interpreter) Destroy() error                     { return nil }
func (i *Interpreter) fail(f failure) error               { return interpreterFailure(f) }
func (i *Interpreter) profilingFrame() *profiling.Frame   { return nil }
func (i *Interpreter) invoke() error                      { return InterpreterFailedToInvoke }

func (i *Interpreter) inputStorage(_ int) ([]byte, failure) {
	return nil, failTensorNotCreated
}

func (i *Interpreter) outputStorage() ([]byte, failure) {
	return nil, failTensorNotCreated
}
