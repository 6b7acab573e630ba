//go:build cgo && (ORT || ALL)

package backends

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/depthrt/internal/onnxtest"
	"github.com/knights-analytics/depthrt/options"
)

func TestMain(m *testing.M) {
	opts := options.Defaults()
	ort.SetSharedLibraryPath(*opts.ORTOptions.LibraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		panic(err)
	}
	code := m.Run()
	if err := ort.DestroyEnvironment(); err != nil {
		panic(err)
	}
	os.Exit(code)
}

func cpuOptions() *options.Options {
	opts := options.Defaults()
	opts.Backend = "ORT"
	opts.Delegate.Disabled = true
	return opts
}

func TestInterpreterIdentity(t *testing.T) {
	interpreter, err := NewInterpreter(onnxtest.Identity(onnxtest.Float32, 4).Bytes(), cpuOptions())
	require.NoError(t, err)
	defer func() { assert.NoError(t, interpreter.Destroy()) }()

	assert.False(t, interpreter.HasDelegate())
	out := make([]float32, 4)
	require.NoError(t, Run(interpreter, []float32{1.0, 2.0, 3.0, 4.0}, out))
	assert.Equal(t, []float32{1.0, 2.0, 3.0, 4.0}, out)

	// storage is reused across calls
	require.NoError(t, Run(interpreter, []float32{-1, -2, -3, -4}, out))
	assert.Equal(t, []float32{-1, -2, -3, -4}, out)
}

func TestInterpreterQuantizedIdentity(t *testing.T) {
	model := onnxtest.Quantized(onnxtest.Identity(onnxtest.Uint8, 2), 0.1, 0)
	interpreter, err := NewInterpreter(model.Bytes(), cpuOptions())
	require.NoError(t, err)
	defer func() { assert.NoError(t, interpreter.Destroy()) }()

	require.True(t, interpreter.InputDescriptor().IsQuantized())
	out := make([]float32, 2)
	require.NoError(t, Run(interpreter, []float32{1.0, 2.0}, out))
	assert.Equal(t, []byte{10, 20}, interpreter.inputTensor.GetData())
	assert.InDeltaSlice(t, []float32{1.0, 2.0}, out, 0.1)
}

func TestInterpreterSizeMismatch(t *testing.T) {
	interpreter, err := NewInterpreter(onnxtest.Identity(onnxtest.Float32, 4).Bytes(), cpuOptions())
	require.NoError(t, err)
	defer func() { assert.NoError(t, interpreter.Destroy()) }()

	out := []float32{6, 6, 6, 6}
	assert.ErrorIs(t, Run(interpreter, []float32{1, 2}, out), InterpreterInvalidInputSize)
	assert.Equal(t, []float32{6, 6, 6, 6}, out)
}

func TestInterpreterRejectsDynamicShapes(t *testing.T) {
	_, err := NewInterpreter(onnxtest.Identity(onnxtest.Float32, 1, -1).Bytes(), cpuOptions())
	assert.ErrorIs(t, err, InterpreterUnsupportedDynamicShape)
}

func TestInterpreterRejectsGarbage(t *testing.T) {
	_, err := NewInterpreter([]byte("garbage"), cpuOptions())
	assert.ErrorIs(t, err, InterpreterFailedToLoadModel)
}

func TestInterpreterDelegateFallsBackToCPU(t *testing.T) {
	opts := options.Defaults()
	opts.Backend = "ORT"
	opts.Delegate.CacheDir = t.TempDir()
	opts.Delegate.ModelToken = "identity-test"

	interpreter, err := NewInterpreter(onnxtest.Identity(onnxtest.Float32, 2).Bytes(), opts)
	require.NoError(t, err)
	defer func() { assert.NoError(t, interpreter.Destroy()) }()

	out := make([]float32, 2)
	require.NoError(t, Run(interpreter, []float32{1, 2}, out))
	assert.Equal(t, []float32{1, 2}, out)
}

func TestInterpreterDestroyIsIdempotent(t *testing.T) {
	interpreter, err := NewInterpreter(onnxtest.Identity(onnxtest.Float32, 2).Bytes(), cpuOptions())
	require.NoError(t, err)
	require.NoError(t, interpreter.Destroy())
	require.NoError(t, interpreter.Destroy())

	err = Run(interpreter, []float32{1, 2}, make([]float32, 2))
	assert.True(t, errors.Is(err, InterpreterTensorNotYetCreated))
}
