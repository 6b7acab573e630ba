package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/depthrt/internal/onnxtest"
	"github.com/knights-analytics/depthrt/options"
	"github.com/knights-analytics/depthrt/profiling"
)

func goOptions() *options.Options {
	opts := options.Defaults()
	opts.Backend = "GO"
	return opts
}

func TestGoSessionIdentity(t *testing.T) {
	session, err := NewGoSession(onnxtest.AddZeros(4).Bytes(), goOptions())
	require.NoError(t, err)
	defer func() { assert.NoError(t, session.Destroy()) }()

	assert.Equal(t, "GO", session.Name())
	assert.Equal(t, Shape{4}, session.InputDescriptor().Shape)

	out := make([]float32, 4)
	require.NoError(t, Run(session, []float32{1.0, 2.0, 3.0, 4.0}, out))
	assert.Equal(t, []float32{1.0, 2.0, 3.0, 4.0}, out)
}

func TestGoSessionResolvesDynamicDimension(t *testing.T) {
	session, err := NewGoSession(onnxtest.AddZeros(1, -1).Bytes(), goOptions())
	require.NoError(t, err)
	defer func() { assert.NoError(t, session.Destroy()) }()

	in := []float32{0.5, 1.5, 2.5, 3.5, 4.5, 5.5}
	out := make([]float32, len(in))
	require.NoError(t, Run(session, in, out))
	assert.Equal(t, in, out)
}

func TestGoSessionSizeMismatch(t *testing.T) {
	session, err := NewGoSession(onnxtest.AddZeros(4).Bytes(), goOptions())
	require.NoError(t, err)
	defer func() { assert.NoError(t, session.Destroy()) }()

	out := []float32{8, 8, 8, 8}
	assert.ErrorIs(t, Run(session, []float32{1, 2, 3}, out), SessionInvalidInputSize)
	assert.Equal(t, []float32{8, 8, 8, 8}, out)

	assert.ErrorIs(t, Run(session, []float64{1, 2, 3, 4}, out), SessionInvalidInputType)
	assert.Equal(t, []float32{8, 8, 8, 8}, out)
}

func TestGoSessionProfiling(t *testing.T) {
	frame := profiling.NewFrame("Inference")
	opts := goOptions()
	opts.Frame = frame

	session, err := NewGoSession(onnxtest.AddZeros(2).Bytes(), opts)
	require.NoError(t, err)
	defer func() { assert.NoError(t, session.Destroy()) }()
	require.NoError(t, Run(session, []float32{1, 2}, make([]float32, 2)))

	report := frame.Finish()
	assert.Contains(t, report, "Creating session")
	assert.Contains(t, report, "Invoking of model")
}

func TestGoSessionConstructionErrors(t *testing.T) {
	_, err := NewGoSession([]byte("not a model"), goOptions())
	assert.ErrorIs(t, err, SessionFailedToLoadModel)

	twoInputs := onnxtest.AddZeros(2)
	twoInputs.Inputs = append(twoInputs.Inputs, onnxtest.Value{Name: "extra", ElementType: onnxtest.Float32, Shape: []int64{2}})
	_, err = NewGoSession(twoInputs.Bytes(), goOptions())
	assert.ErrorIs(t, err, SessionInvalidInputCount)

	noOutputs := onnxtest.AddZeros(2)
	noOutputs.Outputs = nil
	_, err = NewGoSession(noOutputs.Bytes(), goOptions())
	assert.ErrorIs(t, err, SessionInvalidOutputCount)

	_, err = NewGoSession(onnxtest.Identity(onnxtest.Float16, 2).Bytes(), goOptions())
	assert.ErrorIs(t, err, SessionUnsupportedElementType)
}

func TestGoSessionDestroy(t *testing.T) {
	session, err := NewGoSession(onnxtest.AddZeros(2).Bytes(), goOptions())
	require.NoError(t, err)
	require.NoError(t, session.Destroy())
	require.NoError(t, session.Destroy())

	out := []float32{4, 4}
	assert.ErrorIs(t, Run(session, []float32{1, 2}, out), SessionTensorNotYetCreated)
	assert.Equal(t, []float32{4, 4}, out)
}

func TestResolveShape(t *testing.T) {
	shape, ok := resolveShape(Shape{1, 3, -1, -1}, 12)
	require.True(t, ok)
	assert.Equal(t, []int{1, 3, 1, 4}, shape)

	shape, ok = resolveShape(Shape{2, 2}, 4)
	require.True(t, ok)
	assert.Equal(t, []int{2, 2}, shape)

	_, ok = resolveShape(Shape{2, 2}, 5)
	assert.False(t, ok)
	_, ok = resolveShape(Shape{3, -1}, 7)
	assert.False(t, ok)
	_, ok = resolveShape(Shape{-1}, 0)
	assert.False(t, ok)
}

func TestGoSessionLogsRunFailures(t *testing.T) {
	session, err := NewGoSession(onnxtest.AddZeros(4).Bytes(), goOptions())
	require.NoError(t, err)
	defer func() { assert.NoError(t, session.Destroy()) }()

	logs := captureLog(t)
	err = Run(session, []float32{1, 2, 3}, make([]float32, 4))
	require.ErrorIs(t, err, SessionInvalidInputSize)
	assert.Contains(t, logs.String(), `"backend":"GO"`)
	assert.Contains(t, logs.String(), SessionInvalidInputSize.Error())
}

func newQuantizedFlatten(t *testing.T) *GoSession {
	t.Helper()
	model := onnxtest.Quantized(onnxtest.Flatten(onnxtest.Uint8, 1, 2), 0.1, 0)
	session, err := NewGoSession(model.Bytes(), goOptions())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, session.Destroy()) })

	require.True(t, session.InputDescriptor().IsQuantized())
	require.True(t, session.OutputDescriptor().IsQuantized())
	return session
}

func TestGoSessionQuantizedRun(t *testing.T) {
	session := newQuantizedFlatten(t)

	out := make([]float32, 2)
	require.NoError(t, Run(session, []float32{1.0, 2.0}, out))
	assert.Equal(t, []byte{10, 20}, session.inputBytes)
	assert.Equal(t, []float32{1.0, 2.0}, out)
}

func TestGoSessionQuantizedSaturatesAndRounds(t *testing.T) {
	session := newQuantizedFlatten(t)

	cases := []struct {
		name   string
		in     []float32
		stored []byte
		out    []float32
	}{
		{name: "saturation", in: []float32{30, -1}, stored: []byte{255, 0}, out: []float32{25.5, 0}},
		{name: "rounding", in: []float32{0.04, 0.06}, stored: []byte{0, 1}, out: []float32{0, 0.1}},
		{name: "nearest", in: []float32{0.16, 0.24}, stored: []byte{2, 2}, out: []float32{0.2, 0.2}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := make([]float32, 2)
			require.NoError(t, Run(session, c.in, out))
			assert.Equal(t, c.stored, session.inputBytes)
			assert.InDeltaSlice(t, c.out, out, 1e-6)
		})
	}
}

func TestGoSessionQuantizedRejectsIntegerBuffers(t *testing.T) {
	session := newQuantizedFlatten(t)
	out := []float32{4, 4}
	assert.ErrorIs(t, Run(session, []uint8{1, 2}, out), QuantizationUnsupportedType)
	assert.Equal(t, []float32{4, 4}, out)
}
