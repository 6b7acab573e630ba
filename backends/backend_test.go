package backends

import (
	"bytes"
	"errors"
	"testing"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/knights-analytics/depthrt/profiling"
)

// identityBackend copies its input storage to its output storage on invoke.
type identityBackend struct {
	input     TensorDescriptor
	output    TensorDescriptor
	in        []byte
	out       []byte
	invokeErr error
	frame     *profiling.Frame
	invoked   int
}

func newIdentityBackend(input, output TensorDescriptor) *identityBackend {
	return &identityBackend{
		input:  input,
		output: output,
		in:     make([]byte, input.Shape.FlattenedSize()*input.ElementType.Size()),
		out:    make([]byte, output.Shape.FlattenedSize()*output.ElementType.Size()),
	}
}

func (b *identityBackend) Name() string                       { return "identity" }
func (b *identityBackend) InputDescriptor() TensorDescriptor  { return b.input }
func (b *identityBackend) OutputDescriptor() TensorDescriptor { return b.output }
func (b *identityBackend) Destroy() error                     { return nil }
func (b *identityBackend) fail(f failure) error               { return interpreterFailure(f) }
func (b *identityBackend) profilingFrame() *profiling.Frame   { return b.frame }

func (b *identityBackend) inputStorage(count int) ([]byte, failure) {
	if b.in == nil {
		return nil, failTensorNotCreated
	}
	if count != b.input.Shape.FlattenedSize() {
		return nil, failInputSize
	}
	return b.in, failNone
}

func (b *identityBackend) invoke() error {
	b.invoked++
	if b.invokeErr != nil {
		return b.invokeErr
	}
	copy(b.out, b.in)
	return nil
}

func (b *identityBackend) outputStorage() ([]byte, failure) {
	if b.out == nil {
		return nil, failTensorNotCreated
	}
	return b.out, failNone
}

// captureLog redirects the default logger into a buffer until the test ends.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := log.DefaultLogger.Writer
	log.DefaultLogger.Writer = &log.IOWriter{Writer: buf}
	t.Cleanup(func() { log.DefaultLogger.Writer = writer })
	return buf
}

func float32Tensor(name string, size int64) TensorDescriptor {
	return TensorDescriptor{Name: name, ElementType: ElementTypeFloat32, Shape: NewShape(size)}
}

func TestRunIsFaithfulCopy(t *testing.T) {
	b := newIdentityBackend(float32Tensor("x", 4), float32Tensor("y", 4))
	out := make([]float32, 4)
	require.NoError(t, Run(b, []float32{1.0, 2.0, 3.0, 4.0}, out))
	assert.Equal(t, []float32{1.0, 2.0, 3.0, 4.0}, out)
}

func TestRunCopiesEveryHostType(t *testing.T) {
	t.Run("int64", func(t *testing.T) {
		d := TensorDescriptor{Name: "x", ElementType: ElementTypeInt64, Shape: NewShape(3)}
		b := newIdentityBackend(d, d)
		out := make([]int64, 3)
		require.NoError(t, Run(b, []int64{-1, 0, 1 << 40}, out))
		assert.Equal(t, []int64{-1, 0, 1 << 40}, out)
	})
	t.Run("bool", func(t *testing.T) {
		d := TensorDescriptor{Name: "x", ElementType: ElementTypeBool, Shape: NewShape(2)}
		b := newIdentityBackend(d, d)
		out := make([]bool, 2)
		require.NoError(t, Run(b, []bool{true, false}, out))
		assert.Equal(t, []bool{true, false}, out)
	})
	t.Run("float16", func(t *testing.T) {
		d := TensorDescriptor{Name: "x", ElementType: ElementTypeFloat16, Shape: NewShape(2)}
		b := newIdentityBackend(d, d)
		in := []float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(-2)}
		out := make([]float16.Float16, 2)
		require.NoError(t, Run(b, in, out))
		assert.Equal(t, in, out)
	})
}

func TestRunQuantized(t *testing.T) {
	q := &Quantization{Scales: []float32{0.1}, ZeroPoints: []int32{0}}
	d := TensorDescriptor{Name: "x", ElementType: ElementTypeUint8, Shape: NewShape(2), Quantization: q}
	b := newIdentityBackend(d, d)

	out := make([]float32, 2)
	require.NoError(t, Run(b, []float32{1.0, 2.0}, out))
	assert.Equal(t, []byte{10, 20}, b.in)
	assert.InDeltaSlice(t, []float32{1.0, 2.0}, out, 0.1)
}

func TestRunQuantizedRejectsPerChannel(t *testing.T) {
	q := &Quantization{Scales: []float32{0.1, 0.2}, ZeroPoints: []int32{0, 0}}
	d := TensorDescriptor{Name: "x", ElementType: ElementTypeUint8, Shape: NewShape(2), Quantization: q}
	b := newIdentityBackend(d, d)

	out := []float32{7, 7}
	err := Run(b, []float32{1.0, 2.0}, out)
	assert.ErrorIs(t, err, QuantizationUnsupportedAsymmetric)
	assert.Equal(t, []float32{7, 7}, out)
	assert.Equal(t, 0, b.invoked)
}

func TestRunQuantizedRejectsIntegerHostBuffer(t *testing.T) {
	q := &Quantization{Scales: []float32{0.1}, ZeroPoints: []int32{0}}
	d := TensorDescriptor{Name: "x", ElementType: ElementTypeUint8, Shape: NewShape(2), Quantization: q}
	b := newIdentityBackend(d, d)
	err := Run(b, []int32{1, 2}, make([]float32, 2))
	assert.ErrorIs(t, err, QuantizationUnsupportedType)
}

func TestRunQuantizedFloatStorage(t *testing.T) {
	q := &Quantization{Scales: []float32{0.1}, ZeroPoints: []int32{0}}
	d := TensorDescriptor{Name: "x", ElementType: ElementTypeFloat32, Shape: NewShape(2), Quantization: q}
	b := newIdentityBackend(d, d)
	err := Run(b, []float32{1, 2}, make([]float32, 2))
	assert.ErrorIs(t, err, InterpreterInvalidQuantizedInputType)
}

func TestRunSizeMismatchLeavesOutputUnchanged(t *testing.T) {
	b := newIdentityBackend(float32Tensor("x", 4), float32Tensor("y", 4))
	out := []float32{9, 9, 9, 9}
	err := Run(b, []float32{1, 2, 3}, out)
	assert.ErrorIs(t, err, InterpreterInvalidInputSize)
	assert.Equal(t, []float32{9, 9, 9, 9}, out)
	assert.Equal(t, make([]byte, 16), b.in)
	assert.Equal(t, 0, b.invoked)
}

func TestRunTypeMismatch(t *testing.T) {
	b := newIdentityBackend(float32Tensor("x", 2), float32Tensor("y", 2))
	out := []float32{5, 5}
	assert.ErrorIs(t, Run(b, []int32{1, 2}, out), InterpreterInvalidInputType)
	assert.Equal(t, []float32{5, 5}, out)

	wrongOut := []int32{5, 5}
	assert.ErrorIs(t, Run(b, []float32{1, 2}, wrongOut), InterpreterInvalidOutputType)
	assert.Equal(t, []int32{5, 5}, wrongOut)
}

func TestRunOutputSizeMismatch(t *testing.T) {
	b := newIdentityBackend(float32Tensor("x", 2), float32Tensor("y", 2))
	out := []float32{5, 5, 5}
	assert.ErrorIs(t, Run(b, []float32{1, 2}, out), InterpreterInvalidOutputSize)
	assert.Equal(t, []float32{5, 5, 5}, out)
}

func TestRunInvokeFailureLeavesOutputUnchanged(t *testing.T) {
	b := newIdentityBackend(float32Tensor("x", 2), float32Tensor("y", 2))
	b.invokeErr = errors.New("kernel failed")
	out := []float32{3, 3}
	err := Run(b, []float32{1, 2}, out)
	assert.ErrorIs(t, err, InterpreterFailedToInvoke)
	assert.Equal(t, []float32{3, 3}, out)
	assert.Equal(t, 1, b.invoked)
}

func TestRunTensorNotYetCreated(t *testing.T) {
	b := newIdentityBackend(float32Tensor("x", 2), float32Tensor("y", 2))
	b.in = nil
	assert.ErrorIs(t, Run(b, []float32{1, 2}, make([]float32, 2)), InterpreterTensorNotYetCreated)
}

func TestRunRecordsProfilingScopes(t *testing.T) {
	b := newIdentityBackend(float32Tensor("x", 2), float32Tensor("y", 2))
	b.frame = profiling.NewFrame("Inference")
	require.NoError(t, Run(b, []float32{1, 2}, make([]float32, 2)))

	var names []string
	for _, r := range b.frame.Records() {
		names = append(names, r.Name)
		assert.Equal(t, 0, r.Depth)
	}
	assert.Equal(t, []string{"Loading input", "Invoking of model", "Reading output"}, names)
	assert.Equal(t, 0, b.frame.Depth())
}

func TestFailureMappingHasUnknownArm(t *testing.T) {
	assert.NoError(t, interpreterFailure(failNone))
	assert.NoError(t, sessionFailure(failNone))
	assert.Equal(t, InterpreterUnknown, interpreterFailure(failure(200)))
	assert.Equal(t, SessionUnknown, sessionFailure(failure(200)))
	assert.Equal(t, SessionRunInferenceException, sessionFailure(failInvoke))
}

func TestRunLogsEveryFailure(t *testing.T) {
	q := &Quantization{Scales: []float32{0.1, 0.2}, ZeroPoints: []int32{0, 0}}
	cases := []struct {
		name string
		run  func(b *identityBackend) error
		b    *identityBackend
		want error
	}{
		{
			name: "input size",
			b:    newIdentityBackend(float32Tensor("x", 4), float32Tensor("y", 4)),
			run:  func(b *identityBackend) error { return Run(b, []float32{1, 2, 3}, make([]float32, 4)) },
			want: InterpreterInvalidInputSize,
		},
		{
			name: "output type",
			b:    newIdentityBackend(float32Tensor("x", 2), float32Tensor("y", 2)),
			run:  func(b *identityBackend) error { return Run(b, []float32{1, 2}, make([]int32, 2)) },
			want: InterpreterInvalidOutputType,
		},
		{
			name: "quantization",
			b: newIdentityBackend(
				TensorDescriptor{Name: "x", ElementType: ElementTypeUint8, Shape: NewShape(2), Quantization: q},
				float32Tensor("y", 2),
			),
			run:  func(b *identityBackend) error { return Run(b, []float32{1, 2}, make([]float32, 2)) },
			want: QuantizationUnsupportedAsymmetric,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			logs := captureLog(t)
			err := c.run(c.b)
			require.ErrorIs(t, err, c.want)
			assert.Contains(t, logs.String(), `"level":"error"`)
			assert.Contains(t, logs.String(), `"backend":"identity"`)
			assert.Contains(t, logs.String(), `"message":"run failed"`)
			assert.Contains(t, logs.String(), err.Error())
		})
	}
}

func TestRunSuccessDoesNotLogErrors(t *testing.T) {
	logs := captureLog(t)
	b := newIdentityBackend(float32Tensor("x", 2), float32Tensor("y", 2))
	require.NoError(t, Run(b, []float32{1, 2}, make([]float32, 2)))
	assert.NotContains(t, logs.String(), `"level":"error"`)
}
