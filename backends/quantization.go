package backends

import (
	"math"

	"golang.org/x/exp/constraints"

	"github.com/knights-analytics/depthrt/util/safeconv"
)

// QuantizeValue maps a real value onto uint8 storage: round(value/scale) + zeroPoint,
// saturated to the uint8 range.
func QuantizeValue[F constraints.Float](value F, scale float32, zeroPoint int32) uint8 {
	scaled := math.Round(float64(value)/float64(scale)) + float64(zeroPoint)
	return safeconv.ToUint8(scaled)
}

// DequantizeValue maps uint8 storage back to a real value: scale * (stored - zeroPoint).
func DequantizeValue[F constraints.Float](stored uint8, scale float32, zeroPoint int32) F {
	return F(float64(scale) * float64(int32(stored)-zeroPoint))
}

// quantizationParams validates a descriptor for the codec and returns its single
// scale and zero point.
func quantizationParams(storage ElementType, q *Quantization) (float32, int32, error) {
	if q == nil {
		return 0, 0, QuantizationMissingParameters
	}
	if storage != ElementTypeUint8 {
		return 0, 0, QuantizationUnsupportedType
	}
	if len(q.Scales) == 0 || len(q.ZeroPoints) == 0 {
		return 0, 0, QuantizationMissingParameters
	}
	if len(q.Scales) != 1 || len(q.ZeroPoints) != 1 {
		return 0, 0, QuantizationUnsupportedAsymmetric
	}
	if !(q.Scales[0] > 0) || math.IsInf(float64(q.Scales[0]), 1) {
		return 0, 0, QuantizationMissingParameters
	}
	return q.Scales[0], q.ZeroPoints[0], nil
}

// Quantize writes values into stored using the tensor's quantization. stored
// is left untouched unless every check passes.
func Quantize[F constraints.Float](values []F, stored []byte, storage ElementType, q *Quantization) error {
	scale, zeroPoint, err := quantizationParams(storage, q)
	if err != nil {
		return err
	}
	if len(values) != len(stored) {
		return QuantizationSizeMismatch
	}
	for i, v := range values {
		stored[i] = QuantizeValue(v, scale, zeroPoint)
	}
	return nil
}

// Dequantize writes the real values of stored into values. values is left
// untouched unless every check passes.
func Dequantize[F constraints.Float](stored []byte, values []F, storage ElementType, q *Quantization) error {
	scale, zeroPoint, err := quantizationParams(storage, q)
	if err != nil {
		return err
	}
	if len(values) != len(stored) {
		return QuantizationSizeMismatch
	}
	for i, s := range stored {
		values[i] = DequantizeValue[F](s, scale, zeroPoint)
	}
	return nil
}
