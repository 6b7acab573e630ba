package safeconv

import (
	"math"
	"time"

	"golang.org/x/exp/constraints"
)

// Number is any integer or floating point value.
type Number interface {
	constraints.Integer | constraints.Float
}

// ToUint8 converts v to uint8, clamping into [0, MaxUint8]. NaN maps to 0.
func ToUint8[T Number](v T) uint8 {
	f := float64(v)
	if f != f || f <= 0 {
		return 0
	}
	if f >= math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(f)
}

// Int64ToInt converts int64 to int with clamping on 32-bit platforms.
func Int64ToInt(v int64) int {
	if v > math.MaxInt {
		return math.MaxInt
	}
	if v < math.MinInt {
		return math.MinInt
	}
	return int(v)
}

// Product multiplies dims and returns -1 if any dimension is not positive
// or the product overflows int.
func Product(dims []int64) int {
	n := int64(1)
	for _, d := range dims {
		if d <= 0 {
			return -1
		}
		if n > math.MaxInt64/d {
			return -1
		}
		n *= d
	}
	return Int64ToInt(n)
}

// DurationToMillis returns d in fractional milliseconds at microsecond resolution.
func DurationToMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
