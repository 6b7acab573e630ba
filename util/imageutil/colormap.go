package imageutil

import (
	"image"
	"math"

	"github.com/knights-analytics/depthrt/util/safeconv"
)

type colorStop struct {
	at      float32
	r, g, b float32
}

// inferno-like gradient, larger values are brighter
var depthGradient = []colorStop{
	{at: 0.0, r: 0, g: 0, b: 4},
	{at: 0.25, r: 87, g: 16, b: 110},
	{at: 0.5, r: 188, g: 55, b: 84},
	{at: 0.75, r: 249, g: 142, b: 9},
	{at: 1.0, r: 252, g: 255, b: 164},
}

func gradientColor(t float32) uint32 {
	if !(t > 0) {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	for i := 1; i < len(depthGradient); i++ {
		hi := depthGradient[i]
		if t > hi.at {
			continue
		}
		lo := depthGradient[i-1]
		f := (t - lo.at) / (hi.at - lo.at)
		return argb(
			math.MaxUint8,
			safeconv.ToUint8(math.Round(float64(lo.r+(hi.r-lo.r)*f))),
			safeconv.ToUint8(math.Round(float64(lo.g+(hi.g-lo.g)*f))),
			safeconv.ToUint8(math.Round(float64(lo.b+(hi.b-lo.b)*f))),
		)
	}
	last := depthGradient[len(depthGradient)-1]
	return argb(math.MaxUint8, safeconv.ToUint8(last.r), safeconv.ToUint8(last.g), safeconv.ToUint8(last.b))
}

// DepthColormap normalizes depth to its own minimum and maximum and writes one
// opaque 0xAARRGGBB pixel per value. NaN values take the color of the minimum.
func DepthColormap(depth []float32, out []uint32) error {
	if len(depth) != len(out) {
		return ColormapWrongOutputArraySize
	}
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, d := range depth {
		if d != d {
			continue
		}
		lo = min(lo, d)
		hi = max(hi, d)
	}
	span := hi - lo
	for i, d := range depth {
		var t float32
		if span > 0 && d == d {
			t = (d - lo) / span
		}
		out[i] = gradientColor(t)
	}
	return nil
}

// DepthToImage renders a width x height depth map with DepthColormap.
func DepthToImage(depth []float32, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(depth) != width*height {
		return nil, ColormapWrongOutputArraySize
	}
	pixels := make([]uint32, len(depth))
	if err := DepthColormap(depth, pixels); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, p := range pixels {
		img.Pix[4*i] = uint8(p >> 16)
		img.Pix[4*i+1] = uint8(p >> 8)
		img.Pix[4*i+2] = uint8(p)
		img.Pix[4*i+3] = uint8(p >> 24)
	}
	return img, nil
}
