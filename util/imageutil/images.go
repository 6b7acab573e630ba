package imageutil

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/knights-analytics/depthrt/util/fileutil"
)

func LoadImagesFromPaths(paths []string) ([]image.Image, error) {
	images := make([]image.Image, 0, len(paths))

	for _, path := range paths {
		b, err := fileutil.ReadFileBytes(path)
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ImageFailedToDecode, path, err.Error())
		}
		images = append(images, img)
	}
	return images, nil
}

// SavePNG encodes img as PNG at path, which may be any location fileutil can write.
func SavePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return fileutil.WriteFileBytes(path, buf.Bytes())
}

type PreprocessStep interface {
	Apply(img image.Image) (image.Image, error)
}

type ResizePreprocessor struct {
	targetSize int
}

// ResizeStep scales the shorter side of the image to targetSize, keeping the aspect ratio.
func ResizeStep(targetSize int) *ResizePreprocessor {
	return &ResizePreprocessor{targetSize: targetSize}
}

func (s *ResizePreprocessor) Apply(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, ImageEmpty
	}
	var newW, newH int
	if w < h {
		newW = s.targetSize
		newH = int(float32(h) * float32(s.targetSize) / float32(w))
	} else {
		newH = s.targetSize
		newW = int(float32(w) * float32(s.targetSize) / float32(h))
	}
	return resizeImage(img, newW, newH), nil
}

func CenterCropStep(targetWidth, targetHeight int) *CenterCropPreprocessor {
	return &CenterCropPreprocessor{targetWidth: targetWidth, targetHeight: targetHeight}
}

type CenterCropPreprocessor struct {
	targetWidth  int
	targetHeight int
}

func (s *CenterCropPreprocessor) Apply(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	x0 := bounds.Min.X + (bounds.Dx()-s.targetWidth)/2
	y0 := bounds.Min.Y + (bounds.Dy()-s.targetHeight)/2
	dst := image.NewRGBA(image.Rect(0, 0, s.targetWidth, s.targetHeight))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(x0, y0), draw.Src)
	return dst, nil
}

type NormalizationStep interface {
	Apply(r, g, b float32) (float32, float32, float32)
}

type PixelNormalizationPreprocessor struct {
	mean [3]float32
	std  [3]float32
}

func (s *PixelNormalizationPreprocessor) Apply(r, g, b float32) (float32, float32, float32) {
	r = (r - s.mean[0]) / s.std[0]
	g = (g - s.mean[1]) / s.std[1]
	b = (b - s.mean[2]) / s.std[2]
	return r, g, b
}

func PixelNormalizationStep(mean, std [3]float32) *PixelNormalizationPreprocessor {
	return &PixelNormalizationPreprocessor{mean: mean, std: std}
}

// ImagenetPixelNormalizationStep expects values rescaled to [0, 1].
func ImagenetPixelNormalizationStep() *PixelNormalizationPreprocessor {
	return &PixelNormalizationPreprocessor{
		mean: [3]float32{0.485, 0.456, 0.406},
		std:  [3]float32{0.229, 0.224, 0.225},
	}
}

// ImagenetByteNormalizationStep is the imagenet normalization for values in [0, 255].
func ImagenetByteNormalizationStep() *PixelNormalizationPreprocessor {
	return &PixelNormalizationPreprocessor{
		mean: [3]float32{123.675, 116.28, 103.53},
		std:  [3]float32{58.395, 57.12, 57.375},
	}
}

type RescalePreprocessor struct{}

func (s *RescalePreprocessor) Apply(r, g, b float32) (float32, float32, float32) {
	scale := float32(1.0 / 255.0)
	return r * scale, g * scale, b * scale
}

func RescaleStep() *RescalePreprocessor {
	return &RescalePreprocessor{}
}

func resizeImage(img image.Image, newW, newH int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// Layout is the channel order of an image tensor.
type Layout int

const (
	// LayoutCHW stores the three channel planes one after the other.
	LayoutCHW Layout = iota
	// LayoutHWC interleaves the channels of each pixel.
	LayoutHWC
)

func (l Layout) String() string {
	switch l {
	case LayoutCHW:
		return "CHW"
	case LayoutHWC:
		return "HWC"
	default:
		return "unknown"
	}
}

// ImageToTensor writes the RGB values of img into out, a width x height x 3
// tensor in the given layout. The image is resized when its size differs.
// Channel values start in [0, 255] and pass through steps in order.
func ImageToTensor(img image.Image, width, height int, layout Layout, out []float32, steps ...NormalizationStep) error {
	if layout != LayoutCHW && layout != LayoutHWC {
		return ImageUnsupportedLayout
	}
	if width <= 0 || height <= 0 || len(out) != 3*width*height {
		return ImageWrongOutputSize
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return ImageEmpty
	}
	if bounds.Dx() != width || bounds.Dy() != height {
		img = resizeImage(img, width, height)
		bounds = img.Bounds()
	}

	plane := width * height
	for y := range height {
		for x := range width {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)
			for _, step := range steps {
				rf, gf, bf = step.Apply(rf, gf, bf)
			}
			pixel := y*width + x
			if layout == LayoutCHW {
				out[pixel] = rf
				out[plane+pixel] = gf
				out[2*plane+pixel] = bf
			} else {
				out[3*pixel] = rf
				out[3*pixel+1] = gf
				out[3*pixel+2] = bf
			}
		}
	}
	return nil
}

// RGBABytesToARGB packs RGBA byte quadruples into 0xAARRGGBB pixels.
func RGBABytesToARGB(rgba []byte, out []uint32) error {
	if len(rgba) != 4*len(out) {
		return ImageWrongOutPixelSize
	}
	for i := range out {
		r, g, b, a := rgba[4*i], rgba[4*i+1], rgba[4*i+2], rgba[4*i+3]
		out[i] = argb(a, r, g, b)
	}
	return nil
}

func argb(a, r, g, b uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}
