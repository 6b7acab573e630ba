package depthrt

import (
	"image"

	"github.com/knights-analytics/depthrt/util/imageutil"
)

// Preset describes how an image is turned into the input tensor of a depth
// estimation model. Preprocess runs on the image before it is scaled to
// Width x Height and normalized.
type Preset struct {
	Name          string
	Width         int
	Height        int
	Layout        imageutil.Layout
	Preprocess    []imageutil.PreprocessStep
	Normalization []imageutil.NormalizationStep
}

// fitAndCrop scales the shorter side to the model size and cuts the centre,
// so the aspect ratio survives.
func fitAndCrop(width, height int) []imageutil.PreprocessStep {
	return []imageutil.PreprocessStep{
		imageutil.ResizeStep(min(width, height)),
		imageutil.CenterCropStep(width, height),
	}
}

// MiDaSPreset matches MiDaS small: 256x256 interleaved pixels normalized
// from the 0..255 range.
func MiDaSPreset() Preset {
	return Preset{
		Name:          "MiDaS",
		Width:         256,
		Height:        256,
		Layout:        imageutil.LayoutHWC,
		Preprocess:    fitAndCrop(256, 256),
		Normalization: []imageutil.NormalizationStep{imageutil.ImagenetByteNormalizationStep()},
	}
}

// DepthAnythingPreset matches Depth Anything small: 210x210 channel planes
// rescaled to 0..1 before imagenet normalization.
func DepthAnythingPreset() Preset {
	return Preset{
		Name:       "DepthAnything",
		Width:      210,
		Height:     210,
		Layout:     imageutil.LayoutCHW,
		Preprocess: fitAndCrop(210, 210),
		Normalization: []imageutil.NormalizationStep{
			imageutil.RescaleStep(),
			imageutil.ImagenetPixelNormalizationStep(),
		},
	}
}

// EstimateDepth converts img with the preset and runs it through r. The
// returned slice has as many values as the model's output tensor, or
// Width*Height when the output shape is dynamic.
func EstimateDepth(r *Runtime, preset Preset, img image.Image) ([]float32, error) {
	if r == nil || r.backend == nil {
		return nil, ErrDestroyed
	}
	defer r.Frame().Scope("Estimating depth")()

	for _, step := range preset.Preprocess {
		var err error
		if img, err = step.Apply(img); err != nil {
			return nil, err
		}
	}
	input := make([]float32, 3*preset.Width*preset.Height)
	if err := imageutil.ImageToTensor(img, preset.Width, preset.Height, preset.Layout, input, preset.Normalization...); err != nil {
		return nil, err
	}

	count := preset.Width * preset.Height
	if shape := r.OutputDescriptor().Shape; shape.IsStatic() {
		count = shape.FlattenedSize()
	}
	depth := make([]float32, count)
	if err := Run(r, input, depth); err != nil {
		return nil, err
	}
	return depth, nil
}
