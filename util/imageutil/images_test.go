package imageutil

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestImageToTensorLayouts(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 40, G: 50, B: 60, A: 255})

	chw := make([]float32, 6)
	require.NoError(t, ImageToTensor(img, 2, 1, LayoutCHW, chw))
	assert.Equal(t, []float32{10, 40, 20, 50, 30, 60}, chw)

	hwc := make([]float32, 6)
	require.NoError(t, ImageToTensor(img, 2, 1, LayoutHWC, hwc))
	assert.Equal(t, []float32{10, 20, 30, 40, 50, 60}, hwc)
}

func TestImageToTensorNormalizes(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{R: 255, G: 0, B: 255, A: 255})
	out := make([]float32, 12)
	require.NoError(t, ImageToTensor(img, 2, 2, LayoutHWC, out, RescaleStep(), ImagenetPixelNormalizationStep()))
	assert.InDelta(t, (1-0.485)/0.229, out[0], 1e-5)
	assert.InDelta(t, (0-0.456)/0.224, out[1], 1e-5)
	assert.InDelta(t, (1-0.406)/0.225, out[2], 1e-5)
}

func TestImageToTensorResizes(t *testing.T) {
	img := solidImage(8, 6, color.RGBA{R: 100, G: 150, B: 200, A: 255})
	out := make([]float32, 3*4*3)
	require.NoError(t, ImageToTensor(img, 4, 3, LayoutCHW, out))
	for i := 0; i < 12; i++ {
		assert.InDelta(t, 100, out[i], 1)
		assert.InDelta(t, 150, out[12+i], 1)
		assert.InDelta(t, 200, out[24+i], 1)
	}
}

func TestImageToTensorErrors(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{A: 255})
	out := []float32{7, 7, 7}
	assert.ErrorIs(t, ImageToTensor(img, 2, 2, LayoutCHW, out), ImageWrongOutputSize)
	assert.Equal(t, []float32{7, 7, 7}, out)
	assert.ErrorIs(t, ImageToTensor(img, 1, 1, Layout(9), out), ImageUnsupportedLayout)
	assert.ErrorIs(t, ImageToTensor(image.NewRGBA(image.Rect(0, 0, 0, 0)), 1, 1, LayoutHWC, out), ImageEmpty)
}

func TestResizeAndCrop(t *testing.T) {
	img := solidImage(40, 20, color.RGBA{R: 1, A: 255})
	resized, err := ResizeStep(10).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, 20, resized.Bounds().Dx())
	assert.Equal(t, 10, resized.Bounds().Dy())

	cropped, err := CenterCropStep(10, 10).Apply(resized)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 10), cropped.Bounds())
	r, _, _, _ := cropped.At(5, 5).RGBA()
	assert.Equal(t, uint32(1), r>>8)
}

func TestRGBABytesToARGB(t *testing.T) {
	out := make([]uint32, 2)
	require.NoError(t, RGBABytesToARGB([]byte{0x11, 0x22, 0x33, 0xff, 0x01, 0x02, 0x03, 0x80}, out))
	assert.Equal(t, []uint32{0xff112233, 0x80010203}, out)

	assert.ErrorIs(t, RGBABytesToARGB([]byte{1, 2, 3}, out), ImageWrongOutPixelSize)
}

func TestDepthColormap(t *testing.T) {
	out := make([]uint32, 3)
	require.NoError(t, DepthColormap([]float32{2, 4, 6}, out))
	assert.Equal(t, uint32(0xff000004), out[0])
	assert.Equal(t, uint32(0xffbc3754), out[1])
	assert.Equal(t, uint32(0xfffcffa4), out[2])

	flat := make([]uint32, 2)
	require.NoError(t, DepthColormap([]float32{5, 5}, flat))
	assert.Equal(t, flat[0], flat[1])

	assert.ErrorIs(t, DepthColormap([]float32{1}, flat), ColormapWrongOutputArraySize)
}

func TestDepthToImageAndSave(t *testing.T) {
	img, err := DepthToImage([]float32{0, 1, 2, 3}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0, G: 0, B: 4, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 252, G: 255, B: 164, A: 255}, img.RGBAAt(1, 1))

	_, err = DepthToImage([]float32{0, 1, 2}, 2, 2)
	assert.ErrorIs(t, err, ColormapWrongOutputArraySize)

	path := filepath.Join(t.TempDir(), "depth.png")
	require.NoError(t, SavePNG(path, img))
	loaded, err := LoadImagesFromPaths([]string{path})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, img.Bounds(), loaded[0].Bounds())
}
