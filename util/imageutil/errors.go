package imageutil

// ImageError is returned by the image to buffer conversions.
type ImageError uint8

const (
	ImageUnknown ImageError = iota
	ImageWrongOutPixelSize
	ImageWrongOutputSize
	ImageUnsupportedLayout
	ImageFailedToDecode
	ImageEmpty
)

func (e ImageError) Error() string {
	switch e {
	case ImageWrongOutPixelSize:
		return "image: out pixels have the wrong size"
	case ImageWrongOutputSize:
		return "image: output tensor has the wrong size"
	case ImageUnsupportedLayout:
		return "image: unsupported tensor layout"
	case ImageFailedToDecode:
		return "image: failed to decode"
	case ImageEmpty:
		return "image: image has no pixels"
	default:
		return "image: unknown error"
	}
}

// ColormapError is returned by the depth colormap.
type ColormapError uint8

const (
	ColormapUnknown ColormapError = iota
	ColormapWrongOutputArraySize
)

func (e ColormapError) Error() string {
	switch e {
	case ColormapWrongOutputArraySize:
		return "colormap: wrong output array size"
	default:
		return "colormap: unknown error"
	}
}
