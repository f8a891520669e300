package processing

import (
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/menta2k/mole-detector/pkg/types"
)

// ReadOrientation returns the EXIF orientation of encoded image data.
// Data without EXIF, or with an out-of-range tag, is reported as upright.
func ReadOrientation(r io.Reader) types.Orientation {
	x, err := exif.Decode(r)
	if err != nil {
		return types.OrientationUp
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return types.OrientationUp
	}
	v, err := tag.Int(0)
	if err != nil || !types.Orientation(v).Valid() {
		return types.OrientationUp
	}
	return types.Orientation(v)
}

// Orient returns a new NRGBA image showing pixels the way orientation o says
// they should be displayed. Invalid orientations are treated as upright.
func Orient(pixels image.Image, o types.Orientation) *image.NRGBA {
	switch o {
	case types.OrientationUpMirrored:
		return imaging.FlipH(pixels)
	case types.OrientationDown:
		return imaging.Rotate180(pixels)
	case types.OrientationDownMirrored:
		return imaging.FlipV(pixels)
	case types.OrientationLeftMirrored:
		return imaging.Transpose(pixels)
	case types.OrientationRight:
		return imaging.Rotate270(pixels)
	case types.OrientationRightMirrored:
		return imaging.Transverse(pixels)
	case types.OrientationLeft:
		return imaging.Rotate90(pixels)
	default:
		return imaging.Clone(pixels)
	}
}

// Upright renders img in its display orientation
func Upright(img types.Image) *image.NRGBA {
	return Orient(img.Pixels, img.Orientation)
}
