package types

import "image"

// Size is an image extent in pixels
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the size has no drawable area
func (s Size) Empty() bool {
	return !(s.Width > 0) || !(s.Height > 0)
}

// NormalizedBox is a bounding box with coordinates in [0,1] of the image size.
// The origin is the bottom-left corner, which is the convention detection models report in.
type NormalizedBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// PixelBox is a rectangle in pixel coordinates with the origin at the top-left corner
type PixelBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MaxX returns the right edge of the box
func (b PixelBox) MaxX() float64 { return b.X + b.Width }

// MaxY returns the bottom edge of the box
func (b PixelBox) MaxY() float64 { return b.Y + b.Height }

// Label is one class label reported by a model for a region
type Label struct {
	Identifier string  `json:"identifier"`
	Confidence float64 `json:"confidence"`
}

// Observation is a raw region reported by a model backend, before normalization
type Observation struct {
	Box        NormalizedBox `json:"box"`
	Confidence float64       `json:"confidence"`
	Labels     []Label       `json:"labels"`
}

// Detection is a single detected region with its best label
type Detection struct {
	Box        NormalizedBox `json:"box"`
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
}

// Image is a decoded bitmap together with the orientation it should be displayed in.
// Pixels are never modified by the pipeline.
type Image struct {
	Pixels      image.Image
	Orientation Orientation
}

// NewImage wraps a decoded bitmap in the upright orientation
func NewImage(pixels image.Image) Image {
	return Image{Pixels: pixels, Orientation: OrientationUp}
}

// Size returns the display size of the image, i.e. the pixel buffer size with
// width and height swapped for orientations that transpose the picture.
func (i Image) Size() Size {
	if i.Pixels == nil {
		return Size{}
	}
	b := i.Pixels.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if i.Orientation.Transposed() {
		w, h = h, w
	}
	return Size{Width: w, Height: h}
}
