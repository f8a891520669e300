// Package geometry converts between the normalized, bottom-left origin boxes that
// detection models report and the top-left origin pixel space used for drawing.
package geometry

import (
	"math"

	"github.com/menta2k/mole-detector/pkg/types"
)

// ToPixelBox maps a normalized box onto an image of the given size.
//
// The vertical axis is flipped: a normalized box starts at the bottom-left corner,
// a pixel box at the top-left. size must have a positive width and height; box
// components are used as-is and are not required to lie in [0,1].
func ToPixelBox(box types.NormalizedBox, size types.Size) types.PixelBox {
	return types.PixelBox{
		X:      box.X * size.Width,
		Y:      (1 - box.Y - box.Height) * size.Height,
		Width:  box.Width * size.Width,
		Height: box.Height * size.Height,
	}
}

// ToNormalizedBox is the inverse of ToPixelBox
func ToNormalizedBox(box types.PixelBox, size types.Size) types.NormalizedBox {
	if size.Empty() {
		return types.NormalizedBox{}
	}
	return types.NormalizedBox{
		X:      box.X / size.Width,
		Y:      1 - (box.Y+box.Height)/size.Height,
		Width:  box.Width / size.Width,
		Height: box.Height / size.Height,
	}
}

// FromTopLeft converts a normalized box measured from the top-left corner, as
// language models and most detection servers report them, into the bottom-left convention.
func FromTopLeft(box types.NormalizedBox) types.NormalizedBox {
	box.Y = 1 - box.Y - box.Height
	return box
}

// ClampBox forces a normalized box inside the unit square. Boxes that are
// already inside are returned unchanged. Non-finite components are treated as 0.
func ClampBox(b types.NormalizedBox) types.NormalizedBox {
	if InUnitSquare(b) {
		return b
	}
	x, w := clampSpan(finite(b.X), finite(b.Width))
	y, h := clampSpan(finite(b.Y), finite(b.Height))
	return types.NormalizedBox{X: x, Y: y, Width: w, Height: h}
}

// clampSpan clips the interval [start, start+length] to [0,1]
func clampSpan(start, length float64) (float64, float64) {
	if start < 0 {
		length += start
		start = 0
	}
	if start > 1 {
		start = 1
	}
	return start, clamp(length, 0, 1-start)
}

// InUnitSquare reports whether the box already satisfies 0 <= x, y, x+w, y+h <= 1
func InUnitSquare(b types.NormalizedBox) bool {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	return in(b.X) && in(b.Y) && in(b.X+b.Width) && in(b.Y+b.Height) && b.Width >= 0 && b.Height >= 0
}

// Clamp01 clamps v into [0,1], mapping NaN to 0
func Clamp01(v float64) float64 {
	return clamp(finite(v), 0, 1)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
