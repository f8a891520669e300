package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/mole-detector/pkg/geometry"
	"github.com/menta2k/mole-detector/pkg/processing"
	"github.com/menta2k/mole-detector/pkg/types"
)

// Style controls how boxes and labels are drawn
type Style struct {
	StrokeWidth float64     // line width in pixels, centered on the box edges
	Color       color.Color // stroke and text color
	FontSize    float64     // label size in points at 72 DPI
	LabelHeight float64     // height of the label band above each box
}

// DefaultStyle draws 2px red boxes with 12pt labels in a 15px band
func DefaultStyle() Style {
	return Style{
		StrokeWidth: 2,
		Color:       color.NRGBA{R: 255, A: 255},
		FontSize:    12,
		LabelHeight: 15,
	}
}

// ParseColor parses a hex color such as "#ff0000" or "#f00"
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// Annotator draws detections over images
type Annotator struct {
	style Style
}

// New creates an annotator. Zero style fields fall back to DefaultStyle.
func New(style Style) *Annotator {
	def := DefaultStyle()
	if style.StrokeWidth <= 0 {
		style.StrokeWidth = def.StrokeWidth
	}
	if style.Color == nil {
		style.Color = def.Color
	}
	if style.FontSize <= 0 {
		style.FontSize = def.FontSize
	}
	if style.LabelHeight <= 0 {
		style.LabelHeight = def.LabelHeight
	}
	return &Annotator{style: style}
}

// Style returns the effective drawing style
func (a *Annotator) Style() Style {
	return a.style
}

// Annotate returns a new image with every detection drawn on it. The input is
// never modified. Without detections the result is an exact copy of the input,
// same pixel type and orientation. Otherwise the result is the upright picture
// at display size with orientation Up.
func (a *Annotator) Annotate(img types.Image, detections []types.Detection) types.Image {
	if len(detections) == 0 || img.Pixels == nil || img.Size().Empty() {
		return types.Image{Pixels: Clone(img.Pixels), Orientation: img.Orientation}
	}

	canvas := processing.Upright(img)
	size := img.Size()
	face := a.newFace()
	defer face.Close()

	for _, det := range detections {
		box := geometry.ToPixelBox(det.Box, size)
		a.strokeBox(canvas, box)
		a.drawLabel(canvas, face, box, labelText(det))
	}

	return types.Image{Pixels: canvas, Orientation: types.OrientationUp}
}

// labelText renders "mole (91.00%)"; an unlabeled detection still shows " (91.00%)"
func labelText(det types.Detection) string {
	return fmt.Sprintf("%s (%.2f%%)", det.Label, det.Confidence*100)
}

// strokeBox draws the four edges of box as filled rectangles clipped to the canvas
func (a *Annotator) strokeBox(dst *image.NRGBA, box types.PixelBox) {
	half := a.style.StrokeWidth / 2
	x0, y0, x1, y1 := box.X, box.Y, box.MaxX(), box.MaxY()
	src := image.NewUniform(a.style.Color)

	edges := []image.Rectangle{
		rect(x0-half, y0-half, x1+half, y0+half),
		rect(x0-half, y1-half, x1+half, y1+half),
		rect(x0-half, y0-half, x0+half, y1+half),
		rect(x1-half, y0-half, x1+half, y1+half),
	}
	for _, r := range edges {
		r = r.Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		draw.Draw(dst, r, src, image.Point{}, draw.Over)
	}
}

// drawLabel writes text into the band above the box, clipped to the band
func (a *Annotator) drawLabel(dst *image.NRGBA, face font.Face, box types.PixelBox, text string) {
	band := rect(box.X, box.Y-a.style.LabelHeight, box.MaxX(), box.Y).Intersect(dst.Bounds())
	if band.Empty() {
		return
	}
	clip, ok := dst.SubImage(band).(draw.Image)
	if !ok {
		return
	}

	ascent := face.Metrics().Ascent
	d := &font.Drawer{
		Dst:  clip,
		Src:  image.NewUniform(a.style.Color),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(pixel(box.X)),
			Y: fixed.I(pixel(box.Y-a.style.LabelHeight)) + ascent,
		},
	}
	d.DrawString(text)
}

var (
	fontOnce sync.Once
	goFont   *opentype.Font
)

// newFace returns a fresh face for one Annotate call; faces are not safe for concurrent use
func (a *Annotator) newFace() font.Face {
	fontOnce.Do(func() {
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to parse Go Regular, labels use the basic font")
			return
		}
		goFont = f
	})
	if goFont == nil {
		return basicfont.Face7x13
	}

	face, err := opentype.NewFace(goFont, &opentype.FaceOptions{
		Size:    a.style.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create label face, using the basic font")
		return basicfont.Face7x13
	}
	return face
}

// maxCoord bounds pixel coordinates before integer conversion
const maxCoord = 1 << 24

func pixel(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(-maxCoord, math.Min(maxCoord, v))))
}

func rect(x0, y0, x1, y1 float64) image.Rectangle {
	return image.Rect(pixel(x0), pixel(y0), pixel(x1), pixel(y1))
}

// Clone deep-copies an image, keeping its concrete type for the standard
// in-memory formats. Other implementations are copied into an NRGBA.
func Clone(src image.Image) image.Image {
	switch s := src.(type) {
	case nil:
		return nil
	case *image.NRGBA:
		return &image.NRGBA{Pix: append([]uint8(nil), s.Pix...), Stride: s.Stride, Rect: s.Rect}
	case *image.RGBA:
		return &image.RGBA{Pix: append([]uint8(nil), s.Pix...), Stride: s.Stride, Rect: s.Rect}
	case *image.NRGBA64:
		return &image.NRGBA64{Pix: append([]uint8(nil), s.Pix...), Stride: s.Stride, Rect: s.Rect}
	case *image.RGBA64:
		return &image.RGBA64{Pix: append([]uint8(nil), s.Pix...), Stride: s.Stride, Rect: s.Rect}
	case *image.Gray:
		return &image.Gray{Pix: append([]uint8(nil), s.Pix...), Stride: s.Stride, Rect: s.Rect}
	case *image.Gray16:
		return &image.Gray16{Pix: append([]uint8(nil), s.Pix...), Stride: s.Stride, Rect: s.Rect}
	case *image.CMYK:
		return &image.CMYK{Pix: append([]uint8(nil), s.Pix...), Stride: s.Stride, Rect: s.Rect}
	case *image.Paletted:
		return &image.Paletted{
			Pix:     append([]uint8(nil), s.Pix...),
			Stride:  s.Stride,
			Rect:    s.Rect,
			Palette: append(color.Palette(nil), s.Palette...),
		}
	case *image.YCbCr:
		return &image.YCbCr{
			Y:              append([]uint8(nil), s.Y...),
			Cb:             append([]uint8(nil), s.Cb...),
			Cr:             append([]uint8(nil), s.Cr...),
			YStride:        s.YStride,
			CStride:        s.CStride,
			SubsampleRatio: s.SubsampleRatio,
			Rect:           s.Rect,
		}
	default:
		return imaging.Clone(src)
	}
}
