// Package cropper cuts close-up crops around detected moles so each spot can
// be reviewed or archived on its own.
package cropper

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/mole-detector/pkg/geometry"
	"github.com/menta2k/mole-detector/pkg/processing"
	"github.com/menta2k/mole-detector/pkg/types"
)

// LesionCropper crops detections out of their photo
type LesionCropper struct {
	config CropConfig
}

// CropConfig holds configuration for close-up cropping
type CropConfig struct {
	AspectRatio    AspectRatio
	PaddingRatio   float64 // margin on each side, relative to the larger box side
	MinSize        int     // short side crops are upscaled to, when upscaling is allowed
	AllowUpscaling bool
}

// AspectRatio represents common aspect ratios
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Supported crop shapes
var (
	Square    = AspectRatio{1, 1, "square"}
	Portrait  = AspectRatio{3, 4, "portrait"}
	Landscape = AspectRatio{4, 3, "landscape"}
)

// CommonAspectRatios returns the supported crop shapes
func CommonAspectRatios() []AspectRatio {
	return []AspectRatio{Square, Portrait, Landscape}
}

// ParseAspectRatio looks up a crop shape by name
func ParseAspectRatio(name string) (AspectRatio, error) {
	for _, r := range CommonAspectRatios() {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return AspectRatio{}, fmt.Errorf("unknown aspect ratio %q (use square, portrait or landscape)", name)
}

// Ratio returns width divided by height
func (a AspectRatio) Ratio() float64 {
	if a.Width <= 0 || a.Height <= 0 {
		return 1
	}
	return float64(a.Width) / float64(a.Height)
}

// DefaultConfig returns square crops with half a box of margin, at least 128px
func DefaultConfig() CropConfig {
	return CropConfig{
		AspectRatio:    Square,
		PaddingRatio:   0.5,
		MinSize:        128,
		AllowUpscaling: true,
	}
}

// New creates a new LesionCropper with default configuration
func New() *LesionCropper {
	return &LesionCropper{config: DefaultConfig()}
}

// NewWithConfig creates a new LesionCropper with custom configuration
func NewWithConfig(config CropConfig) *LesionCropper {
	return &LesionCropper{config: config}
}

// CropResult is one close-up
type CropResult struct {
	Image     *image.NRGBA
	Region    image.Rectangle // crop area in display pixels of the source
	Detection types.Detection
	Index     int // position of the detection in the input slice
}

// CropDetections returns one crop per detection with a non-empty box, taken
// from the photo in its display orientation.
func (c *LesionCropper) CropDetections(img types.Image, detections []types.Detection) []CropResult {
	results := []CropResult{}
	if img.Pixels == nil || len(detections) == 0 {
		return results
	}

	upright := processing.Upright(img)
	bounds := upright.Bounds()
	size := types.Size{Width: float64(bounds.Dx()), Height: float64(bounds.Dy())}

	for i, det := range detections {
		region, ok := c.CropRegion(geometry.ToPixelBox(det.Box, size), bounds.Dx(), bounds.Dy())
		if !ok {
			continue
		}
		results = append(results, CropResult{
			Image:     c.resize(imaging.Crop(upright, region)),
			Region:    region,
			Detection: det,
			Index:     i,
		})
	}
	return results
}

// CropRegion expands box by the padding, reshapes it to the aspect ratio and
// shifts it inside a width x height image. Boxes with no area yield false.
func (c *LesionCropper) CropRegion(box types.PixelBox, width, height int) (image.Rectangle, bool) {
	if box.Width <= 0 || box.Height <= 0 || width <= 0 || height <= 0 {
		return image.Rectangle{}, false
	}

	base := math.Max(box.Width, box.Height) * (1 + 2*math.Max(0, c.config.PaddingRatio))
	ratio := c.config.AspectRatio.Ratio()
	cw, ch := base, base
	if ratio >= 1 {
		cw = base * ratio
	} else {
		ch = base / ratio
	}

	// Shrink to fit, keeping the shape
	scale := math.Min(1, math.Min(float64(width)/cw, float64(height)/ch))
	cw, ch = cw*scale, ch*scale

	cx := box.X + box.Width/2
	cy := box.Y + box.Height/2
	x0 := math.Max(0, math.Min(cx-cw/2, float64(width)-cw))
	y0 := math.Max(0, math.Min(cy-ch/2, float64(height)-ch))

	region := image.Rect(
		int(math.Round(x0)), int(math.Round(y0)),
		int(math.Round(x0+cw)), int(math.Round(y0+ch)),
	).Intersect(image.Rect(0, 0, width, height))
	if region.Empty() {
		return image.Rectangle{}, false
	}
	return region, true
}

func (c *LesionCropper) resize(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	short := min(b.Dx(), b.Dy())
	if !c.config.AllowUpscaling || c.config.MinSize <= 0 || short >= c.config.MinSize {
		return img
	}
	scale := float64(c.config.MinSize) / float64(short)
	return imaging.Resize(img, int(math.Round(float64(b.Dx())*scale)), int(math.Round(float64(b.Dy())*scale)), imaging.Lanczos)
}
