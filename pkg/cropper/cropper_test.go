package cropper

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/mole-detector/pkg/types"
)

// createTestImage creates a plain grey test image
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{128, 128, 128, 255})
		}
	}
	return img
}

func noUpscale() *LesionCropper {
	cfg := DefaultConfig()
	cfg.AllowUpscaling = false
	return NewWithConfig(cfg)
}

func TestNew(t *testing.T) {
	c := New()
	assert.Equal(t, Square, c.config.AspectRatio)
	assert.True(t, c.config.AllowUpscaling)
	assert.Equal(t, 128, c.config.MinSize)
}

func TestParseAspectRatio(t *testing.T) {
	r, err := ParseAspectRatio("Portrait")
	require.NoError(t, err)
	assert.Equal(t, Portrait, r)
	assert.InDelta(t, 0.75, r.Ratio(), 1e-9)

	_, err = ParseAspectRatio("story")
	assert.Error(t, err)
	assert.Equal(t, 1.0, AspectRatio{}.Ratio())
}

func TestCropDetections(t *testing.T) {
	img := types.NewImage(createTestImage(200, 100))
	dets := []types.Detection{
		{Box: types.NormalizedBox{X: 0.45, Y: 0.45, Width: 0.1, Height: 0.1}, Label: "mole", Confidence: 0.9},
		{Box: types.NormalizedBox{X: 0.3, Y: 0.3, Width: 0, Height: 0.1}, Label: "mole", Confidence: 0.8},
		{Box: types.NormalizedBox{X: 0, Y: 0.9, Width: 0.05, Height: 0.1}, Label: "mole", Confidence: 0.7},
	}

	crops := noUpscale().CropDetections(img, dets)
	require.Len(t, crops, 2)

	assert.Equal(t, image.Rect(80, 30, 120, 70), crops[0].Region)
	assert.Equal(t, 0, crops[0].Index)
	assert.Equal(t, dets[0], crops[0].Detection)
	assert.Equal(t, image.Rect(0, 0, 40, 40), crops[0].Image.Bounds())

	// pushed inside the top-left corner
	assert.Equal(t, image.Rect(0, 0, 20, 20), crops[1].Region)
	assert.Equal(t, 2, crops[1].Index)
}

func TestCropDetections_Upscales(t *testing.T) {
	img := types.NewImage(createTestImage(200, 100))
	dets := []types.Detection{{Box: types.NormalizedBox{X: 0.45, Y: 0.45, Width: 0.1, Height: 0.1}}}

	crops := New().CropDetections(img, dets)
	require.Len(t, crops, 1)
	assert.Equal(t, image.Rect(80, 30, 120, 70), crops[0].Region)
	assert.Equal(t, image.Rect(0, 0, 128, 128), crops[0].Image.Bounds())
}

func TestCropDetections_DisplayOrientation(t *testing.T) {
	img := types.Image{Pixels: createTestImage(100, 200), Orientation: types.OrientationRight}
	dets := []types.Detection{{Box: types.NormalizedBox{X: 0.45, Y: 0.45, Width: 0.1, Height: 0.1}}}

	crops := noUpscale().CropDetections(img, dets)
	require.Len(t, crops, 1)
	assert.Equal(t, image.Rect(80, 30, 120, 70), crops[0].Region)
}

func TestCropDetections_Empty(t *testing.T) {
	assert.Empty(t, New().CropDetections(types.NewImage(createTestImage(10, 10)), nil))
	assert.Empty(t, New().CropDetections(types.Image{}, []types.Detection{{}}))
}

func TestCropRegion_ShrinksToFit(t *testing.T) {
	region, ok := New().CropRegion(types.PixelBox{Width: 200, Height: 100}, 200, 100)
	require.True(t, ok)
	assert.Equal(t, image.Rect(50, 0, 150, 100), region)
}

func TestCropRegion_AspectRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AspectRatio = Landscape
	region, ok := NewWithConfig(cfg).CropRegion(types.PixelBox{X: 90, Y: 45, Width: 20, Height: 10}, 200, 100)
	require.True(t, ok)
	assert.InDelta(t, 4.0/3, float64(region.Dx())/float64(region.Dy()), 0.05)
	assert.True(t, region.In(image.Rect(0, 0, 200, 100)))

	cfg.AspectRatio = Portrait
	region, ok = NewWithConfig(cfg).CropRegion(types.PixelBox{X: 90, Y: 45, Width: 20, Height: 10}, 200, 100)
	require.True(t, ok)
	assert.Greater(t, region.Dy(), region.Dx())
}

func TestCropRegion_NoArea(t *testing.T) {
	_, ok := New().CropRegion(types.PixelBox{X: 5, Y: 5}, 100, 100)
	assert.False(t, ok)
	_, ok = New().CropRegion(types.PixelBox{Width: 5, Height: 5}, 0, 0)
	assert.False(t, ok)
}
