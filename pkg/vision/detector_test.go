package vision

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/mole-detector/pkg/client"
	"github.com/menta2k/mole-detector/pkg/types"
)

var (
	skin   = color.NRGBA{224, 172, 150, 255}
	dark   = color.NRGBA{70, 40, 30, 255}
	medium = color.NRGBA{130, 95, 80, 255}
)

type spot struct {
	x, y, r int
	c       color.NRGBA
}

// createSkinImage fills a skin-toned image with round spots
func createSkinImage(width, height int, spots ...spot) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, skin)
			for _, s := range spots {
				if (x-s.x)*(x-s.x)+(y-s.y)*(y-s.y) < s.r*s.r {
					img.SetNRGBA(x, y, s.c)
				}
			}
		}
	}
	return img
}

func TestDefaultConfig(t *testing.T) {
	d := New()
	assert.Equal(t, DefaultConfig(), d.config)
	assert.Equal(t, "pigment", d.Name())

	cfg := DetectionConfig{Threshold: 0.5}
	assert.Equal(t, cfg, NewWithConfig(cfg).config)
}

func TestDetectRegions(t *testing.T) {
	img := createSkinImage(100, 80, spot{30, 20, 6, dark}, spot{70, 50, 5, medium})

	regions, err := New().DetectRegions(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, Region{X: 25, Y: 15, Width: 11, Height: 11, Score: regions[0].Score}, regions[0])
	assert.Greater(t, regions[0].Score, regions[1].Score)
	cx, cy := regions[1].Center()
	assert.Equal(t, 70, cx)
	assert.Equal(t, 50, cy)
	assert.Equal(t, 81, regions[1].Area())
}

func TestDetectRegions_PlainSkin(t *testing.T) {
	regions, err := New().DetectRegions(context.Background(), createSkinImage(40, 40))
	require.NoError(t, err)
	assert.Empty(t, regions)

	// uniformly dark photo has nothing darker than its own median
	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = dark.R, dark.G, dark.B, 255
	}
	regions, err = New().DetectRegions(context.Background(), img)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestDetectRegions_Filters(t *testing.T) {
	img := createSkinImage(100, 100, spot{10, 10, 1, dark}, spot{60, 60, 8, dark})

	cfg := DefaultConfig()
	cfg.MinRegionRatio = 0.001
	regions, err := NewWithConfig(cfg).DetectRegions(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, 53, regions[0].X)

	cfg.MaxRegionRatio = 0.01
	regions, err = NewWithConfig(cfg).DetectRegions(context.Background(), img)
	require.NoError(t, err)
	assert.Empty(t, regions)

	cfg = DefaultConfig()
	cfg.MaxRegions = 1
	img = createSkinImage(100, 100, spot{20, 20, 5, dark}, spot{70, 70, 5, dark})
	regions, err = NewWithConfig(cfg).DetectRegions(context.Background(), img)
	require.NoError(t, err)
	assert.Len(t, regions, 1)
}

func TestDetectRegions_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().DetectRegions(ctx, createSkinImage(20, 20, spot{10, 10, 3, dark}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInfer_NormalizedBox(t *testing.T) {
	model, err := New().Load(context.Background())
	require.NoError(t, err)

	img := createSkinImage(100, 80, spot{30, 20, 6, dark})
	obs, err := model.Infer(context.Background(), client.Request{Image: img, Orientation: types.OrientationUp})
	require.NoError(t, err)
	require.Len(t, obs, 1)

	box := obs[0].Box
	assert.InDelta(t, 0.25, box.X, 1e-9)
	assert.InDelta(t, 0.11, box.Width, 1e-9)
	assert.InDelta(t, 1-26.0/80, box.Y, 1e-9)
	assert.InDelta(t, 11.0/80, box.Height, 1e-9)
	require.Len(t, obs[0].Labels, 1)
	assert.Equal(t, "mole", obs[0].Labels[0].Identifier)
	assert.Equal(t, obs[0].Confidence, obs[0].Labels[0].Confidence)
}

func TestInfer_DisplayOrientation(t *testing.T) {
	// stored top-left spot ends up top-right once rotated for display
	img := createSkinImage(60, 40, spot{10, 10, 4, dark})

	obs, err := New().Infer(context.Background(), client.Request{Image: img, Orientation: types.OrientationRight})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Greater(t, obs[0].Box.X, 0.5)
	assert.Greater(t, obs[0].Box.Y, 0.5)
}

func TestInfer_WorkingSize(t *testing.T) {
	img := createSkinImage(400, 200, spot{100, 100, 20, dark})

	cfg := DefaultConfig()
	cfg.WorkingSize = 100
	obs, err := NewWithConfig(cfg).Infer(context.Background(), client.Request{Image: img, Orientation: types.OrientationUp})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.InDelta(t, 0.2, obs[0].Box.X, 0.02)
	assert.InDelta(t, 0.1, obs[0].Box.Width, 0.03)
}
