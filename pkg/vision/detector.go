// Package vision is an offline mole finder that needs no model server. It
// marks pixels noticeably darker than the surrounding skin and reports each
// connected dark patch as a region. It is a heuristic baseline, useful when no
// model backend is reachable and for testing the rest of the pipeline.
package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/mole-detector/pkg/client"
	"github.com/menta2k/mole-detector/pkg/geometry"
	"github.com/menta2k/mole-detector/pkg/processing"
	"github.com/menta2k/mole-detector/pkg/types"
)

// PigmentDetector finds dark pigmented spots in skin photos
type PigmentDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for pigment detection
type DetectionConfig struct {
	Threshold      float64 // minimum relative darkness of a pigmented pixel, 0..1
	MinRegionRatio float64 // smallest region, as a fraction of the image area
	MaxRegionRatio float64 // largest region; bigger patches are shadows or background
	MaxRegions     int
	WorkingSize    int // long side the image is reduced to before scanning
}

// DefaultConfig returns the default detection configuration
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		Threshold:      0.35,
		MinRegionRatio: 0.0005,
		MaxRegionRatio: 0.25,
		MaxRegions:     50,
		WorkingSize:    512,
	}
}

// New creates a new PigmentDetector with default configuration
func New() *PigmentDetector {
	return &PigmentDetector{config: DefaultConfig()}
}

// NewWithConfig creates a new PigmentDetector with custom configuration
func NewWithConfig(config DetectionConfig) *PigmentDetector {
	return &PigmentDetector{config: config}
}

// Region represents a rectangular region of interest in working-image pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// Name implements client.Backend
func (d *PigmentDetector) Name() string {
	return "pigment"
}

// Load implements client.Backend; there is nothing to load
func (d *PigmentDetector) Load(ctx context.Context) (client.Model, error) {
	return client.ModelFunc(d.Infer), nil
}

// Infer scans the upright image and returns one observation per dark region
func (d *PigmentDetector) Infer(ctx context.Context, req client.Request) ([]types.Observation, error) {
	upright := processing.Upright(types.Image{Pixels: req.Image, Orientation: req.Orientation})
	if d.config.WorkingSize > 0 {
		upright = imaging.Fit(upright, d.config.WorkingSize, d.config.WorkingSize, imaging.Box)
	}

	regions, err := d.DetectRegions(ctx, upright)
	if err != nil {
		return nil, err
	}

	b := upright.Bounds()
	size := types.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
	observations := make([]types.Observation, 0, len(regions))
	for _, r := range regions {
		observations = append(observations, types.Observation{
			Box: geometry.ToNormalizedBox(types.PixelBox{
				X: float64(r.X), Y: float64(r.Y), Width: float64(r.Width), Height: float64(r.Height),
			}, size),
			Confidence: r.Score,
			Labels:     []types.Label{{Identifier: "mole", Confidence: r.Score}},
		})
	}
	return observations, nil
}

// DetectRegions returns the dark regions of img, highest score first
func (d *PigmentDetector) DetectRegions(ctx context.Context, img image.Image) ([]Region, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return []Region{}, nil
	}

	// Create pigment map
	pigmentMap := d.calculatePigmentMap(img)

	// Group pigmented pixels into regions
	regions, err := d.findRegions(ctx, pigmentMap, width, height)
	if err != nil {
		return nil, err
	}

	// Filter and score regions
	filtered := d.filterAndScoreRegions(regions, width, height)

	if d.config.MaxRegions > 0 && len(filtered) > d.config.MaxRegions {
		filtered = filtered[:d.config.MaxRegions]
	}
	return filtered, nil
}

// calculatePigmentMap scores each pixel by how much darker it is than the
// image's median luminance, which approximates the skin tone
func (d *PigmentDetector) calculatePigmentMap(img image.Image) [][]float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	lum := make([][]float64, height)
	all := make([]float64, 0, width*height)
	for y := 0; y < height; y++ {
		lum[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			l := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
			lum[y][x] = l
			all = append(all, l)
		}
	}

	sort.Float64s(all)
	ref := all[len(all)/2]
	if ref <= 0 {
		ref = 1e-6
	}

	pigmentMap := make([][]float64, height)
	for y := range pigmentMap {
		pigmentMap[y] = make([]float64, width)
		for x := range pigmentMap[y] {
			pigmentMap[y][x] = math.Max(0, (ref-lum[y][x])/ref)
		}
	}
	return pigmentMap
}

// findRegions flood-fills 4-connected pixels above the threshold
func (d *PigmentDetector) findRegions(ctx context.Context, pigmentMap [][]float64, width, height int) ([]Region, error) {
	var regions []Region
	visited := make([]bool, width*height)
	stack := make([]int, 0, 64)

	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < width; x++ {
			if visited[y*width+x] || pigmentMap[y][x] < d.config.Threshold {
				continue
			}

			minX, minY, maxX, maxY := x, y, x, y
			var total float64
			count := 0

			visited[y*width+x] = true
			stack = append(stack[:0], y*width+x)
			for len(stack) > 0 {
				i := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				px, py := i%width, i/width

				total += pigmentMap[py][px]
				count++
				minX, maxX = min(minX, px), max(maxX, px)
				minY, maxY = min(minY, py), max(maxY, py)

				for _, n := range [][2]int{{px - 1, py}, {px + 1, py}, {px, py - 1}, {px, py + 1}} {
					nx, ny := n[0], n[1]
					if nx < 0 || ny < 0 || nx >= width || ny >= height {
						continue
					}
					j := ny*width + nx
					if visited[j] || pigmentMap[ny][nx] < d.config.Threshold {
						continue
					}
					visited[j] = true
					stack = append(stack, j)
				}
			}

			regions = append(regions, Region{
				X:      minX,
				Y:      minY,
				Width:  maxX - minX + 1,
				Height: maxY - minY + 1,
				Score:  d.calculateRegionScore(total/float64(count), count, (maxX-minX+1)*(maxY-minY+1)),
			})
		}
	}

	return regions, nil
}

// calculateRegionScore combines mean darkness with how compact the patch is.
// Moles are solid roundish blobs; hair and creases fill little of their box.
func (d *PigmentDetector) calculateRegionScore(meanPigment float64, pixels, boxArea int) float64 {
	fill := float64(pixels) / float64(boxArea)
	return geometry.Clamp01(meanPigment * (0.5 + 0.5*fill) * 1.5)
}

func (d *PigmentDetector) filterAndScoreRegions(regions []Region, imageWidth, imageHeight int) []Region {
	filtered := make([]Region, 0, len(regions))

	imageArea := float64(imageWidth * imageHeight)
	minArea := imageArea * d.config.MinRegionRatio
	maxArea := imageArea * d.config.MaxRegionRatio

	for _, region := range regions {
		area := float64(region.Area())
		if area < minArea || (d.config.MaxRegionRatio > 0 && area > maxArea) {
			continue
		}
		filtered = append(filtered, region)
	}

	// Sort by score (descending)
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})

	return filtered
}
