package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/mole-detector/pkg/types"
)

// Processor handles image loading, orientation and encoding
type Processor struct {
	http *resty.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		http: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "Mole-Detector/1.0"),
	}
}

// LoadImageFromURL downloads and decodes an image from a URL
func (p *Processor) LoadImageFromURL(imageURL string) (types.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return types.Image{}, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return types.Image{}, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	resp, err := p.http.R().Get(imageURL)
	if err != nil {
		return types.Image{}, fmt.Errorf("failed to download image: %w", err)
	}
	if !resp.IsSuccess() {
		return types.Image{}, fmt.Errorf("failed to download image: HTTP %s", resp.Status())
	}

	contentType := resp.Header().Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return types.Image{}, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	return p.DecodeImage(resp.Body())
}

// LoadImage reads and decodes an image file, keeping its EXIF orientation
func (p *Processor) LoadImage(path string) (types.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Image{}, fmt.Errorf("failed to read image file: %w", err)
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return types.Image{}, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(source string) (types.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// DecodeImage decodes jpg/png/gif/webp data. The pixels are left exactly as stored;
// the EXIF orientation, when present, is returned alongside them.
func (p *Processor) DecodeImage(data []byte) (types.Image, error) {
	pixels, err := decodePixels(data)
	if err != nil {
		return types.Image{}, err
	}
	return types.Image{
		Pixels:      pixels,
		Orientation: ReadOrientation(bytes.NewReader(data)),
	}, nil
}

func decodePixels(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// PrepareImageForModel renders the image upright, limits its long side to maxDim
// and returns it base64-encoded for vision model APIs.
func (p *Processor) PrepareImageForModel(img types.Image, format string, maxDim int, quality int) (string, error) {
	data, err := ModelImage(img, format, maxDim, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ModelImage renders the whole picture upright, scales it so its long side is at
// most maxDim (no cropping), and encodes it. maxDim <= 0 keeps the full size.
func ModelImage(img types.Image, format string, maxDim int, quality int) ([]byte, error) {
	if img.Pixels == nil {
		return nil, fmt.Errorf("image has no pixel data")
	}
	upright := Upright(img)
	if maxDim > 0 {
		b := upright.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				upright = imaging.Resize(upright, maxDim, 0, imaging.Lanczos)
			} else {
				upright = imaging.Resize(upright, 0, maxDim, imaging.Lanczos)
			}
		}
	}
	return EncodeImage(upright, format, quality)
}

// EncodeImage encodes pixels as png or jpg (the default)
func EncodeImage(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		if quality <= 0 {
			quality = 90
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	AspectRatio float64           `json:"aspect_ratio"`
	Orientation types.Orientation `json:"orientation"`
}

// GetImageInfo returns the display dimensions of an image
func (p *Processor) GetImageInfo(img types.Image) ImageInfo {
	size := img.Size()
	info := ImageInfo{
		Width:       int(size.Width),
		Height:      int(size.Height),
		Orientation: img.Orientation,
	}
	if size.Height > 0 {
		info.AspectRatio = size.Width / size.Height
	}
	return info
}

// ValidateImage checks that an image has pixels, a canonical orientation, and
// is at least minSize pixels on each side
func (p *Processor) ValidateImage(img types.Image, minSize int) error {
	if img.Pixels == nil {
		return fmt.Errorf("image has no pixel data")
	}
	if !img.Orientation.Valid() {
		return fmt.Errorf("invalid orientation %d", int(img.Orientation))
	}
	b := img.Pixels.Bounds()
	if b.Dx() < minSize || b.Dy() < minSize || b.Empty() {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)", b.Dx(), b.Dy(), minSize)
	}
	return nil
}
