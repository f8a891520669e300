package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/mole-detector/pkg/types"
)

var (
	red  = color.NRGBA{255, 0, 0, 255}
	blue = color.NRGBA{0, 0, 255, 255}
)

// createTestImage creates a gradient test image
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8((x * 255) / width), uint8((y * 255) / height), 128, 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// withEXIFOrientation inserts a minimal APP1 EXIF segment carrying only the orientation tag
func withEXIFOrientation(jpegData []byte, o types.Orientation) []byte {
	tiff := []byte{
		'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, byte(o), 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	segLen := len(payload) + 2

	out := []byte{0xFF, 0xD8, 0xFF, 0xE1, byte(segLen >> 8), byte(segLen)}
	out = append(out, payload...)
	return append(out, jpegData[2:]...)
}

func TestDecodeImage_ReadsOrientation(t *testing.T) {
	p := NewProcessor()
	data := withEXIFOrientation(encodeJPEG(t, createTestImage(40, 20)), types.OrientationRight)

	img, err := p.DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, types.OrientationRight, img.Orientation)
	assert.Equal(t, 40, img.Pixels.Bounds().Dx(), "pixels are kept as stored")
	assert.Equal(t, types.Size{Width: 20, Height: 40}, img.Size())
}

func TestDecodeImage_NoEXIFIsUp(t *testing.T) {
	p := NewProcessor()
	img, err := p.DecodeImage(encodeJPEG(t, createTestImage(10, 10)))
	require.NoError(t, err)
	assert.Equal(t, types.OrientationUp, img.Orientation)
}

func TestDecodeImage_Garbage(t *testing.T) {
	_, err := NewProcessor().DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}

func TestOrient(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	tests := []struct {
		o           types.Orientation
		w, h        int
		first, last color.NRGBA
	}{
		{types.OrientationUp, 2, 1, red, blue},
		{types.OrientationUpMirrored, 2, 1, blue, red},
		{types.OrientationDown, 2, 1, blue, red},
		{types.OrientationDownMirrored, 2, 1, red, blue},
		{types.OrientationLeftMirrored, 1, 2, red, blue},
		{types.OrientationRight, 1, 2, red, blue},
		{types.OrientationRightMirrored, 1, 2, blue, red},
		{types.OrientationLeft, 1, 2, blue, red},
	}

	for _, tt := range tests {
		t.Run(tt.o.String(), func(t *testing.T) {
			out := Orient(src, tt.o)
			require.Equal(t, tt.w, out.Bounds().Dx())
			require.Equal(t, tt.h, out.Bounds().Dy())
			assert.Equal(t, tt.first, out.NRGBAAt(0, 0))
			assert.Equal(t, tt.last, out.NRGBAAt(tt.w-1, tt.h-1))
		})
	}

	// source untouched
	assert.Equal(t, red, src.NRGBAAt(0, 0))
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	img := types.Image{Pixels: createTestImage(400, 200), Orientation: types.OrientationLeft}

	b64, err := p.PrepareImageForModel(img, "png", 100, 85)
	require.NoError(t, err)

	data, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	decoded, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	// rotated to 200x400 then limited to a 100px long side
	assert.Equal(t, 50, decoded.Bounds().Dx())
	assert.Equal(t, 100, decoded.Bounds().Dy())
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	src := createTestImage(32, 16)

	for _, format := range []string{"png", "jpg", "webp"} {
		path := filepath.Join(dir, "out."+format)
		require.NoError(t, p.SaveImage(src, path, format, 90, false), format)

		img, err := p.LoadImage(path)
		require.NoError(t, err, format)
		assert.Equal(t, 32, img.Pixels.Bounds().Dx(), format)
		assert.Equal(t, 16, img.Pixels.Bounds().Dy(), format)
	}

	_, err := p.LoadImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestLoadImageFromURL(t *testing.T) {
	data := encodeJPEG(t, createTestImage(12, 8))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(data)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewProcessor()
	img, err := p.LoadImageSmart(srv.URL + "/photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, 12, img.Pixels.Bounds().Dx())

	_, err = p.LoadImageFromURL(srv.URL + "/page")
	assert.ErrorContains(t, err, "does not point to an image")

	_, err = p.LoadImageFromURL(srv.URL + "/missing")
	assert.Error(t, err)

	_, err = p.LoadImageFromURL("ftp://example.com/a.jpg")
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

func TestImageInfoAndValidate(t *testing.T) {
	p := NewProcessor()
	img := types.Image{Pixels: createTestImage(300, 200), Orientation: types.OrientationRight}

	info := p.GetImageInfo(img)
	assert.Equal(t, 200, info.Width)
	assert.Equal(t, 300, info.Height)
	assert.InDelta(t, 200.0/300.0, info.AspectRatio, 1e-9)

	assert.NoError(t, p.ValidateImage(img, 100))
	assert.Error(t, p.ValidateImage(img, 250))
	assert.Error(t, p.ValidateImage(types.Image{}, 1))
	assert.Error(t, p.ValidateImage(types.Image{Pixels: img.Pixels, Orientation: 0}, 1))
}
