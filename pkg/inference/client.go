// Package inference talks to a standalone object-detection service, such as a
// YOLO model behind a small HTTP server, that answers pixel boxes.
package inference

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/mole-detector/pkg/client"
	"github.com/menta2k/mole-detector/pkg/geometry"
	"github.com/menta2k/mole-detector/pkg/processing"
	"github.com/menta2k/mole-detector/pkg/types"
)

// Config configures the detection service backend
type Config struct {
	URL     string // service root; /health and /predict are appended
	Model   string // optional model name forwarded to the service
	Compute client.Compute
	Timeout time.Duration
}

// BoundingBox is one detection as reported by the service, in pixels of the
// displayed (orientation-applied) image with the origin at the top-left
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Class  string  `json:"class"`
	Conf   float64 `json:"confidence"`
}

type predictResponse struct {
	Detections []BoundingBox `json:"detections"`
	Error      string        `json:"error,omitempty"`
}

// Backend sends images to the detection service
type Backend struct {
	http *resty.Client
	cfg  Config
}

// NewBackend creates a detection service backend
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("inference service URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Backend{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(cfg.URL, "/")).
			SetTimeout(cfg.Timeout),
		cfg: cfg,
	}, nil
}

func (b *Backend) Name() string {
	return "inference"
}

// Load checks the service health endpoint
func (b *Backend) Load(ctx context.Context) (client.Model, error) {
	resp, err := b.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return nil, fmt.Errorf("inference service unreachable: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("inference service unhealthy: %d", resp.StatusCode())
	}
	log.Debug().Str("url", b.cfg.URL).Msg("Inference service healthy")
	return &model{backend: b}, nil
}

type model struct {
	backend *Backend
}

// Infer uploads the stored pixels losslessly together with their orientation.
// The service applies the orientation itself and reports boxes in the displayed
// image, which are converted here to normalized bottom-left boxes.
func (m *model) Infer(ctx context.Context, req client.Request) ([]types.Observation, error) {
	b := m.backend

	data, err := processing.EncodeImage(req.Image, "png", 0)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	form := map[string]string{
		"orientation": strconv.Itoa(int(req.Orientation)),
		"device":      device(b.cfg.Compute),
	}
	if b.cfg.Model != "" {
		form["model"] = b.cfg.Model
	}

	var result predictResponse
	resp, err := b.http.R().
		SetContext(ctx).
		SetFileReader("file", "image.png", bytes.NewReader(data)).
		SetFormData(form).
		SetResult(&result).
		SetError(&result).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if !resp.IsSuccess() {
		if result.Error != "" {
			return nil, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode(), result.Error)
		}
		return nil, fmt.Errorf("inference failed with status: %d", resp.StatusCode())
	}

	size := types.Image{Pixels: req.Image, Orientation: req.Orientation}.Size()
	return toObservations(result.Detections, size), nil
}

func toObservations(boxes []BoundingBox, size types.Size) []types.Observation {
	observations := make([]types.Observation, 0, len(boxes))
	for _, bb := range boxes {
		obs := types.Observation{
			Box: geometry.ToNormalizedBox(types.PixelBox{
				X: bb.X, Y: bb.Y, Width: bb.Width, Height: bb.Height,
			}, size),
			Confidence: bb.Conf,
		}
		if bb.Class != "" {
			obs.Labels = []types.Label{{Identifier: bb.Class, Confidence: bb.Conf}}
		}
		observations = append(observations, obs)
	}
	return observations
}

// device maps the compute preference onto the service's device field
func device(c client.Compute) string {
	switch c {
	case client.ComputeCPU:
		return "cpu"
	case client.ComputeGPU:
		return "cuda"
	default:
		return "auto"
	}
}
