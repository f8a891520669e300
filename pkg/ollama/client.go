package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/mole-detector/pkg/client"
	"github.com/menta2k/mole-detector/pkg/processing"
	"github.com/menta2k/mole-detector/pkg/types"
)

// Config configures the Ollama backend
type Config struct {
	URL         string
	Model       string
	Compute     client.Compute
	MaxDim      int    // long side of the image sent to the model
	SendFormat  string // jpg or png
	SendQuality int
	Timeout     time.Duration
}

// Backend runs a vision language model served by Ollama
type Backend struct {
	client *api.Client
	cfg    Config
}

// NewBackend creates a new Ollama backend
func NewBackend(cfg Config) (*Backend, error) {
	// Parse the provided URL
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", cfg.URL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}

	// Create client with the specified URL, ignoring environment
	return &Backend{client: api.NewClient(baseURL, http.DefaultClient), cfg: cfg}, nil
}

// Name implements client.Backend
func (b *Backend) Name() string {
	return "ollama"
}

// Load checks that the model is available on the server
func (b *Backend) Load(ctx context.Context) (client.Model, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if _, err := b.client.Show(ctx, &api.ShowRequest{Model: b.cfg.Model}); err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("model %q not found on ollama server (try: ollama pull %s)", b.cfg.Model, b.cfg.Model)
		}
		return nil, fmt.Errorf("ollama show %s: %w", b.cfg.Model, err)
	}

	log.Debug().Str("model", b.cfg.Model).Str("compute", string(b.cfg.Compute)).Msg("Ollama model available")
	return &model{backend: b}, nil
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.cfg.Timeout)
}

// options maps the compute preference onto Ollama's num_gpu layer count
func (b *Backend) options() map[string]any {
	options := map[string]any{"temperature": 0.1}
	switch b.cfg.Compute {
	case client.ComputeCPU:
		options["num_gpu"] = 0
	case client.ComputeGPU:
		options["num_gpu"] = 999
	}
	return options
}

type model struct {
	backend *Backend
}

// Infer sends the upright picture with the detection prompt and parses the boxes
func (m *model) Infer(ctx context.Context, req client.Request) ([]types.Observation, error) {
	b := m.backend
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	imgBytes, err := processing.ModelImage(
		types.Image{Pixels: req.Image, Orientation: req.Orientation},
		b.cfg.SendFormat, b.cfg.MaxDim, b.cfg.SendQuality,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model: b.cfg.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: client.DetectionPrompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: b.options(),
	}

	var responseContent string
	err = b.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	if responseContent == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	return client.ParseObservations(responseContent)
}
