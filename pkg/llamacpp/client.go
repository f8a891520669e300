package llamacpp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/mole-detector/pkg/client"
	"github.com/menta2k/mole-detector/pkg/processing"
	"github.com/menta2k/mole-detector/pkg/types"
)

// Config configures the llama.cpp backend
type Config struct {
	URL         string
	Model       string
	Compute     client.Compute
	MaxDim      int
	SendFormat  string
	SendQuality int
	Timeout     time.Duration
}

// Backend runs a vision model behind llama.cpp's OpenAI-compatible server
type Backend struct {
	http *resty.Client
	cfg  Config
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func NewBackend(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &Backend{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(cfg.URL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		cfg: cfg,
	}, nil
}

func (b *Backend) Name() string {
	return "llamacpp"
}

// Load checks that the server is up and has finished loading its model
func (b *Backend) Load(ctx context.Context) (client.Model, error) {
	resp, err := b.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return nil, fmt.Errorf("llama.cpp server unreachable: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("llama.cpp server not ready: HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	if b.cfg.Compute != "" && b.cfg.Compute != client.ComputeAuto {
		log.Debug().Str("compute", string(b.cfg.Compute)).Msg("llama.cpp offload is fixed at server start, compute preference ignored")
	}
	return &model{backend: b}, nil
}

type model struct {
	backend *Backend
}

func (m *model) Infer(ctx context.Context, req client.Request) ([]types.Observation, error) {
	b := m.backend

	imgBytes, err := processing.ModelImage(
		types.Image{Pixels: req.Image, Orientation: req.Orientation},
		b.cfg.SendFormat, b.cfg.MaxDim, b.cfg.SendQuality,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	mime := "image/jpeg"
	if strings.EqualFold(b.cfg.SendFormat, "png") {
		mime = "image/png"
	}

	chatReq := ChatCompletionRequest{
		Model: b.cfg.Model,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: client.DetectionPrompt},
					{Type: "image_url", ImageURL: &ImageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(imgBytes)}},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   4096,
		TopP:        0.8,
		Stream:      false,
	}

	var resp ChatCompletionResponse
	httpResp, err := b.http.R().
		SetContext(ctx).
		SetBody(chatReq).
		SetResult(&resp).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if !httpResp.IsSuccess() {
		return nil, fmt.Errorf("server returned status %d: %s", httpResp.StatusCode(), strings.TrimSpace(httpResp.String()))
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	responseText := messageText(resp.Choices[0].Message)
	if responseText == "" {
		return nil, fmt.Errorf("empty response from llama.cpp server")
	}

	return client.ParseObservations(responseText)
}

// messageText extracts text from a message in either string or array form
func messageText(msg Message) string {
	switch content := msg.Content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}
