package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/menta2k/mole-detector/pkg/annotate"
	"github.com/menta2k/mole-detector/pkg/client"
	"github.com/menta2k/mole-detector/pkg/cropper"
)

// Supported model backends
const (
	BackendOllama    = "ollama"
	BackendLlamaCpp  = "llamacpp"
	BackendInference = "inference"
	BackendPigment   = "pigment"
)

// Config holds the application configuration
type Config struct {
	Model      ModelConfig      `json:"model"`
	Annotation AnnotationConfig `json:"annotation"`
	Output     OutputConfig     `json:"output"`
	Crops      CropsConfig      `json:"crops"`
	Log        LogConfig        `json:"log"`
}

// ModelConfig selects and tunes the detection backend
type ModelConfig struct {
	Backend        string  `json:"backend"`
	Name           string  `json:"name"`
	URL            string  `json:"url"`
	Compute        string  `json:"compute"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MaxDim         int     `json:"max_dim"`
	SendFormat     string  `json:"send_format"`
	SendQuality    int     `json:"send_quality"`
	MinConfidence  float64 `json:"min_confidence"`
	CacheModel     bool    `json:"cache_model"`
}

// AnnotationConfig holds the overlay style
type AnnotationConfig struct {
	StrokeWidth float64 `json:"stroke_width"`
	StrokeColor string  `json:"stroke_color"`
	FontSize    float64 `json:"font_size"`
	LabelHeight float64 `json:"label_height"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	DefaultFormat string `json:"default_format"`
	Quality       int    `json:"quality"`
	Lossless      bool   `json:"lossless"`
	OutputDir     string `json:"output_dir"`
	Prefix        string `json:"prefix"`
	Suffix        string `json:"suffix"`
}

// CropsConfig controls the per-mole close-up crops
type CropsConfig struct {
	Enabled bool    `json:"enabled"`
	Aspect  string  `json:"aspect"`
	Padding float64 `json:"padding"`
	MinSize int     `json:"min_size"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `json:"level"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Backend:        BackendOllama,
			Name:           "qwen2.5vl:7b",
			URL:            "http://localhost:11434",
			Compute:        string(client.ComputeAuto),
			TimeoutSeconds: 300,
			MaxDim:         1024,
			SendFormat:     "jpg",
			SendQuality:    90,
			MinConfidence:  0,
			CacheModel:     true,
		},
		Annotation: AnnotationConfig{
			StrokeWidth: 2,
			StrokeColor: "#ff0000",
			FontSize:    12,
			LabelHeight: 15,
		},
		Output: OutputConfig{
			DefaultFormat: "jpg",
			Quality:       90,
			OutputDir:     "./output",
			Prefix:        "",
			Suffix:        "_annotated",
		},
		Crops: CropsConfig{
			Enabled: false,
			Aspect:  cropper.Square.Name,
			Padding: 0.5,
			MinSize: 128,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv loads a .env file (the given files, or ./.env) when present and then
// applies MOLE_* environment overrides. Variables already set in the process
// environment win over the .env file.
func (c *Config) ApplyEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString("MOLE_BACKEND", &c.Model.Backend)
	setString("MOLE_MODEL", &c.Model.Name)
	setString("MOLE_URL", &c.Model.URL)
	setString("MOLE_COMPUTE", &c.Model.Compute)
	setString("MOLE_STROKE_COLOR", &c.Annotation.StrokeColor)
	setString("MOLE_OUTPUT_DIR", &c.Output.OutputDir)
	setString("MOLE_OUTPUT_FORMAT", &c.Output.DefaultFormat)
	setString("MOLE_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("MOLE_MIN_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MOLE_MIN_CONFIDENCE: %w", err)
		}
		c.Model.MinConfidence = f
	}
	if v := os.Getenv("MOLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MOLE_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("MOLE_TIMEOUT must be positive, got %s", v)
		}
		// rounded up to whole seconds
		c.Model.TimeoutSeconds = int(math.Ceil(d.Seconds()))
	}
	if v := os.Getenv("MOLE_CACHE_MODEL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MOLE_CACHE_MODEL: %w", err)
		}
		c.Model.CacheModel = b
	}
	if v := os.Getenv("MOLE_CROPS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MOLE_CROPS: %w", err)
		}
		c.Crops.Enabled = b
	}

	return nil
}

// Timeout returns the model timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Model.Backend {
	case BackendOllama, BackendLlamaCpp, BackendInference, BackendPigment:
	default:
		return fmt.Errorf("model.backend must be one of %s, %s, %s, %s", BackendOllama, BackendLlamaCpp, BackendInference, BackendPigment)
	}

	if (c.Model.Backend == BackendOllama || c.Model.Backend == BackendLlamaCpp) && c.Model.Name == "" {
		return fmt.Errorf("model.name is required for the %s backend", c.Model.Backend)
	}

	if c.Model.Backend != BackendPigment && c.Model.URL == "" {
		return fmt.Errorf("model.url is required")
	}

	if _, err := client.ParseCompute(c.Model.Compute); err != nil {
		return fmt.Errorf("model.compute: %w", err)
	}

	if c.Model.TimeoutSeconds < 1 {
		return fmt.Errorf("model.timeout_seconds must be positive")
	}

	if c.Model.MaxDim < 0 {
		return fmt.Errorf("model.max_dim cannot be negative")
	}

	if c.Model.SendQuality < 1 || c.Model.SendQuality > 100 {
		return fmt.Errorf("model.send_quality must be between 1 and 100")
	}

	if c.Model.MinConfidence < 0 || c.Model.MinConfidence > 1 {
		return fmt.Errorf("model.min_confidence must be between 0 and 1")
	}

	if c.Annotation.StrokeWidth <= 0 {
		return fmt.Errorf("annotation.stroke_width must be positive")
	}

	if _, err := annotate.ParseColor(c.Annotation.StrokeColor); err != nil {
		return fmt.Errorf("annotation.stroke_color: %w", err)
	}

	if c.Annotation.FontSize <= 0 || c.Annotation.LabelHeight <= 0 {
		return fmt.Errorf("annotation.font_size and annotation.label_height must be positive")
	}

	switch strings.ToLower(c.Output.DefaultFormat) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.default_format must be jpg, png or webp")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if _, err := cropper.ParseAspectRatio(c.Crops.Aspect); err != nil {
		return fmt.Errorf("crops.aspect: %w", err)
	}

	if c.Crops.Padding < 0 || c.Crops.MinSize < 0 {
		return fmt.Errorf("crops.padding and crops.min_size cannot be negative")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "mole-detector", "config.json")
}
