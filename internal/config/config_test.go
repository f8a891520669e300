package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromFile_KeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": {"backend": "llamacpp", "url": "http://gpu-box:8080"}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendLlamaCpp, cfg.Model.Backend)
	assert.Equal(t, "http://gpu-box:8080", cfg.Model.URL)
	assert.Equal(t, Default().Model.Name, cfg.Model.Name)
	assert.Equal(t, "#ff0000", cfg.Annotation.StrokeColor)
	assert.True(t, cfg.Model.CacheModel)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": `), 0644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Model.MinConfidence = 0.4
	cfg.Annotation.StrokeColor = "#00ff00"

	require.NoError(t, cfg.SaveToFile(path))
	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Model.Backend = "coreml" }},
		{"missing model name", func(c *Config) { c.Model.Name = "" }},
		{"missing url", func(c *Config) { c.Model.URL = "" }},
		{"bad compute", func(c *Config) { c.Model.Compute = "tpu" }},
		{"zero timeout", func(c *Config) { c.Model.TimeoutSeconds = 0 }},
		{"confidence above one", func(c *Config) { c.Model.MinConfidence = 1.5 }},
		{"send quality", func(c *Config) { c.Model.SendQuality = 0 }},
		{"stroke width", func(c *Config) { c.Annotation.StrokeWidth = 0 }},
		{"stroke color", func(c *Config) { c.Annotation.StrokeColor = "crimson" }},
		{"font size", func(c *Config) { c.Annotation.FontSize = 0 }},
		{"output format", func(c *Config) { c.Output.DefaultFormat = "bmp" }},
		{"output quality", func(c *Config) { c.Output.Quality = 101 }},
		{"crop aspect", func(c *Config) { c.Crops.Aspect = "story" }},
		{"crop padding", func(c *Config) { c.Crops.Padding = -1 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_InferenceNeedsNoModelName(t *testing.T) {
	cfg := Default()
	cfg.Model.Backend = BackendInference
	cfg.Model.Name = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_PigmentNeedsNoServer(t *testing.T) {
	cfg := Default()
	cfg.Model.Backend = BackendPigment
	cfg.Model.Name = ""
	cfg.Model.URL = ""
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MOLE_BACKEND=inference\nMOLE_URL=http://from-dotenv:9000\n"), 0644))

	t.Setenv("MOLE_URL", "http://from-env:9000")
	t.Setenv("MOLE_MIN_CONFIDENCE", "0.25")
	t.Setenv("MOLE_TIMEOUT", "90s")
	t.Setenv("MOLE_CACHE_MODEL", "false")
	t.Setenv("MOLE_CROPS", "true")
	t.Setenv("MOLE_BACKEND", "")
	os.Unsetenv("MOLE_BACKEND")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envFile))

	assert.Equal(t, BackendInference, cfg.Model.Backend)
	assert.Equal(t, "http://from-env:9000", cfg.Model.URL, "process environment wins over .env")
	assert.InDelta(t, 0.25, cfg.Model.MinConfidence, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Timeout())
	assert.False(t, cfg.Model.CacheModel)
	assert.True(t, cfg.Crops.Enabled)
}

func TestApplyEnv_MissingFileIsFine(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("MOLE_MIN_CONFIDENCE", "high")
	cfg := Default()
	assert.ErrorContains(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "nope.env")), "MOLE_MIN_CONFIDENCE")
}

func TestApplyEnv_SubSecondTimeoutRoundsUp(t *testing.T) {
	t.Setenv("MOLE_TIMEOUT", "500ms")
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "nope.env")))
	assert.Equal(t, 1, cfg.Model.TimeoutSeconds)
	assert.NoError(t, cfg.Validate())

	t.Setenv("MOLE_TIMEOUT", "2500ms")
	require.NoError(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "nope.env")))
	assert.Equal(t, 3, cfg.Model.TimeoutSeconds)
}

func TestApplyEnv_NonPositiveTimeout(t *testing.T) {
	t.Setenv("MOLE_TIMEOUT", "0s")
	cfg := Default()
	assert.ErrorContains(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "nope.env")), "MOLE_TIMEOUT")
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.json", filepath.Base(GetConfigPath()))
}
