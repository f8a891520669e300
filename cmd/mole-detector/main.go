package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	moledetector "github.com/menta2k/mole-detector"
	"github.com/menta2k/mole-detector/internal/config"
	"github.com/menta2k/mole-detector/internal/utils"
	"github.com/menta2k/mole-detector/pkg/types"
)

// report is written next to the annotated image with -json
type report struct {
	Input      string            `json:"input"`
	Output     string            `json:"output"`
	Summary    string            `json:"summary"`
	Backend    string            `json:"backend"`
	DurationMS int64             `json:"duration_ms"`
	Detections []types.Detection `json:"detections"`
	Crops      []string          `json:"crops,omitempty"`
}

func main() {
	var in, outDir, configPath string
	var backend, model, url, compute string
	var ext, strokeColor string
	var quality, workers int
	var lossless, crops, dumpJSON, verbose bool
	var minConfidence float64

	flag.StringVar(&in, "in", "", "input image path, directory or URL (jpg/png/webp)")
	flag.StringVar(&outDir, "out", "", "output directory (default from config: ./output)")
	flag.StringVar(&configPath, "config", "", "config file (default ~/.config/mole-detector/config.json when present)")

	flag.StringVar(&backend, "backend", "", "backend to use: ollama, llamacpp, inference or pigment")
	flag.StringVar(&model, "model", "", "model name")
	flag.StringVar(&url, "url", "", "server URL")
	flag.StringVar(&compute, "compute", "", "compute preference: auto, cpu or gpu")
	flag.Float64Var(&minConfidence, "min-confidence", 0, "drop detections below this confidence (0-1)")

	flag.StringVar(&ext, "ext", "", "output format: jpg|png|webp")
	flag.IntVar(&quality, "quality", 0, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP output lossless mode")
	flag.StringVar(&strokeColor, "color", "", "box colour as hex, e.g. #ff0000")
	flag.BoolVar(&crops, "crops", false, "also save a close-up of every detected mole")
	flag.BoolVar(&dumpJSON, "json", false, "write detections as JSON next to each output image")

	flag.IntVar(&workers, "workers", 2, "images processed in parallel")
	flag.BoolVar(&verbose, "v", false, "debug logging")

	flag.Parse()
	if in == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -in photo.jpg|dir|URL [-backend ollama|llamacpp|inference|pigment] [-url server_url] [-out outdir] [-ext jpg|png|webp] [-crops]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}

	// Flags given on the command line win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.OutputDir = outDir
		case "backend":
			cfg.Model.Backend = backend
		case "model":
			cfg.Model.Name = model
		case "url":
			cfg.Model.URL = url
		case "compute":
			cfg.Model.Compute = compute
		case "min-confidence":
			cfg.Model.MinConfidence = minConfidence
		case "ext":
			cfg.Output.DefaultFormat = strings.ToLower(ext)
		case "quality":
			cfg.Output.Quality = quality
		case "lossless":
			cfg.Output.Lossless = lossless
		case "color":
			cfg.Annotation.StrokeColor = strokeColor
		case "crops":
			cfg.Crops.Enabled = crops
		}
	})
	if verbose {
		cfg.Log.Level = zerolog.LevelDebugValue
	}
	if err := cfg.Validate(); err != nil {
		fatal(fmt.Errorf("invalid configuration: %w", err))
	}
	setupLogging(cfg.Log.Level)

	md, err := moledetector.NewFromConfig(cfg)
	if err != nil {
		fatal(err)
	}

	inputs, root, err := collectInputs(in)
	if err != nil {
		fatal(err)
	}
	if len(inputs) == 0 {
		fatal(fmt.Errorf("no images found in %s", in))
	}
	if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info().Str("backend", md.Backend()).Str("model", cfg.Model.Name).Int("images", len(inputs)).Msg("starting")

	outputs := planOutputs(inputs, root, cfg)
	lines := make([]string, len(inputs))
	var failed atomic.Int32

	var g errgroup.Group
	g.SetLimit(max(1, workers))
	for i, input := range inputs {
		g.Go(func() error {
			line, ok := processOne(ctx, md, cfg, input, outputs[i], dumpJSON)
			lines[i] = line
			if !ok {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, line := range lines {
		fmt.Println(line)
	}
	if n := failed.Load(); n > 0 {
		log.Error().Int32("failed", n).Int("total", len(inputs)).Msg("some images could not be analyzed")
		os.Exit(1)
	}
}

func processOne(ctx context.Context, md *moledetector.MoleDetector, cfg *config.Config, input, out string, dumpJSON bool) (string, bool) {
	if err := utils.EnsureDir(filepath.Dir(out)); err != nil {
		log.Error().Err(err).Str("input", input).Msg("cannot create output directory")
		return fmt.Sprintf("%s: %v", input, err), false
	}

	fr, err := md.ProcessImageFile(ctx, input, moledetector.SaveOptions{
		OutputPath: out,
		Format:     cfg.Output.DefaultFormat,
		Quality:    cfg.Output.Quality,
		Lossless:   cfg.Output.Lossless,
		Crops:      cfg.Crops.Enabled,
	})
	if err != nil {
		log.Error().Err(err).Str("input", input).Msg("processing failed")
		return fmt.Sprintf("%s: %v", input, err), false
	}
	if !fr.Result.Succeeded() {
		log.Error().Err(fr.Result.Err).Str("input", input).Str("kind", fr.Result.Kind.String()).Msg("analysis failed")
		return fmt.Sprintf("%s: %s", input, fr.Result.Summary()), false
	}

	line := fmt.Sprintf("%s: %s -> %s", input, fr.Result.Summary(), fr.OutputPath)
	if info, err := os.Stat(fr.OutputPath); err == nil {
		line += fmt.Sprintf(" (%s)", utils.FormatFileSize(info.Size()))
	}
	if len(fr.CropPaths) > 0 {
		line += fmt.Sprintf(", %d close-up(s)", len(fr.CropPaths))
	}

	if dumpJSON {
		path := strings.TrimSuffix(fr.OutputPath, filepath.Ext(fr.OutputPath)) + ".json"
		if err := writeReport(path, report{
			Input:      input,
			Output:     fr.OutputPath,
			Summary:    fr.Result.Summary(),
			Backend:    md.Backend(),
			DurationMS: fr.Result.Duration.Milliseconds(),
			Detections: fr.Result.Detections,
			Crops:      fr.CropPaths,
		}); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("could not write report")
		}
	}
	return line, true
}

// loadConfig reads the config file, then applies .env and MOLE_* overrides
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// collectInputs expands a directory into its images and returns the directory
// as the root for output paths; files and URLs pass through with no root
func collectInputs(in string) ([]string, string, error) {
	if !utils.IsURL(in) && utils.DirExists(in) {
		files, err := utils.ListImageFiles(in)
		return files, in, err
	}
	return []string{in}, "", nil
}

// planOutputs assigns every input its own output path. Subdirectories below
// root are mirrored in the output directory, and inputs that would still share
// a name (arm.jpg and arm.png with one output format) get a numbered suffix.
func planOutputs(inputs []string, root string, cfg *config.Config) []string {
	taken := make(map[string]bool, len(inputs))
	outputs := make([]string, len(inputs))
	for i, input := range inputs {
		out := utils.GenerateOutputPath(input, root, cfg.Output.OutputDir, cfg.Output.Prefix, cfg.Output.Suffix, cfg.Output.DefaultFormat)
		outputs[i] = utils.UniquePath(out, taken)
	}
	return outputs
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
