// Package moledetector finds moles in photographs and draws them.
//
// A photo is sent to a detection backend (a vision language model served by
// Ollama or llama.cpp, a dedicated detection service, or the offline pigment
// heuristic). Every region the
// model reports is drawn as a red box with a "mole (91.00%)" label on a copy
// of the photo.
//
// Basic usage:
//
//	backend, err := ollama.NewBackend(ollama.Config{URL: "http://localhost:11434", Model: "qwen2.5vl:7b"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	md := moledetector.New(backend, moledetector.DefaultOptions())
//
//	img, err := md.LoadImage("arm.jpg")
//	if err != nil {
//		log.Fatal(err)
//	}
//	result := md.Analyze(context.Background(), img)
//	fmt.Println(result.Summary()) // "Detected 2 mole(s)"
//
// The package consists of these components:
//
//  1. Geometry (pkg/geometry): maps normalized model boxes to pixels
//  2. Detection (pkg/detection): runs a backend and normalizes its output
//  3. Annotate (pkg/annotate): draws boxes and labels
//  4. Pipeline (pkg/pipeline): runs detection then annotation, synchronously or as a background job
//  5. Processing (pkg/processing): decoding, EXIF orientation, encoding and saving
//  6. Cropper (pkg/cropper): close-up crops around each detected mole
package moledetector

import (
	"context"
	"fmt"

	"github.com/menta2k/mole-detector/internal/config"
	"github.com/menta2k/mole-detector/internal/utils"
	"github.com/menta2k/mole-detector/pkg/annotate"
	"github.com/menta2k/mole-detector/pkg/client"
	"github.com/menta2k/mole-detector/pkg/cropper"
	"github.com/menta2k/mole-detector/pkg/detection"
	"github.com/menta2k/mole-detector/pkg/inference"
	"github.com/menta2k/mole-detector/pkg/llamacpp"
	"github.com/menta2k/mole-detector/pkg/ollama"
	"github.com/menta2k/mole-detector/pkg/pipeline"
	"github.com/menta2k/mole-detector/pkg/processing"
	"github.com/menta2k/mole-detector/pkg/types"
	"github.com/menta2k/mole-detector/pkg/vision"
)

// Version of the mole detector library
const Version = "1.0.0"

// Options configures detection and drawing
type Options struct {
	Detection detection.Options
	Style     annotate.Style
	Crop      cropper.CropConfig
}

// DefaultOptions caches the model, keeps every detection and draws 2px red boxes
func DefaultOptions() Options {
	return Options{
		Detection: detection.DefaultOptions(),
		Style:     annotate.DefaultStyle(),
		Crop:      cropper.DefaultConfig(),
	}
}

// MoleDetector provides a high-level interface for mole detection
type MoleDetector struct {
	processor *processing.Processor
	detector  *detection.Detector
	annotator *annotate.Annotator
	cropper   *cropper.LesionCropper
	pipeline  *pipeline.Pipeline
}

// New creates a MoleDetector over a model backend
func New(backend client.Backend, opts Options) *MoleDetector {
	detector := detection.NewDetector(backend, opts.Detection)
	annotator := annotate.New(opts.Style)
	return &MoleDetector{
		processor: processing.NewProcessor(),
		detector:  detector,
		annotator: annotator,
		cropper:   cropper.NewWithConfig(opts.Crop),
		pipeline:  pipeline.New(detector, annotator),
	}
}

// NewFromConfig builds the backend and options described by cfg
func NewFromConfig(cfg *config.Config) (*MoleDetector, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	color, err := annotate.ParseColor(cfg.Annotation.StrokeColor)
	if err != nil {
		return nil, err
	}

	aspect, err := cropper.ParseAspectRatio(cfg.Crops.Aspect)
	if err != nil {
		return nil, err
	}

	return New(backend, Options{
		Detection: detection.Options{
			MinConfidence: cfg.Model.MinConfidence,
			CacheModel:    cfg.Model.CacheModel,
		},
		Style: annotate.Style{
			StrokeWidth: cfg.Annotation.StrokeWidth,
			Color:       color,
			FontSize:    cfg.Annotation.FontSize,
			LabelHeight: cfg.Annotation.LabelHeight,
		},
		Crop: cropper.CropConfig{
			AspectRatio:    aspect,
			PaddingRatio:   cfg.Crops.Padding,
			MinSize:        cfg.Crops.MinSize,
			AllowUpscaling: cfg.Crops.MinSize > 0,
		},
	}), nil
}

// NewBackend creates the model backend named in cfg
func NewBackend(cfg *config.Config) (client.Backend, error) {
	compute, err := client.ParseCompute(cfg.Model.Compute)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout()

	var backend client.Backend
	switch cfg.Model.Backend {
	case config.BackendOllama:
		backend, err = ollama.NewBackend(ollama.Config{
			URL:         cfg.Model.URL,
			Model:       cfg.Model.Name,
			Compute:     compute,
			MaxDim:      cfg.Model.MaxDim,
			SendFormat:  cfg.Model.SendFormat,
			SendQuality: cfg.Model.SendQuality,
			Timeout:     timeout,
		})
	case config.BackendLlamaCpp:
		backend, err = llamacpp.NewBackend(llamacpp.Config{
			URL:         cfg.Model.URL,
			Model:       cfg.Model.Name,
			Compute:     compute,
			MaxDim:      cfg.Model.MaxDim,
			SendFormat:  cfg.Model.SendFormat,
			SendQuality: cfg.Model.SendQuality,
			Timeout:     timeout,
		})
	case config.BackendInference:
		backend, err = inference.NewBackend(inference.Config{
			URL:     cfg.Model.URL,
			Model:   cfg.Model.Name,
			Compute: compute,
			Timeout: timeout,
		})
	case config.BackendPigment:
		backend = vision.New()
	default:
		return nil, fmt.Errorf("unknown backend: %s (use ollama, llamacpp, inference or pigment)", cfg.Model.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Model.Backend, err)
	}
	return backend, nil
}

// Backend returns the name of the model backend in use
func (md *MoleDetector) Backend() string {
	return md.detector.Backend()
}

// LoadImage loads an image from a file path or http(s) URL, keeping its EXIF orientation
func (md *MoleDetector) LoadImage(source string) (types.Image, error) {
	return md.processor.LoadImageSmart(source)
}

// DecodeImage decodes an in-memory image, keeping its EXIF orientation
func (md *MoleDetector) DecodeImage(data []byte) (types.Image, error) {
	return md.processor.DecodeImage(data)
}

// Detect returns the detections for img without drawing them
func (md *MoleDetector) Detect(ctx context.Context, img types.Image) ([]types.Detection, error) {
	return md.detector.Detect(ctx, img)
}

// Annotate draws detections on a copy of img
func (md *MoleDetector) Annotate(img types.Image, detections []types.Detection) types.Image {
	return md.annotator.Annotate(img, detections)
}

// Analyze detects and annotates moles, blocking until done
func (md *MoleDetector) Analyze(ctx context.Context, img types.Image) pipeline.Result {
	return md.pipeline.Analyze(ctx, img)
}

// AnalyzeAsync starts an analysis in the background
func (md *MoleDetector) AnalyzeAsync(ctx context.Context, img types.Image) *pipeline.Job {
	return md.pipeline.AnalyzeAsync(ctx, img)
}

// Crop cuts a close-up around each detection, in display orientation
func (md *MoleDetector) Crop(img types.Image, detections []types.Detection) []cropper.CropResult {
	return md.cropper.CropDetections(img, detections)
}

// SaveImage writes an image in its display orientation
func (md *MoleDetector) SaveImage(img types.Image, path, format string, quality int, lossless bool) error {
	return md.processor.SaveImage(processing.Upright(img), path, format, quality, lossless)
}

// FileResult is the outcome of ProcessImageFile
type FileResult struct {
	Input      string
	OutputPath string // empty unless the analysis succeeded and was saved
	CropPaths  []string
	Result     pipeline.Result
}

// SaveOptions controls how ProcessImageFile writes the annotated image
type SaveOptions struct {
	OutputPath string
	Format     string
	Quality    int
	Lossless   bool
	Crops      bool // also save a close-up per detection next to OutputPath
}

// ProcessImageFile loads, analyzes and, on success, saves the annotated image.
// A failed analysis leaves any existing output untouched. The returned error
// covers loading and saving; analysis failures are reported in the Result.
func (md *MoleDetector) ProcessImageFile(ctx context.Context, input string, save SaveOptions) (FileResult, error) {
	fr := FileResult{Input: input}

	img, err := md.LoadImage(input)
	if err != nil {
		return fr, fmt.Errorf("failed to load image: %w", err)
	}

	job := md.AnalyzeAsync(ctx, img)
	fr.Result, err = job.Wait(ctx)
	if err != nil {
		return fr, err
	}
	if !fr.Result.Succeeded() {
		return fr, nil
	}

	if err := md.SaveImage(fr.Result.Image, save.OutputPath, save.Format, save.Quality, save.Lossless); err != nil {
		return fr, fmt.Errorf("failed to save %s: %w", save.OutputPath, err)
	}
	fr.OutputPath = save.OutputPath

	if save.Crops {
		for _, crop := range md.Crop(img, fr.Result.Detections) {
			path := utils.CropFilename(save.OutputPath, crop.Index+1)
			if err := md.processor.SaveImage(crop.Image, path, save.Format, save.Quality, save.Lossless); err != nil {
				return fr, fmt.Errorf("failed to save crop %s: %w", path, err)
			}
			fr.CropPaths = append(fr.CropPaths, path)
		}
	}
	return fr, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
