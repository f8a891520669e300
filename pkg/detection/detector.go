package detection

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/mole-detector/pkg/client"
	"github.com/menta2k/mole-detector/pkg/geometry"
	"github.com/menta2k/mole-detector/pkg/types"
)

// Options tunes how a Detector turns backend output into detections
type Options struct {
	// MinConfidence drops detections below this confidence. Zero keeps everything.
	MinConfidence float64
	// CacheModel keeps the first successfully loaded model for later calls.
	CacheModel bool
}

// DefaultOptions keeps every detection and caches the model
func DefaultOptions() Options {
	return Options{CacheModel: true}
}

// Detector runs a model backend over images and normalizes its output
type Detector struct {
	backend client.Backend
	opts    Options

	mu    sync.Mutex
	model client.Model
}

// NewDetector creates a detector over a model backend
func NewDetector(backend client.Backend, opts Options) *Detector {
	return &Detector{backend: backend, opts: opts}
}

// Backend returns the name of the underlying model backend
func (d *Detector) Backend() string {
	return d.backend.Name()
}

// Detect runs inference on img and returns one Detection per reported region, in
// backend order. The orientation is handed to the backend unchanged.
func (d *Detector) Detect(ctx context.Context, img types.Image) (detections []types.Detection, err error) {
	if err := validate(img); err != nil {
		return nil, err
	}

	model, err := d.loadModel(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			detections = nil
			err = &InferenceError{Backend: d.backend.Name(), Err: fmt.Errorf("inference panicked: %v", r)}
		}
	}()

	observations, err := model.Infer(ctx, client.Request{Image: img.Pixels, Orientation: img.Orientation})
	if err != nil {
		return nil, &InferenceError{Backend: d.backend.Name(), Err: err}
	}

	detections = make([]types.Detection, 0, len(observations))
	for _, obs := range observations {
		det := toDetection(obs)
		if det.Confidence < d.opts.MinConfidence {
			continue
		}
		detections = append(detections, det)
	}

	log.Debug().
		Str("backend", d.backend.Name()).
		Int("observations", len(observations)).
		Int("detections", len(detections)).
		Msg("Detection complete")

	return detections, nil
}

// loadModel returns the cached model or loads a new one. Loads are serialized so
// concurrent callers never load twice; a failed load is not cached.
func (d *Detector) loadModel(ctx context.Context) (model client.Model, err error) {
	if !d.opts.CacheModel {
		return d.load(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.model != nil {
		return d.model, nil
	}
	model, err = d.load(ctx)
	if err != nil {
		return nil, err
	}
	d.model = model
	return model, nil
}

func (d *Detector) load(ctx context.Context) (model client.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			model = nil
			err = &ModelLoadError{Backend: d.backend.Name(), Err: fmt.Errorf("model load panicked: %v", r)}
		}
	}()

	model, err = d.backend.Load(ctx)
	if err != nil {
		return nil, &ModelLoadError{Backend: d.backend.Name(), Err: err}
	}
	if model == nil {
		return nil, &ModelLoadError{Backend: d.backend.Name(), Err: fmt.Errorf("backend %s returned no model", d.backend.Name())}
	}
	log.Debug().Str("backend", d.backend.Name()).Msg("Model loaded")
	return model, nil
}

func validate(img types.Image) error {
	if img.Pixels == nil {
		return fmt.Errorf("%w: no pixel data", ErrInvalidImage)
	}
	if img.Size().Empty() {
		return fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if !img.Orientation.Valid() {
		return fmt.Errorf("%w: orientation %d", ErrInvalidImage, int(img.Orientation))
	}
	return nil
}

// toDetection picks the best label of an observation and clamps its geometry.
// An observation without labels keeps its own confidence and an empty label.
func toDetection(obs types.Observation) types.Detection {
	det := types.Detection{
		Box:        geometry.ClampBox(obs.Box),
		Confidence: obs.Confidence,
	}
	for i, l := range obs.Labels {
		if i == 0 || l.Confidence > det.Confidence {
			det.Label = l.Identifier
			det.Confidence = l.Confidence
		}
	}
	det.Confidence = geometry.Clamp01(det.Confidence)
	return det
}
