package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/mole-detector/pkg/detection"
	"github.com/menta2k/mole-detector/pkg/types"
)

// State is the lifecycle of one analysis
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the analysis has finished
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Kind classifies a failure
type Kind int

const (
	KindNone Kind = iota
	KindModelLoad
	KindInference
	KindInvalidImage
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindModelLoad:
		return "model_load"
	case KindInference:
		return "inference"
	case KindInvalidImage:
		return "invalid_image"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Detector finds moles in an image
type Detector interface {
	Detect(ctx context.Context, img types.Image) ([]types.Detection, error)
}

// Annotator draws detections onto a copy of an image
type Annotator interface {
	Annotate(img types.Image, detections []types.Detection) types.Image
}

// Result is the terminal outcome of an analysis. Image and Count are set when
// State is StateSucceeded; Kind, Message and Err when it is StateFailed.
type Result struct {
	State      State
	Image      types.Image
	Detections []types.Detection
	Count      int

	Kind    Kind
	Message string
	Err     error

	Duration time.Duration
}

// Succeeded reports whether the analysis finished without error
func (r Result) Succeeded() bool {
	return r.State == StateSucceeded
}

// Summary returns the status line shown to the user
func (r Result) Summary() string {
	switch r.State {
	case StateSucceeded:
		if r.Count == 0 {
			return "No moles detected"
		}
		return fmt.Sprintf("Detected %d mole(s)", r.Count)
	case StateFailed:
		return r.Message
	case StateRunning:
		return "Analyzing..."
	default:
		return ""
	}
}

// Pipeline runs detection followed by annotation
type Pipeline struct {
	detector  Detector
	annotator Annotator
}

// New creates a pipeline
func New(detector Detector, annotator Annotator) *Pipeline {
	return &Pipeline{detector: detector, annotator: annotator}
}

// Analyze detects moles in img and annotates them. It blocks until done and
// always returns a terminal Result; errors and panics are reported through it.
func (p *Pipeline) Analyze(ctx context.Context, img types.Image) (result Result) {
	start := time.Now()
	log.Debug().Str("state", StateRunning.String()).Msg("Analysis started")

	defer func() {
		if r := recover(); r != nil {
			result = failed(fmt.Errorf("analysis panicked: %v", r))
		}
		result.Duration = time.Since(start)
		log.Debug().
			Str("state", result.State.String()).
			Int("count", result.Count).
			Str("kind", result.Kind.String()).
			Dur("elapsed", result.Duration).
			Msg("Analysis finished")
	}()

	inferStart := time.Now()
	detections, err := p.detector.Detect(ctx, img)
	if err != nil {
		return failed(err)
	}
	log.Debug().Int("detections", len(detections)).Dur("inference", time.Since(inferStart)).Msg("Detection done")

	annotated := p.annotator.Annotate(img, detections)
	return Result{
		State:      StateSucceeded,
		Image:      annotated,
		Detections: detections,
		Count:      len(detections),
	}
}

func failed(err error) Result {
	kind := classify(err)
	msg := "Error: " + err.Error()
	if kind == KindModelLoad {
		msg = "Error loading model: " + err.Error()
	}
	return Result{State: StateFailed, Kind: kind, Message: msg, Err: err}
}

func classify(err error) Kind {
	var loadErr *detection.ModelLoadError
	var inferErr *detection.InferenceError
	switch {
	case errors.As(err, &loadErr):
		return KindModelLoad
	case errors.As(err, &inferErr):
		return KindInference
	case errors.Is(err, detection.ErrInvalidImage):
		return KindInvalidImage
	default:
		return KindInference
	}
}

// Job is an analysis running in the background
type Job struct {
	mu     sync.Mutex
	state  State
	result Result
	done   chan struct{}
}

// State returns the current state of the job
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed once the job has a terminal result
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the terminal result, or a Result carrying the current
// non-terminal state while the job is still running
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		return Result{State: j.state}
	}
	return j.result
}

// Wait blocks until the job finishes or ctx is done. Cancelling ctx stops the
// wait, not the analysis.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.Result(), nil
	case <-ctx.Done():
		return Result{State: j.State()}, ctx.Err()
	}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) finish(r Result) {
	j.mu.Lock()
	j.result = r
	j.state = r.State
	j.mu.Unlock()
	close(j.done)
}

// AnalyzeAsync starts an analysis on its own goroutine and returns immediately.
// Calls are independent; a new call never cancels an earlier one.
func (p *Pipeline) AnalyzeAsync(ctx context.Context, img types.Image) *Job {
	job := &Job{state: StateIdle, done: make(chan struct{})}
	go func() {
		job.setState(StateRunning)
		job.finish(p.Analyze(ctx, img))
	}()
	return job
}

// AnalyzeFunc runs an analysis in the background and calls fn with its result
// on a background goroutine
func (p *Pipeline) AnalyzeFunc(ctx context.Context, img types.Image, fn func(Result)) *Job {
	job := p.AnalyzeAsync(ctx, img)
	go func() {
		<-job.Done()
		fn(job.Result())
	}()
	return job
}
