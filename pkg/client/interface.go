package client

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/mole-detector/pkg/types"
)

// Backend loads a detection model. Load may be expensive (it verifies that the
// model exists and the backend is reachable) and is called at most once per
// analysis; callers may cache the returned Model.
type Backend interface {
	Name() string
	Load(ctx context.Context) (Model, error)
}

// Model runs inference on a single image. Implementations must be safe for
// concurrent use once loaded.
type Model interface {
	Infer(ctx context.Context, req Request) ([]types.Observation, error)
}

// Request is a single inference call. The orientation is passed exactly as the
// host supplied it; backends are responsible for honouring it.
type Request struct {
	Image       image.Image
	Orientation types.Orientation
}

// Compute selects the hardware a backend should prefer. It only affects performance.
type Compute string

const (
	ComputeAuto Compute = "auto"
	ComputeCPU  Compute = "cpu"
	ComputeGPU  Compute = "gpu"
)

// ParseCompute accepts auto, cpu or gpu (case-insensitive); empty means auto
func ParseCompute(s string) (Compute, error) {
	switch c := Compute(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return ComputeAuto, nil
	case ComputeAuto, ComputeCPU, ComputeGPU:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compute backend %q (use auto, cpu or gpu)", s)
	}
}

// ModelFunc adapts a function to the Model interface
type ModelFunc func(ctx context.Context, req Request) ([]types.Observation, error)

// Infer calls f(ctx, req)
func (f ModelFunc) Infer(ctx context.Context, req Request) ([]types.Observation, error) {
	return f(ctx, req)
}
