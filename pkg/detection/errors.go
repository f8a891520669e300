package detection

import "errors"

// ErrInvalidImage is returned for images without pixels, with an empty size, or
// with an orientation outside 1..8
var ErrInvalidImage = errors.New("invalid image")

// ModelLoadError reports that the backend could not provide a model
type ModelLoadError struct {
	Backend string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return e.Err.Error()
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// InferenceError reports that a loaded model failed while running detection
type InferenceError struct {
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	return e.Err.Error()
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
