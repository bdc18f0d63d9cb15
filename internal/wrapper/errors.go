package wrapper

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig matches every *ConfigError.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPrecedingStageMissing is returned when face or hand detection is
	// requested before pose detection completed for the current frame.
	ErrPrecedingStageMissing = errors.New("pose detection has not run for the current frame")

	// ErrFeatureDisabled is returned for stages or queries that were not
	// enabled at construction.
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrInferenceFailure matches every *InferenceError.
	ErrInferenceFailure = errors.New("inference failed")

	// ErrInvalidImage is returned for empty images or images that are not
	// 8-bit 3-channel.
	ErrInvalidImage = errors.New("image must be a non-empty 8-bit 3-channel buffer")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("wrapper is closed")
)

// ErrHeatmapsDisabled is returned by Heatmaps when heatmap download was not
// enabled. It also matches ErrFeatureDisabled.
var ErrHeatmapsDisabled error = heatmapsDisabled{}

type heatmapsDisabled struct{}

func (heatmapsDisabled) Error() string { return "heatmap download disabled" }

func (heatmapsDisabled) Is(target error) bool { return target == ErrFeatureDisabled }

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// InferenceError reports a failed detection stage.
type InferenceError struct {
	Stage Stage
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInferenceFailure }
