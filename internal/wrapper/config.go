package wrapper

import (
	"errors"
	"fmt"
	"image"
	"os"

	"go.uber.org/zap"

	"github.com/ayusman/posewrap/internal/keypoint"
	"github.com/ayusman/posewrap/internal/logger"
	"github.com/ayusman/posewrap/internal/scale"
)

// Config is the construction-time configuration of a Wrapper. It cannot be
// changed afterwards; build a new Wrapper instead.
type Config struct {
	NetPoseSize      image.Point
	NetFaceHandsSize image.Point
	OutputSize       image.Point
	ModelName        string
	ModelFolder      string
	DownloadHeatmaps bool
	HeatmapRange     scale.ValueRange
	WithFace         bool
	WithHands        bool

	// LogLevel follows the OpenPose convention; 255 is silent.
	LogLevel int

	// Logger replaces the logger built from LogLevel when set.
	Logger *zap.Logger
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		NetPoseSize:      image.Pt(320, 240),
		NetFaceHandsSize: image.Pt(128, 128),
		OutputSize:       image.Pt(640, 480),
		ModelName:        "COCO",
		ModelFolder:      "models/",
		LogLevel:         logger.Silent,
		DownloadHeatmaps: false,
		HeatmapRange:     scale.ZeroToOne,
		WithFace:         true,
		WithHands:        true,
	}
}

// Validate checks every field and returns the model the name refers to.
func (c Config) Validate() (keypoint.Model, error) {
	sizes := []struct {
		field string
		size  image.Point
	}{
		{"NetPoseSize", c.NetPoseSize},
		{"NetFaceHandsSize", c.NetFaceHandsSize},
		{"OutputSize", c.OutputSize},
	}
	for _, s := range sizes {
		if s.size.X <= 0 || s.size.Y <= 0 {
			return keypoint.Model{}, &ConfigError{Field: s.field, Err: fmt.Errorf("non-positive size %dx%d", s.size.X, s.size.Y)}
		}
	}

	model, err := keypoint.LookupModel(c.ModelName)
	if err != nil {
		return keypoint.Model{}, &ConfigError{Field: "ModelName", Err: err}
	}

	if c.ModelFolder == "" {
		return keypoint.Model{}, &ConfigError{Field: "ModelFolder", Err: errors.New("empty path")}
	}
	info, err := os.Stat(c.ModelFolder)
	if err != nil {
		return keypoint.Model{}, &ConfigError{Field: "ModelFolder", Err: err}
	}
	if !info.IsDir() {
		return keypoint.Model{}, &ConfigError{Field: "ModelFolder", Err: fmt.Errorf("%s is not a directory", c.ModelFolder)}
	}

	if _, _, err := logger.Level(c.LogLevel); err != nil {
		return keypoint.Model{}, &ConfigError{Field: "LogLevel", Err: err}
	}

	switch c.HeatmapRange {
	case scale.ZeroToOne, scale.PlusMinusOne, scale.UnsignedChar:
	default:
		return keypoint.Model{}, &ConfigError{Field: "HeatmapRange", Err: fmt.Errorf("%w: %v", scale.ErrInvalidScaleMode, c.HeatmapRange)}
	}

	return model, nil
}
