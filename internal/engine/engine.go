// Package engine defines the narrow interface between the pose wrapper and
// the external inference runtime that owns the networks and accelerator memory.
package engine

import (
	"errors"
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/heatmap"
	"github.com/ayusman/posewrap/internal/keypoint"
)

// ErrClosed is returned by engine calls made after Close.
var ErrClosed = errors.New("engine is closed")

// ErrUnsupported is returned when a stage is invoked that the engine was not
// initialized for.
var ErrUnsupported = errors.New("stage not supported by engine")

// Engine runs the pose, face and hand networks.
//
// Pose keypoints are returned in the network's output grid resolution.
// Face and hand keypoints are returned per crop, in crop pixels at the
// network input size. Implementations are not safe for concurrent use.
type Engine interface {
	// RunPoseNet runs the body network on an image already resized to the
	// pose network input size.
	RunPoseNet(input gocv.Mat) (PoseOutput, error)

	// RunFaceNet runs the face network once per crop and returns one flat
	// keypoint array (FaceParts*3 values) per crop, in crop order.
	RunFaceNet(crops []gocv.Mat) ([][]float32, error)

	// RunHandNet runs the hand network once per crop and returns one flat
	// keypoint array (HandParts*3 values) per crop, in crop order.
	RunHandNet(crops []gocv.Mat) ([][]float32, error)

	// FetchHeatmaps downloads the heatmap and PAF stack of the last
	// RunPoseNet call.
	FetchHeatmaps() (heatmap.Raw, error)

	// Capabilities reports what the engine was initialized with.
	Capabilities() Capabilities

	// Close releases the networks and any accelerator resources.
	Close() error
}

// PoseOutput is the raw result of one body network pass.
type PoseOutput struct {
	// Keypoints is instance-major, NumParts*3 values per person.
	Keypoints []float32
	// NetOutputSize is the resolution the keypoints are expressed in.
	NetOutputSize image.Point
}

// Capabilities lists the stages and model an engine can serve.
type Capabilities struct {
	Model    string `json:"model"`
	Face     bool   `json:"face"`
	Hands    bool   `json:"hands"`
	Heatmaps bool   `json:"heatmaps"`
}

// Options configures an engine at open time.
type Options struct {
	Model            keypoint.Model
	ModelFolder      string
	NetPoseSize      image.Point
	NetFaceHandsSize image.Point
	WithFace         bool
	WithHands        bool
	DownloadHeatmaps bool
	Logger           *zap.Logger
}

// HeatmapLayout returns the channel layout of the model's heatmap stack.
func (o Options) HeatmapLayout() heatmap.Layout {
	return heatmap.Layout{
		BodyParts:  o.Model.NumParts(),
		Background: true,
		PAFs:       len(o.Model.PAFPairs),
	}
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// OpenFunc allocates an engine. The wrapper calls it exactly once.
type OpenFunc func(Options) (Engine, error)
