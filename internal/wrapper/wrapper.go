// Package wrapper is the stateful facade over the pose, face and hand
// networks. It enforces the stage order (pose before face and hands), keeps
// the results of the current frame and converts them to the configured
// output scale.
//
// A Wrapper is not safe for concurrent use. Callers that share one must
// serialize access themselves.
package wrapper

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/engine"
	"github.com/ayusman/posewrap/internal/heatmap"
	"github.com/ayusman/posewrap/internal/keypoint"
	"github.com/ayusman/posewrap/internal/logger"
	"github.com/ayusman/posewrap/internal/render"
	"github.com/ayusman/posewrap/internal/roi"
	"github.com/ayusman/posewrap/internal/scale"
)

// Wrapper runs the detection stages for one frame at a time.
type Wrapper struct {
	cfg   Config
	model keypoint.Model
	eng   engine.Engine
	log   *zap.Logger

	sm     machine
	frame  frame
	closed bool
}

// frame holds the results of the current input image. Tensors are kept in
// input-image pixels.
type frame struct {
	id        uuid.UUID
	inputSize image.Point
	pose      keypoint.Tensor
	face      keypoint.Tensor
	left      keypoint.Tensor
	right     keypoint.Tensor
	heatmaps  heatmap.Stack
}

// FrameInfo describes the current frame.
type FrameInfo struct {
	ID        uuid.UUID   `json:"id"`
	InputSize image.Point `json:"input_size"`
	State     State       `json:"state"`
	People    int         `json:"people"`
}

// New validates cfg and opens the engine. The engine is closed again if
// construction fails after it was opened.
func New(cfg Config, open engine.OpenFunc) (*Wrapper, error) {
	model, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, &ConfigError{Field: "engine", Err: errors.New("no engine")}
	}

	log := cfg.Logger
	if log == nil {
		log, err = logger.New(cfg.LogLevel)
		if err != nil {
			return nil, &ConfigError{Field: "LogLevel", Err: err}
		}
	}
	log = log.With(zap.String("component", "wrapper"))

	eng, err := open(engine.Options{
		Model:            model,
		ModelFolder:      cfg.ModelFolder,
		NetPoseSize:      cfg.NetPoseSize,
		NetFaceHandsSize: cfg.NetFaceHandsSize,
		WithFace:         cfg.WithFace,
		WithHands:        cfg.WithHands,
		DownloadHeatmaps: cfg.DownloadHeatmaps,
		Logger:           log,
	})
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	if err := checkCapabilities(cfg, model, eng.Capabilities()); err != nil {
		if cerr := eng.Close(); cerr != nil {
			log.Warn("close engine after failed construction", zap.Error(cerr))
		}
		return nil, err
	}

	log.Info("wrapper ready",
		zap.String("model", model.Name),
		zap.Bool("face", cfg.WithFace),
		zap.Bool("hands", cfg.WithHands),
		zap.Bool("heatmaps", cfg.DownloadHeatmaps))

	return &Wrapper{
		cfg:   cfg,
		model: model,
		eng:   eng,
		log:   log,
	}, nil
}

func checkCapabilities(cfg Config, model keypoint.Model, caps engine.Capabilities) error {
	if caps.Model != "" && !strings.EqualFold(caps.Model, model.Name) {
		return &ConfigError{Field: "ModelName", Err: fmt.Errorf("engine loaded %s, want %s", caps.Model, model.Name)}
	}
	if cfg.WithFace && !caps.Face {
		return &ConfigError{Field: "WithFace", Err: engine.ErrUnsupported}
	}
	if cfg.WithHands && !caps.Hands {
		return &ConfigError{Field: "WithHands", Err: engine.ErrUnsupported}
	}
	if cfg.DownloadHeatmaps && !caps.Heatmaps {
		return &ConfigError{Field: "DownloadHeatmaps", Err: engine.ErrUnsupported}
	}
	return nil
}

// Config returns the construction-time configuration.
func (w *Wrapper) Config() Config {
	return w.cfg
}

// Model returns the body model in use.
func (w *Wrapper) Model() keypoint.Model {
	return w.model
}

// State returns the detection progress of the current frame.
func (w *Wrapper) State() State {
	return w.sm.state()
}

// Frame describes the current frame.
func (w *Wrapper) Frame() FrameInfo {
	return FrameInfo{
		ID:        w.frame.id,
		InputSize: w.frame.inputSize,
		State:     w.sm.state(),
		People:    w.frame.pose.Len(),
	}
}

// DetectPose starts a new frame and runs the body network on img. Results
// of the previous frame are discarded even if this call fails.
func (w *Wrapper) DetectPose(img gocv.Mat) error {
	if w.closed {
		return ErrClosed
	}
	if !validImage(img) {
		return &InferenceError{Stage: StagePose, Err: ErrInvalidImage}
	}

	w.sm.begin()
	w.frame = frame{
		id:        uuid.New(),
		inputSize: image.Pt(img.Cols(), img.Rows()),
	}

	start := time.Now()
	if err := w.detectPose(img); err != nil {
		w.log.Warn("pose detection failed", zap.Stringer("frame", w.frame.id), zap.Error(err))
		return &InferenceError{Stage: StagePose, Err: err}
	}
	w.sm.complete(StagePose)

	w.log.Debug("pose detected",
		zap.Stringer("frame", w.frame.id),
		zap.Int("people", w.frame.pose.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (w *Wrapper) detectPose(img gocv.Mat) error {
	input := resizeTo(img, w.cfg.NetPoseSize)
	defer input.Close()

	out, err := w.eng.RunPoseNet(input)
	if err != nil {
		return err
	}

	pose, err := keypoint.FromNetOutput(out.Keypoints, w.model.NumParts(), out.NetOutputSize, w.frame.inputSize)
	if err != nil {
		return err
	}

	var stack heatmap.Stack
	if w.cfg.DownloadHeatmaps {
		raw, err := w.eng.FetchHeatmaps()
		if err != nil {
			return fmt.Errorf("fetch heatmaps: %w", err)
		}
		if got, want := raw.Layout.Channels(), w.model.HeatmapChannels(); got != want {
			return fmt.Errorf("%w: %d heatmap channels, want %d for %s", heatmap.ErrMalformed, got, want, w.model.Name)
		}
		stack, err = heatmap.FromRaw(raw, w.cfg.HeatmapRange)
		if err != nil {
			return err
		}
		stack, err = stack.Resize(w.cfg.OutputSize)
		if err != nil {
			return err
		}
	}

	w.frame.pose = pose
	w.frame.heatmaps = stack
	return nil
}

// DetectFace runs the face network on face regions derived from the pose
// keypoints of the current frame. img must be the image given to DetectPose.
func (w *Wrapper) DetectFace(img gocv.Mat) error {
	if err := w.precheck(StageFace, w.cfg.WithFace, img); err != nil {
		return err
	}

	start := time.Now()
	people := w.frame.pose.Len()

	var crops []crop
	for i, person := range w.frame.pose.Instances {
		r, ok := roi.Face(person, w.model.Landmarks, roi.DefaultThreshold)
		if !ok {
			continue
		}
		if ir, ok := cropRect(r); ok {
			crops = append(crops, crop{person: i, rect: ir})
		}
	}

	face, err := w.runCrops(StageFace, img, crops, keypoint.FaceParts, w.eng.RunFaceNet)
	if err != nil {
		return err
	}

	ft, err := keypoint.Align(people, keypoint.FaceParts, face)
	if err != nil {
		return w.stageFailed(StageFace, err)
	}
	w.frame.face = ft
	w.sm.complete(StageFace)

	w.log.Debug("faces detected",
		zap.Stringer("frame", w.frame.id),
		zap.Int("crops", len(crops)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// DetectHands runs the hand network on hand regions derived from each
// person's wrists, elbows and shoulders. Left-hand crops are mirrored so
// the network always sees a right hand.
func (w *Wrapper) DetectHands(img gocv.Mat) error {
	if err := w.precheck(StageHands, w.cfg.WithHands, img); err != nil {
		return err
	}

	start := time.Now()
	people := w.frame.pose.Len()

	var crops []crop
	var sides []keypoint.Side
	for i, person := range w.frame.pose.Instances {
		h := roi.Hands(person, w.model.Landmarks, roi.DefaultThreshold)
		for _, side := range []keypoint.Side{keypoint.Left, keypoint.Right} {
			if !h.Has(side) {
				continue
			}
			if ir, ok := cropRect(h.Rect(side)); ok {
				crops = append(crops, crop{person: i, rect: ir, mirror: side == keypoint.Left})
				sides = append(sides, side)
			}
		}
	}

	placed, err := w.runCrops(StageHands, img, crops, keypoint.HandParts, w.eng.RunHandNet)
	if err != nil {
		return err
	}

	var left, right []keypoint.Placement
	for i, p := range placed {
		if sides[i] == keypoint.Left {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	lt, err := keypoint.Align(people, keypoint.HandParts, left)
	if err != nil {
		return w.stageFailed(StageHands, err)
	}
	rt, err := keypoint.Align(people, keypoint.HandParts, right)
	if err != nil {
		return w.stageFailed(StageHands, err)
	}
	w.frame.left, w.frame.right = lt, rt
	w.sm.complete(StageHands)

	w.log.Debug("hands detected",
		zap.Stringer("frame", w.frame.id),
		zap.Int("crops", len(crops)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (w *Wrapper) precheck(s Stage, enabled bool, img gocv.Mat) error {
	if w.closed {
		return ErrClosed
	}
	if !enabled {
		return fmt.Errorf("%s detection: %w", s, ErrFeatureDisabled)
	}
	if err := w.sm.require(s); err != nil {
		return err
	}
	if !validImage(img) {
		return &InferenceError{Stage: s, Err: ErrInvalidImage}
	}
	return nil
}

// runCrops cuts the crops out of img, runs the network and maps each
// result back to input pixels. Placements are returned in crop order.
func (w *Wrapper) runCrops(s Stage, img gocv.Mat, crops []crop, parts int, run func([]gocv.Mat) ([][]float32, error)) ([]keypoint.Placement, error) {
	if len(crops) == 0 {
		return nil, nil
	}

	net := w.cfg.NetFaceHandsSize
	mats := make([]gocv.Mat, 0, len(crops))
	defer func() { closeAll(mats) }()
	for _, c := range crops {
		mats = append(mats, cropResize(img, c.rect, net, c.mirror))
	}

	results, err := run(mats)
	if err != nil {
		return nil, w.stageFailed(s, err)
	}
	if len(results) != len(crops) {
		return nil, w.stageFailed(s, fmt.Errorf("%w: %d results for %d crops", keypoint.ErrMalformedOutput, len(results), len(crops)))
	}

	placed := make([]keypoint.Placement, 0, len(crops))
	for i, res := range results {
		t, err := keypoint.FromFlat(res, parts)
		if err != nil {
			return nil, w.stageFailed(s, err)
		}
		if t.Len() != 1 {
			return nil, w.stageFailed(s, fmt.Errorf("%w: %d instances for one crop", keypoint.ErrMalformedOutput, t.Len()))
		}
		placed = append(placed, keypoint.Placement{
			Person:    crops[i].person,
			Keypoints: crops[i].toInput(t.Instances[0], net),
		})
	}
	return placed, nil
}

func (w *Wrapper) stageFailed(s Stage, err error) error {
	w.log.Warn("detection failed", zap.Stringer("stage", s), zap.Stringer("frame", w.frame.id), zap.Error(err))
	return &InferenceError{Stage: s, Err: err}
}

// Keypoints returns the keypoints of the current frame in output-resolution
// pixels: one tensor for Pose and Face, left then right tensors for Hand.
// Before pose detection the tensors are empty. Face and hand tensors hold
// one instance per person, with zero scores where nothing was detected.
func (w *Wrapper) Keypoints(t keypoint.Type) (keypoint.GroupSet, error) {
	if w.closed {
		return nil, ErrClosed
	}

	switch t {
	case keypoint.Pose:
		return keypoint.GroupSet{w.output(w.frame.pose, w.model.NumParts(), true)}, nil
	case keypoint.Face:
		if !w.cfg.WithFace {
			return nil, fmt.Errorf("face keypoints: %w", ErrFeatureDisabled)
		}
		return keypoint.GroupSet{w.output(w.frame.face, keypoint.FaceParts, w.sm.has(StageFace))}, nil
	case keypoint.Hand:
		if !w.cfg.WithHands {
			return nil, fmt.Errorf("hand keypoints: %w", ErrFeatureDisabled)
		}
		ran := w.sm.has(StageHands)
		return keypoint.GroupSet{
			w.output(w.frame.left, keypoint.HandParts, ran),
			w.output(w.frame.right, keypoint.HandParts, ran),
		}, nil
	}
	return nil, fmt.Errorf("unknown keypoint type %v", t)
}

// output converts a stored tensor to output resolution. A stage that has
// not run yields one zero-score instance per person.
func (w *Wrapper) output(t keypoint.Tensor, parts int, ran bool) keypoint.Tensor {
	if !w.sm.has(StagePose) {
		return keypoint.Tensor{Parts: parts, Instances: [][]keypoint.Keypoint{}}
	}
	if !ran {
		return keypoint.NewTensor(w.frame.pose.Len(), parts)
	}
	return w.rescale(t, w.cfg.OutputSize)
}

func (w *Wrapper) rescale(t keypoint.Tensor, to image.Point) keypoint.Tensor {
	sizes := scale.Sizes{Input: w.frame.inputSize, Output: to}
	return t.MapScored(func(kp keypoint.Keypoint) keypoint.Keypoint {
		kp.X, kp.Y = scale.ConvertPoint(kp.X, kp.Y, scale.InputResolution, scale.OutputResolution, sizes)
		return kp
	})
}

// Heatmaps returns a copy of the heatmap and PAF stack of the current frame
// at the output resolution, in the configured value range.
func (w *Wrapper) Heatmaps() (heatmap.Stack, error) {
	if w.closed {
		return heatmap.Stack{}, ErrClosed
	}
	if !w.cfg.DownloadHeatmaps {
		return heatmap.Stack{}, ErrHeatmapsDisabled
	}
	if !w.sm.has(StagePose) {
		return heatmap.Stack{}, fmt.Errorf("heatmaps: %w", ErrPrecedingStageMissing)
	}
	return w.frame.heatmaps.Clone(), nil
}

// Render draws the results of every stage that ran onto a copy of img,
// scaled to img's size. With no completed stage the copy is unmodified.
// The caller must close the returned Mat.
func (w *Wrapper) Render(img gocv.Mat) (gocv.Mat, error) {
	if w.closed {
		return gocv.NewMat(), ErrClosed
	}
	if !validImage(img) {
		return gocv.NewMat(), ErrInvalidImage
	}
	if !w.sm.has(StagePose) {
		return img.Clone(), nil
	}

	size := image.Pt(img.Cols(), img.Rows())
	layers := render.Layers{
		Model:      w.model,
		Pose:       w.rescale(w.frame.pose, size),
		Thresholds: render.DefaultThresholds,
	}
	if w.sm.has(StageFace) {
		layers.Face = w.rescale(w.frame.face, size)
	}
	if w.sm.has(StageHands) {
		layers.Hands = keypoint.GroupSet{w.rescale(w.frame.left, size), w.rescale(w.frame.right, size)}
	}
	return render.Render(img, layers), nil
}

// Close releases the engine. Further calls fail with ErrClosed.
func (w *Wrapper) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.sm.begin()
	w.frame = frame{}
	w.log.Debug("wrapper closed")
	return w.eng.Close()
}
