// Package app ties a pose wrapper to its callers: a Session serializes
// access to one wrapper, records snapshots and fans results out to
// subscribers; Live drives a Session from a camera behind a motion gate.
package app

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/heatmap"
	"github.com/ayusman/posewrap/internal/keypoint"
	"github.com/ayusman/posewrap/internal/store"
	"github.com/ayusman/posewrap/internal/wrapper"
)

// ErrSessionClosed is returned by Detect after Close.
var ErrSessionClosed = errors.New("session closed")

// subscriberBuffer is the per-subscriber queue; results are dropped for
// subscribers that fall this far behind.
const subscriberBuffer = 8

// DetectOptions selects what a Detect call does beyond the pose stage.
type DetectOptions struct {
	// Stages are the optional stages to run after pose, in order.
	Stages []wrapper.Stage
	// Source labels the frame in the store.
	Source string
	Record bool
	Render bool
}

// Result is the outcome of one Detect call. Keypoints are in the wrapper's
// output resolution.
type Result struct {
	ID        string            `json:"id"`
	Source    string            `json:"source,omitempty"`
	State     wrapper.State     `json:"state"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	People    int               `json:"people"`
	Pose      keypoint.GroupSet `json:"pose"`
	Face      keypoint.GroupSet `json:"face,omitempty"`
	Hands     keypoint.GroupSet `json:"hands,omitempty"`
	Recorded  bool              `json:"recorded"`
	ElapsedMS int64             `json:"elapsed_ms"`
	Timestamp int64             `json:"timestamp"`

	// Rendered is set when DetectOptions.Render was requested. The caller
	// must close it.
	Rendered *gocv.Mat `json:"-"`
}

// Close releases the rendered image, if any.
func (r *Result) Close() {
	if r.Rendered != nil {
		r.Rendered.Close()
		r.Rendered = nil
	}
}

// Session owns one wrapper and serializes every call into it.
type Session struct {
	mu     sync.Mutex
	w      *wrapper.Wrapper
	store  *store.Store
	log    *zap.Logger
	closed bool

	subMu  sync.Mutex
	subs   map[int]chan *Result
	nextID int
}

// NewSession wraps w. st may be nil, in which case Record is ignored.
func NewSession(w *wrapper.Wrapper, st *store.Store, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		w:     w,
		store: st,
		log:   log,
		subs:  make(map[int]chan *Result),
	}
}

// Config returns the wrapper configuration.
func (s *Session) Config() wrapper.Config {
	return s.w.Config()
}

// Store returns the snapshot store, or nil.
func (s *Session) Store() *store.Store {
	return s.store
}

// DefaultStages returns the optional stages enabled in the wrapper config.
func (s *Session) DefaultStages() []wrapper.Stage {
	cfg := s.w.Config()
	var stages []wrapper.Stage
	if cfg.WithFace {
		stages = append(stages, wrapper.StageFace)
	}
	if cfg.WithHands {
		stages = append(stages, wrapper.StageHands)
	}
	return stages
}

// Detect runs pose and then opts.Stages on img and collects the keypoints of
// every stage that ran. A failing optional stage fails the call; the
// already completed stages are not recorded.
func (s *Session) Detect(img gocv.Mat, opts DetectOptions) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	start := time.Now()
	if err := s.w.DetectPose(img); err != nil {
		return nil, err
	}

	ran := []wrapper.Stage{wrapper.StagePose}
	for _, st := range opts.Stages {
		var err error
		switch st {
		case wrapper.StagePose:
			continue
		case wrapper.StageFace:
			err = s.w.DetectFace(img)
		case wrapper.StageHands:
			err = s.w.DetectHands(img)
		default:
			err = fmt.Errorf("unknown stage %v", st)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st, err)
		}
		ran = append(ran, st)
	}

	res, err := s.collect(ran)
	if err != nil {
		return nil, err
	}
	res.Source = opts.Source
	res.ElapsedMS = time.Since(start).Milliseconds()

	if opts.Render {
		out, err := s.w.Render(img)
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		res.Rendered = &out
	}

	if opts.Record && s.store != nil {
		if err := s.record(res, ran); err != nil {
			res.Close()
			return nil, fmt.Errorf("record frame: %w", err)
		}
		res.Recorded = true
	}

	s.log.Debug("frame processed",
		zap.String("frame", res.ID),
		zap.String("state", res.State.String()),
		zap.Int("people", res.People),
		zap.Int64("elapsed_ms", res.ElapsedMS))

	s.publish(res)
	return res, nil
}

func (s *Session) collect(ran []wrapper.Stage) (*Result, error) {
	info := s.w.Frame()
	res := &Result{
		ID:        info.ID.String(),
		State:     info.State,
		Width:     info.InputSize.X,
		Height:    info.InputSize.Y,
		People:    info.People,
		Timestamp: time.Now().UnixMilli(),
	}

	for _, st := range ran {
		var t keypoint.Type
		switch st {
		case wrapper.StagePose:
			t = keypoint.Pose
		case wrapper.StageFace:
			t = keypoint.Face
		case wrapper.StageHands:
			t = keypoint.Hand
		}
		set, err := s.w.Keypoints(t)
		if err != nil {
			return nil, fmt.Errorf("keypoints %s: %w", t, err)
		}
		switch t {
		case keypoint.Pose:
			res.Pose = set
		case keypoint.Face:
			res.Face = set
		case keypoint.Hand:
			res.Hands = set
		}
	}
	return res, nil
}

func (s *Session) record(res *Result, ran []wrapper.Stage) error {
	cfg := s.w.Config()
	stages := make([]string, len(ran))
	kps := make(map[keypoint.Type]keypoint.GroupSet, len(ran))
	for i, st := range ran {
		stages[i] = st.String()
	}
	kps[keypoint.Pose] = res.Pose
	if res.Face != nil {
		kps[keypoint.Face] = res.Face
	}
	if res.Hands != nil {
		kps[keypoint.Hand] = res.Hands
	}

	return s.store.Frames().Create(&store.Snapshot{
		Frame: store.Frame{
			ID:           res.ID,
			Source:       res.Source,
			Model:        s.w.Model().Name,
			Width:        res.Width,
			Height:       res.Height,
			OutputWidth:  cfg.OutputSize.X,
			OutputHeight: cfg.OutputSize.Y,
			Stages:       stages,
			People:       res.People,
		},
		Keypoints: kps,
	})
}

// Render draws the current frame's keypoints onto img.
func (s *Session) Render(img gocv.Mat) (gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gocv.NewMat(), ErrSessionClosed
	}
	return s.w.Render(img)
}

// Heatmaps returns a copy of the current frame's heatmap stack.
func (s *Session) Heatmaps() (heatmap.Stack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return heatmap.Stack{}, ErrSessionClosed
	}
	return s.w.Heatmaps()
}

// OutputSize returns the coordinate space of Result keypoints.
func (s *Session) OutputSize() image.Point {
	return s.w.Config().OutputSize
}

// Subscribe returns a channel receiving every successful Result and a
// function that ends the subscription. Published results never carry the
// rendered image.
func (s *Session) Subscribe() (<-chan *Result, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan *Result, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Session) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *Session) publish(res *Result) {
	cp := *res
	cp.Rendered = nil

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- &cp:
		default:
			s.log.Debug("subscriber lagging, dropping result", zap.Int("subscriber", id))
		}
	}
}

// Close closes the wrapper and ends all subscriptions. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()

	return s.w.Close()
}
