package engine

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/heatmap"
	"github.com/ayusman/posewrap/internal/keypoint"
)

// MockEngine is a test implementation of the Engine interface.
// It allows tests to control the per-stage results and failures.
type MockEngine struct {
	mu sync.Mutex

	opts     Options
	caps     *Capabilities
	pose     PoseOutput
	face     []float32
	hand     []float32
	heatmaps *heatmap.Raw
	errs     map[string]error
	openErr  error
	closed   bool

	opens      int
	poseCalls  int
	faceCalls  int
	handCalls  int
	fetchCalls int
	closeCalls int
	lastInput  image.Point
	lastCrops  []image.Point
}

// Stage names accepted by SetError.
const (
	StagePose     = "pose"
	StageFace     = "face"
	StageHands    = "hands"
	StageHeatmaps = "heatmaps"
)

// NewMockEngine creates a MockEngine that detects nobody.
func NewMockEngine() *MockEngine {
	return &MockEngine{errs: make(map[string]error)}
}

// Open returns an OpenFunc that hands out this mock and records the options.
func (m *MockEngine) Open() OpenFunc {
	return func(opts Options) (Engine, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.opens++
		if m.openErr != nil {
			return nil, m.openErr
		}
		m.opts = opts
		m.closed = false
		return m, nil
	}
}

// SetOpenError makes the OpenFunc fail.
func (m *MockEngine) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetCapabilities overrides the capabilities derived from the open options.
func (m *MockEngine) SetCapabilities(c Capabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps = &c
}

// SetPose sets the output returned by RunPoseNet.
func (m *MockEngine) SetPose(out PoseOutput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pose = out
}

// SetFace sets the flat keypoints returned for every face crop.
func (m *MockEngine) SetFace(points []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.face = points
}

// SetHand sets the flat keypoints returned for every hand crop.
func (m *MockEngine) SetHand(points []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hand = points
}

// SetHeatmaps sets the stack returned by FetchHeatmaps. When unset a
// deterministic stack is generated from the open options.
func (m *MockEngine) SetHeatmaps(raw heatmap.Raw) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heatmaps = &raw
}

// SetError makes the named stage fail with err. A nil err clears it.
func (m *MockEngine) SetError(stage string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, stage)
		return
	}
	m.errs[stage] = err
}

// RunPoseNet returns the configured pose output.
func (m *MockEngine) RunPoseNet(input gocv.Mat) (PoseOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return PoseOutput{}, ErrClosed
	}
	m.poseCalls++
	m.lastInput = image.Point{X: input.Cols(), Y: input.Rows()}
	if err := m.errs[StagePose]; err != nil {
		return PoseOutput{}, err
	}
	out := m.pose
	out.Keypoints = append([]float32(nil), m.pose.Keypoints...)
	if out.NetOutputSize == (image.Point{}) {
		out.NetOutputSize = m.lastInput
	}
	return out, nil
}

// RunFaceNet returns the configured face keypoints once per crop.
func (m *MockEngine) RunFaceNet(crops []gocv.Mat) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.faceCalls++
	m.recordCrops(crops)
	if err := m.errs[StageFace]; err != nil {
		return nil, err
	}
	return m.repeat(m.face, keypoint.FaceParts, len(crops)), nil
}

// RunHandNet returns the configured hand keypoints once per crop.
func (m *MockEngine) RunHandNet(crops []gocv.Mat) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.handCalls++
	m.recordCrops(crops)
	if err := m.errs[StageHands]; err != nil {
		return nil, err
	}
	return m.repeat(m.hand, keypoint.HandParts, len(crops)), nil
}

// FetchHeatmaps returns the configured or generated heatmap stack.
func (m *MockEngine) FetchHeatmaps() (heatmap.Raw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return heatmap.Raw{}, ErrClosed
	}
	m.fetchCalls++
	if err := m.errs[StageHeatmaps]; err != nil {
		return heatmap.Raw{}, err
	}
	if m.heatmaps != nil {
		raw := *m.heatmaps
		raw.Data = append([]float32(nil), m.heatmaps.Data...)
		return raw, nil
	}
	size := m.pose.NetOutputSize
	if size == (image.Point{}) {
		size = m.lastInput
	}
	return GenerateHeatmaps(size.X, size.Y, m.opts.HeatmapLayout()), nil
}

// Capabilities reports the stages enabled at open time.
func (m *MockEngine) Capabilities() Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.caps != nil {
		return *m.caps
	}
	return Capabilities{
		Model:    m.opts.Model.Name,
		Face:     m.opts.WithFace,
		Hands:    m.opts.WithHands,
		Heatmaps: m.opts.DownloadHeatmaps,
	}
}

// Close marks the mock closed.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	m.closed = true
	return nil
}

// Calls returns the number of pose, face, hand and heatmap calls made.
func (m *MockEngine) Calls() (pose, face, hands, heatmaps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poseCalls, m.faceCalls, m.handCalls, m.fetchCalls
}

// Opens returns how many times the OpenFunc was invoked.
func (m *MockEngine) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Closed reports whether Close has been called since the last open.
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CloseCalls returns the number of Close calls.
func (m *MockEngine) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// LastInputSize returns the size of the last image passed to RunPoseNet.
func (m *MockEngine) LastInputSize() image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInput
}

// LastCropSizes returns the sizes of the crops passed to the last face or hand call.
func (m *MockEngine) LastCropSizes() []image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]image.Point(nil), m.lastCrops...)
}

// Options returns the options passed to the last open.
func (m *MockEngine) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

func (m *MockEngine) recordCrops(crops []gocv.Mat) {
	m.lastCrops = m.lastCrops[:0]
	for _, c := range crops {
		m.lastCrops = append(m.lastCrops, image.Point{X: c.Cols(), Y: c.Rows()})
	}
}

// repeat returns points for each of n crops; an unset result is all zeros.
func (m *MockEngine) repeat(points []float32, parts, n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		if points == nil {
			out[i] = make([]float32, parts*3)
			continue
		}
		out[i] = append([]float32(nil), points...)
	}
	return out
}

// GenerateHeatmaps builds a deterministic stack with heatmap channels in
// [0, 1] and PAF channels in [-1, 1].
func GenerateHeatmaps(w, h int, layout heatmap.Layout) heatmap.Raw {
	n := w * h
	data := make([]float32, n*layout.Channels())
	for c := 0; c < layout.Channels(); c++ {
		for i := 0; i < n; i++ {
			v := float32((i+c)%11) / 10
			if layout.IsPAF(c) {
				v = v*2 - 1
			}
			data[c*n+i] = v
		}
	}
	return heatmap.Raw{Width: w, Height: h, Layout: layout, Data: data}
}
