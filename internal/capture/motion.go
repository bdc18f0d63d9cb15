package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Frame differencing parameters.
const (
	// BlurSize is the Gaussian kernel applied before differencing.
	BlurSize = 21
	// DiffThreshold is the per-pixel intensity change counted as motion.
	DiffThreshold = 25
)

// Gate timing defaults.
const (
	IdleFPS     = 5
	ActiveFPS   = 15
	IdleTimeout = 2 * time.Second
)

// Mode is the gate state.
type Mode int

const (
	Idle Mode = iota
	Active
)

func (m Mode) String() string {
	if m == Active {
		return "active"
	}
	return "idle"
}

// Observation is the result of feeding one frame to a MotionGate.
type Observation struct {
	// Change is the percentage of pixels that changed since the last frame.
	Change float64
	Motion bool
	Mode   Mode
	// Switched reports that Mode changed on this frame.
	Switched bool
}

// MotionGate thresholds frame differences and holds the Active mode until no
// motion has been seen for the idle timeout. The pipeline only runs inference
// while the gate is Active.
type MotionGate struct {
	threshold  float64
	timeout    time.Duration
	prev       gocv.Mat
	hasPrev    bool
	mode       Mode
	lastMotion time.Time
	mu         sync.Mutex
}

// NewMotionGate creates a gate. threshold is the percentage of pixels that
// must change, timeout is how long Active survives without motion. Non
// positive values select 1% and IdleTimeout.
func NewMotionGate(threshold float64, timeout time.Duration) *MotionGate {
	if threshold <= 0 {
		threshold = 1.0
	}
	if timeout <= 0 {
		timeout = IdleTimeout
	}
	return &MotionGate{
		threshold: threshold,
		timeout:   timeout,
		prev:      gocv.NewMat(),
	}
}

// Observe compares frame with the previous one at time now. The first frame
// only sets the baseline.
func (g *MotionGate) Observe(frame *gocv.Mat, now time.Time) Observation {
	g.mu.Lock()
	defer g.mu.Unlock()

	obs := Observation{Mode: g.mode}
	if frame == nil || frame.Empty() {
		return obs
	}

	obs.Change = g.diff(frame)
	obs.Motion = obs.Change > g.threshold

	switch {
	case obs.Motion:
		g.lastMotion = now
		if g.mode == Idle {
			g.mode = Active
			obs.Switched = true
		}
	case g.mode == Active && now.Sub(g.lastMotion) > g.timeout:
		g.mode = Idle
		obs.Switched = true
	}

	obs.Mode = g.mode
	return obs
}

// diff returns the changed pixel percentage against the stored baseline and
// replaces the baseline with frame.
func (g *MotionGate) diff(frame *gocv.Mat) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Pt(BlurSize, BlurSize), 0, 0, gocv.BorderDefault)

	if !g.hasPrev || g.prev.Rows() != blurred.Rows() || g.prev.Cols() != blurred.Cols() {
		g.swap(blurred)
		return 0
	}

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(blurred, g.prev, &delta)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(delta, &mask, DiffThreshold, 255, gocv.ThresholdBinary)

	total := mask.Rows() * mask.Cols()
	changed := float64(gocv.CountNonZero(mask)) / float64(total) * 100.0

	g.swap(blurred)
	return changed
}

func (g *MotionGate) swap(next gocv.Mat) {
	g.prev.Close()
	g.prev = next
	g.hasPrev = true
}

// Mode returns the current mode.
func (g *MotionGate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// Threshold returns the motion threshold in percent.
func (g *MotionGate) Threshold() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.threshold
}

// SetThreshold changes the motion threshold. Values <= 0 are ignored.
func (g *MotionGate) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threshold = threshold
}

// Reset drops the baseline and returns to Idle.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prev.Close()
	g.prev = gocv.NewMat()
	g.hasPrev = false
	g.mode = Idle
}

// Close releases the baseline frame.
func (g *MotionGate) Close() {
	g.Reset()
}
