package app

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/capture"
	"github.com/ayusman/posewrap/internal/wrapper"
)

// LiveConfig configures the camera pipeline.
type LiveConfig struct {
	Source capture.Source
	// Gate suppresses inference while the scene is still. A nil gate runs
	// every frame at ActiveFPS.
	Gate   *capture.MotionGate
	Stages []wrapper.Stage
	Record bool
}

// Live reads frames from a source and runs them through a Session while the
// motion gate is active. The latest frame, rendered when it was processed,
// is kept JPEG encoded for streaming.
type Live struct {
	cfg     LiveConfig
	session *Session
	log     *zap.Logger

	mu      sync.RWMutex
	enabled bool
	stopCh  chan struct{}
	done    chan struct{}

	frameMu   sync.RWMutex
	latest    []byte
	seq       uint64
	processed uint64
	failures  uint64
}

// NewLive creates a pipeline. It does not open the source.
func NewLive(s *Session, cfg LiveConfig, log *zap.Logger) *Live {
	if log == nil {
		log = zap.NewNop()
	}
	return &Live{
		cfg:     cfg,
		session: s,
		log:     log,
		enabled: true,
	}
}

// SetEnabled pauses or resumes processing without closing the source.
func (l *Live) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// IsEnabled reports whether frames are processed.
func (l *Live) IsEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// Running reports whether the loop is active.
func (l *Live) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stopCh != nil
}

// Mode returns the gate mode, Active when there is no gate.
func (l *Live) Mode() capture.Mode {
	if l.cfg.Gate == nil {
		return capture.Active
	}
	return l.cfg.Gate.Mode()
}

// Start opens the source and starts the loop.
func (l *Live) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopCh != nil {
		return nil
	}
	if err := l.cfg.Source.Open(); err != nil {
		return err
	}

	fps := capture.IdleFPS
	if l.cfg.Gate == nil {
		fps = capture.ActiveFPS
	}
	l.cfg.Source.SetFPS(fps)

	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stopCh, l.done, fps)

	l.log.Info("live pipeline started", zap.Int("fps", fps))
	return nil
}

// Stop halts the loop and closes the source. The session stays open.
func (l *Live) Stop() {
	l.mu.Lock()
	stopCh, done := l.stopCh, l.done
	l.stopCh, l.done = nil, nil
	l.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done

	if err := l.cfg.Source.Close(); err != nil {
		l.log.Warn("error closing source", zap.Error(err))
	}
	if l.cfg.Gate != nil {
		l.cfg.Gate.Reset()
	}
	l.log.Info("live pipeline stopped")
}

// Done returns a channel closed when the loop exits, or nil when stopped.
func (l *Live) Done() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.done
}

func (l *Live) run(stopCh <-chan struct{}, done chan<- struct{}, fps int) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !l.IsEnabled() {
				continue
			}
			next, err := l.step(time.Now())
			if errors.Is(err, capture.ErrEndOfStream) {
				l.log.Info("source exhausted")
				return
			}
			if next > 0 && next != fps {
				fps = next
				l.cfg.Source.SetFPS(fps)
				ticker.Reset(time.Second / time.Duration(fps))
			}
		}
	}
}

// step processes one frame. It returns the rate the loop should run at
// next, or 0 to keep the current one.
func (l *Live) step(now time.Time) (int, error) {
	frame, err := l.cfg.Source.ReadFrame()
	if err != nil {
		if !errors.Is(err, capture.ErrEndOfStream) {
			l.log.Warn("error reading frame", zap.Error(err))
		}
		return 0, err
	}
	defer frame.Close()

	next := 0
	active := true
	if l.cfg.Gate != nil {
		obs := l.cfg.Gate.Observe(frame, now)
		active = obs.Mode == capture.Active
		if obs.Switched {
			if active {
				next = capture.ActiveFPS
			} else {
				next = capture.IdleFPS
			}
			l.log.Info("switched mode", zap.Stringer("mode", obs.Mode), zap.Float64("change", obs.Change))
		}
	}

	if !active {
		l.publish(*frame)
		return next, nil
	}

	res, err := l.session.Detect(*frame, DetectOptions{
		Stages: l.cfg.Stages,
		Source: "camera",
		Record: l.cfg.Record,
		Render: true,
	})
	if err != nil {
		l.frameMu.Lock()
		l.failures++
		l.frameMu.Unlock()
		l.log.Warn("detection failed", zap.Error(err))
		l.publish(*frame)
		return next, err
	}
	defer res.Close()

	l.frameMu.Lock()
	l.processed++
	l.frameMu.Unlock()
	l.publish(*res.Rendered)
	return next, nil
}

func (l *Live) publish(img gocv.Mat) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		l.log.Debug("jpeg encode failed", zap.Error(err))
		return
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	l.frameMu.Lock()
	l.latest = data
	l.seq++
	l.frameMu.Unlock()
}

// Latest returns the most recent JPEG frame and its sequence number. The
// sequence is 0 before the first frame.
func (l *Live) Latest() ([]byte, uint64) {
	l.frameMu.RLock()
	defer l.frameMu.RUnlock()
	return l.latest, l.seq
}

// Stats reports how many frames were detected and how many failed.
func (l *Live) Stats() (processed, failures uint64) {
	l.frameMu.RLock()
	defer l.frameMu.RUnlock()
	return l.processed, l.failures
}
