// Package capture provides frame sources for the pose pipeline: cameras via
// GoCV (OpenCV), image files on disk and scripted frames for tests.
package capture

import (
	"errors"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 5
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrNotOpen is returned when reading from a source that is not open.
	ErrNotOpen = errors.New("source is not open")
	// ErrEndOfStream is returned when a finite source has no more frames.
	ErrEndOfStream = errors.New("end of stream")
)

// Source produces BGR frames. The caller must close every frame it reads.
type Source interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// CameraOptions selects a capture device and its mode.
type CameraOptions struct {
	Device int
	Size   image.Point
	FPS    int
}

// camera manages video capture from a camera device using GoCV.
type camera struct {
	opts    CameraOptions
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
}

// NewCamera creates a camera Source. Zero options fall back to 640x480 at
// DefaultFPS.
func NewCamera(opts CameraOptions) Source {
	if opts.Size.X <= 0 || opts.Size.Y <= 0 {
		opts.Size = image.Pt(DefaultWidth, DefaultHeight)
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	return &camera{opts: opts, fps: opts.FPS}
}

// Open opens the device and requests the configured resolution.
func (c *camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.opts.Device)
	if err != nil {
		return err
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Size.X))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Size.Y))
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
func (c *camera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// SetFPS sets the capture rate. Values less than or equal to 0 are ignored.
func (c *camera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current capture rate.
func (c *camera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open.
func (c *camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
