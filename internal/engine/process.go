package engine

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/heatmap"
)

// ErrService is returned when the inference service reports a failure.
var ErrService = errors.New("inference service error")

// ServiceScript is the file name of the default inference service.
const ServiceScript = "openpose_service.py"

// ProcessConfig selects the inference service executable.
type ProcessConfig struct {
	// Command is the service argv. When empty, a Python interpreter and
	// ServiceScript are located on disk.
	Command []string
	// Env is appended to the current environment.
	Env []string
	// StopTimeout bounds how long Close waits before killing the process.
	StopTimeout time.Duration
}

// ProcessEngine implements Engine by driving an external inference service
// over its stdin and stdout.
type ProcessEngine struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	mu      sync.Mutex
	caps    Capabilities
	closed  bool
	timeout time.Duration
	log     *zap.Logger
}

// OpenProcess returns an OpenFunc that starts the service and initializes
// its networks. The process is started eagerly and stays up until Close.
func OpenProcess(cfg ProcessConfig) OpenFunc {
	return func(opts Options) (Engine, error) {
		return startProcess(cfg, opts)
	}
}

func startProcess(cfg ProcessConfig, opts Options) (*ProcessEngine, error) {
	argv := cfg.Command
	if len(argv) == 0 {
		scriptPath := findServiceScript(opts.ModelFolder)
		if scriptPath == "" {
			return nil, fmt.Errorf("%s not found", ServiceScript)
		}
		pythonPath := findVenvPython()
		if pythonPath == "" {
			pythonPath = "python3"
		}
		argv = []string{pythonPath, scriptPath}
	}

	timeout := cfg.StopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	log := opts.logger().With(zap.String("engine", "process"))
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	// Service diagnostics go straight to our stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start inference service: %w", err)
	}

	e := &ProcessEngine{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		timeout: timeout,
		log:     log,
	}

	init := &initParams{
		Model:            opts.Model.Name,
		ModelFolder:      opts.ModelFolder,
		NetPoseWidth:     opts.NetPoseSize.X,
		NetPoseHeight:    opts.NetPoseSize.Y,
		NetFaceHandsSize: [2]int{opts.NetFaceHandsSize.X, opts.NetFaceHandsSize.Y},
		WithFace:         opts.WithFace,
		WithHands:        opts.WithHands,
		DownloadHeatmaps: opts.DownloadHeatmaps,
	}

	resp, err := e.call(request{Op: opInit, Init: init}, nil)
	if err != nil {
		e.shutdown()
		return nil, fmt.Errorf("initialize inference service: %w", err)
	}
	if resp.Capabilities != nil {
		e.caps = *resp.Capabilities
	} else {
		e.caps = Capabilities{
			Model:    opts.Model.Name,
			Face:     opts.WithFace,
			Hands:    opts.WithHands,
			Heatmaps: opts.DownloadHeatmaps,
		}
	}

	log.Info("inference service started",
		zap.Strings("argv", argv),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("model", e.caps.Model))

	return e, nil
}

// call sends one request and waits for its response.
func (e *ProcessEngine) call(req request, images []gocv.Mat) (response, error) {
	encoded := make([][]byte, 0, len(images))
	for _, img := range images {
		buf, err := gocv.IMEncode(".png", img)
		if err != nil {
			return response{}, fmt.Errorf("encode image: %w", err)
		}
		encoded = append(encoded, append([]byte(nil), buf.GetBytes()...))
		buf.Close()
	}

	if err := writeRequest(e.stdin, req, encoded); err != nil {
		return response{}, err
	}

	resp, err := readResponse(e.stdout)
	if err != nil {
		return response{}, err
	}
	if !resp.OK {
		return resp, fmt.Errorf("%w: %s: %s", ErrService, req.Op, resp.Error)
	}
	return resp, nil
}

func (e *ProcessEngine) run(op string, images []gocv.Mat) (response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return response{}, ErrClosed
	}
	start := time.Now()
	resp, err := e.call(request{Op: op}, images)
	e.log.Debug("service call", zap.String("op", op), zap.Int("images", len(images)),
		zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	return resp, err
}

// RunPoseNet sends the resized image to the body network.
func (e *ProcessEngine) RunPoseNet(input gocv.Mat) (PoseOutput, error) {
	resp, err := e.run(opPose, []gocv.Mat{input})
	if err != nil {
		return PoseOutput{}, err
	}
	return PoseOutput{
		Keypoints:     resp.Keypoints,
		NetOutputSize: image.Point{X: resp.NetWidth, Y: resp.NetHeight},
	}, nil
}

// RunFaceNet sends the face crops to the face network.
func (e *ProcessEngine) RunFaceNet(crops []gocv.Mat) ([][]float32, error) {
	return e.runCrops(opFace, e.caps.Face, crops)
}

// RunHandNet sends the hand crops to the hand network.
func (e *ProcessEngine) RunHandNet(crops []gocv.Mat) ([][]float32, error) {
	return e.runCrops(opHands, e.caps.Hands, crops)
}

func (e *ProcessEngine) runCrops(op string, supported bool, crops []gocv.Mat) ([][]float32, error) {
	if !supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, op)
	}
	if len(crops) == 0 {
		return nil, nil
	}
	resp, err := e.run(op, crops)
	if err != nil {
		return nil, err
	}
	if len(resp.Crops) != len(crops) {
		return nil, fmt.Errorf("%w: %s returned %d results for %d crops", ErrService, op, len(resp.Crops), len(crops))
	}
	return resp.Crops, nil
}

// FetchHeatmaps downloads the heatmap stack of the last pose pass.
func (e *ProcessEngine) FetchHeatmaps() (heatmap.Raw, error) {
	if !e.caps.Heatmaps {
		return heatmap.Raw{}, fmt.Errorf("%w: %s", ErrUnsupported, opHeatmaps)
	}
	resp, err := e.run(opHeatmaps, nil)
	if err != nil {
		return heatmap.Raw{}, err
	}
	if resp.Heatmap == nil {
		return heatmap.Raw{}, fmt.Errorf("%w: empty heatmap response", ErrService)
	}

	data, err := decodeFloats(resp.Heatmap.Data)
	if err != nil {
		return heatmap.Raw{}, fmt.Errorf("%w: %v", ErrService, err)
	}
	return heatmap.Raw{
		Width:  resp.Heatmap.Width,
		Height: resp.Heatmap.Height,
		Layout: heatmap.Layout{
			BodyParts:  resp.Heatmap.BodyParts,
			Background: resp.Heatmap.Background,
			PAFs:       resp.Heatmap.PAFs,
		},
		Data: data,
	}, nil
}

// Capabilities reports what the service acknowledged at init.
func (e *ProcessEngine) Capabilities() Capabilities {
	return e.caps
}

// Close shuts down the service process.
func (e *ProcessEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown()
}

func (e *ProcessEngine) shutdown() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if e.stdin != nil {
		e.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(e.timeout):
		e.log.Warn("inference service did not exit, killing", zap.Duration("timeout", e.timeout))
		e.cmd.Process.Kill()
		err = <-done
	}

	e.stdin = nil
	e.stdout = nil
	return err
}

func findServiceScript(modelFolder string) string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ServiceScript),
		filepath.Join("..", "scripts", ServiceScript),
		filepath.Join(execDir, "scripts", ServiceScript),
		filepath.Join(os.Getenv("HOME"), ".posewrap", "scripts", ServiceScript),
	}
	if modelFolder != "" {
		candidates = append(candidates, filepath.Join(modelFolder, "..", "scripts", ServiceScript))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment
// next to the working directory or the executable.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".posewrap/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
