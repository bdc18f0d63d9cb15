// Package config loads the posewrap YAML configuration file.
package config

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/posewrap/internal/engine"
	"github.com/ayusman/posewrap/internal/keypoint"
	"github.com/ayusman/posewrap/internal/logger"
	"github.com/ayusman/posewrap/internal/scale"
	"github.com/ayusman/posewrap/internal/wrapper"
)

// Size is a width x height pair written as "320x240".
type Size image.Point

// ParseSize parses "WxH".
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("size %q: want WIDTHxHEIGHT", s)
	}
	x, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: width: %w", s, err)
	}
	y, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: height: %w", s, err)
	}
	return Size{X: x, Y: y}, nil
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.X, s.Y)
}

// Point returns s as an image.Point.
func (s Size) Point() image.Point {
	return image.Point(s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseSize(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Config is the on-disk configuration.
type Config struct {
	Model            string `yaml:"model"`
	ModelFolder      string `yaml:"model_folder"`
	NetPoseSize      Size   `yaml:"net_pose_size"`
	NetFaceHandsSize Size   `yaml:"net_face_hands_size"`
	OutputSize       Size   `yaml:"output_size"`
	LogLevel         int    `yaml:"log_level"`
	LogJSON          bool   `yaml:"log_json"`
	DownloadHeatmaps bool   `yaml:"download_heatmaps"`
	HeatmapScale     string `yaml:"heatmap_scale"`
	Face             bool   `yaml:"face"`
	Hands            bool   `yaml:"hands"`

	Engine EngineConfig `yaml:"engine"`
	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`
	Camera CameraConfig `yaml:"camera"`
}

// EngineConfig selects the inference service.
type EngineConfig struct {
	// Kind is "process" or "mock".
	Kind        string        `yaml:"kind"`
	Command     []string      `yaml:"command"`
	Env         []string      `yaml:"env"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// StoreConfig locates the snapshot database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// CameraConfig configures the live pipeline.
type CameraConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Device          int      `yaml:"device"`
	FPS             int      `yaml:"fps"`
	MotionThreshold float64  `yaml:"motion_threshold"`
	Stages          []string `yaml:"stages"`
	Record          bool     `yaml:"record"`
}

// Default returns the stock configuration.
func Default() Config {
	d := wrapper.DefaultConfig()
	return Config{
		Model:            d.ModelName,
		ModelFolder:      d.ModelFolder,
		NetPoseSize:      Size(d.NetPoseSize),
		NetFaceHandsSize: Size(d.NetFaceHandsSize),
		OutputSize:       Size(d.OutputSize),
		LogLevel:         d.LogLevel,
		DownloadHeatmaps: d.DownloadHeatmaps,
		HeatmapScale:     d.HeatmapRange.String(),
		Face:             d.WithFace,
		Hands:            d.WithHands,
		Engine: EngineConfig{
			Kind:        "process",
			StopTimeout: 5 * time.Second,
		},
		Store:  StoreConfig{Path: "posewrap.db"},
		Server: ServerConfig{Addr: ":8080"},
		Camera: CameraConfig{
			Device:          0,
			FPS:             5,
			MotionThreshold: 1.0,
			Stages:          []string{"face", "hands"},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if _, _, err := logger.Level(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Wrapper converts the file settings into a wrapper configuration. The
// heatmap scale must name a value range.
func (c Config) Wrapper() (wrapper.Config, error) {
	mode, err := scale.ParseMode(c.HeatmapScale)
	if err != nil {
		return wrapper.Config{}, &wrapper.ConfigError{Field: "heatmap_scale", Err: err}
	}
	vr, err := mode.ValueRange()
	if err != nil {
		return wrapper.Config{}, &wrapper.ConfigError{Field: "heatmap_scale", Err: err}
	}

	return wrapper.Config{
		NetPoseSize:      c.NetPoseSize.Point(),
		NetFaceHandsSize: c.NetFaceHandsSize.Point(),
		OutputSize:       c.OutputSize.Point(),
		ModelName:        c.Model,
		ModelFolder:      c.ModelFolder,
		LogLevel:         c.LogLevel,
		DownloadHeatmaps: c.DownloadHeatmaps,
		HeatmapRange:     vr,
		WithFace:         c.Face,
		WithHands:        c.Hands,
	}, nil
}

// Opener returns the engine allocation function the configuration selects.
func (c Config) Opener() (engine.OpenFunc, error) {
	switch strings.ToLower(c.Engine.Kind) {
	case "", "process":
		return engine.OpenProcess(engine.ProcessConfig{
			Command:     c.Engine.Command,
			Env:         c.Engine.Env,
			StopTimeout: c.Engine.StopTimeout,
		}), nil
	case "mock":
		// demo engine: one standing figure with open hands
		m := engine.NewMockEngine()
		if model, err := keypoint.LookupModel(c.Model); err == nil {
			grid := image.Pt(max(1, c.NetPoseSize.X/8), max(1, c.NetPoseSize.Y/8))
			m.SetPose(engine.StandingFigure(model, grid, 0))
		}
		m.SetFace(engine.FaceGrid(c.NetFaceHandsSize.Point()))
		m.SetHand(engine.OpenHand(c.NetFaceHandsSize.Point()))
		return m.Open(), nil
	}
	return nil, fmt.Errorf("unknown engine kind %q", c.Engine.Kind)
}
