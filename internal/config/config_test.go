package config

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/posewrap/internal/scale"
	"github.com/ayusman/posewrap/internal/wrapper"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posewrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    Size
		wantErr bool
	}{
		{"320x240", Size{320, 240}, false},
		{" 128X128 ", Size{128, 128}, false},
		{"-1x5", Size{-1, 5}, false},
		{"320", Size{}, true},
		{"axb", Size{}, true},
		{"10x", Size{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestDefault_MatchesWrapper(t *testing.T) {
	wcfg, err := Default().Wrapper()
	require.NoError(t, err)
	assert.Equal(t, wrapper.DefaultConfig(), wcfg)
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
model: BODY_25
model_folder: /opt/openpose/models
net_pose_size: 656x368
output_size: 1280x720
log_level: 2
log_json: true
download_heatmaps: true
heatmap_scale: PlusMinusOne
hands: false
engine:
  command: [python3, service.py]
  stop_timeout: 2s
server:
  addr: 127.0.0.1:9000
camera:
  enabled: true
  stages: [hands]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "BODY_25", cfg.Model)
	assert.Equal(t, Size{656, 368}, cfg.NetPoseSize)
	assert.Equal(t, Size{128, 128}, cfg.NetFaceHandsSize, "default kept")
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, []string{"python3", "service.py"}, cfg.Engine.Command)
	assert.Equal(t, 2*time.Second, cfg.Engine.StopTimeout)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.True(t, cfg.Camera.Enabled)
	assert.Equal(t, []string{"hands"}, cfg.Camera.Stages)
	assert.Equal(t, 5, cfg.Camera.FPS)

	wcfg, err := cfg.Wrapper()
	require.NoError(t, err)
	assert.Equal(t, image.Pt(1280, 720), wcfg.OutputSize)
	assert.Equal(t, scale.PlusMinusOne, wcfg.HeatmapRange)
	assert.True(t, wcfg.WithFace)
	assert.False(t, wcfg.WithHands)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad size", func(t *testing.T) {
		_, err := Load(writeFile(t, "output_size: big\n"))
		assert.Error(t, err)
	})

	t.Run("bad log level", func(t *testing.T) {
		_, err := Load(writeFile(t, "log_level: 1000\n"))
		assert.Error(t, err)
	})

	t.Run("empty path", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}

func TestWrapper_HeatmapScale(t *testing.T) {
	tests := []struct {
		scale   string
		want    scale.ValueRange
		wantErr bool
	}{
		{"ZeroToOne", scale.ZeroToOne, false},
		{"unsignedchar", scale.UnsignedChar, false},
		{"OutputResolution", 0, true},
		{"bogus", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.scale, func(t *testing.T) {
			cfg := Default()
			cfg.HeatmapScale = tt.scale
			wcfg, err := cfg.Wrapper()
			if tt.wantErr {
				assert.ErrorIs(t, err, scale.ErrInvalidScaleMode)
				assert.ErrorIs(t, err, wrapper.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, wcfg.HeatmapRange)
		})
	}
}

func TestSize_YAMLRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(struct {
		S Size `yaml:"s"`
	}{Size{64, 48}})
	require.NoError(t, err)
	assert.Equal(t, "s: 64x48\n", string(out))
}

func TestOpener(t *testing.T) {
	cfg := Default()
	cfg.Engine.Kind = "mock"
	open, err := cfg.Opener()
	require.NoError(t, err)
	require.NotNil(t, open)

	wcfg, err := cfg.Wrapper()
	require.NoError(t, err)
	wcfg.ModelFolder = t.TempDir()
	w, err := wrapper.New(wcfg, open)
	require.NoError(t, err)
	assert.NoError(t, w.Close())

	cfg.Engine.Kind = "grpc"
	_, err = cfg.Opener()
	assert.Error(t, err)
}
