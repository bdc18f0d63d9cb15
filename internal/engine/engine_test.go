package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"image"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/keypoint"
)

func TestMockEngine_Open(t *testing.T) {
	m := NewMockEngine()
	open := m.Open()

	eng, err := open(Options{Model: keypoint.COCO, WithFace: true})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Opens())

	caps := eng.Capabilities()
	assert.Equal(t, "COCO", caps.Model)
	assert.True(t, caps.Face)
	assert.False(t, caps.Hands)

	m.SetOpenError(errors.New("no device"))
	_, err = open(Options{})
	assert.EqualError(t, err, "no device")
	assert.Equal(t, 2, m.Opens())
}

func TestMockEngine_RunPoseNet(t *testing.T) {
	m := NewMockEngine()
	eng, err := m.Open()(Options{Model: keypoint.COCO})
	require.NoError(t, err)

	img := gocv.NewMatWithSize(64, 80, gocv.MatTypeCV8UC3)
	defer img.Close()

	t.Run("net output defaults to input size", func(t *testing.T) {
		out, err := eng.RunPoseNet(img)
		require.NoError(t, err)
		assert.Empty(t, out.Keypoints)
		assert.Equal(t, image.Pt(80, 64), out.NetOutputSize)
		assert.Equal(t, image.Pt(80, 64), m.LastInputSize())
	})

	t.Run("returns a copy of the configured output", func(t *testing.T) {
		fig := StandingFigure(keypoint.COCO, image.Pt(40, 32), 0)
		m.SetPose(fig)

		out, err := eng.RunPoseNet(img)
		require.NoError(t, err)
		require.Len(t, out.Keypoints, keypoint.COCO.NumParts()*3)
		out.Keypoints[0] = -1
		assert.NotEqual(t, float32(-1), fig.Keypoints[0])
	})

	t.Run("stage error", func(t *testing.T) {
		boom := errors.New("boom")
		m.SetError(StagePose, boom)
		_, err := eng.RunPoseNet(img)
		assert.ErrorIs(t, err, boom)
		m.SetError(StagePose, nil)
	})

	t.Run("closed", func(t *testing.T) {
		require.NoError(t, eng.Close())
		_, err := eng.RunPoseNet(img)
		assert.ErrorIs(t, err, ErrClosed)
		assert.True(t, m.Closed())
		assert.Equal(t, 1, m.CloseCalls())
	})
}

func TestMockEngine_Crops(t *testing.T) {
	m := NewMockEngine()
	eng, err := m.Open()(Options{Model: keypoint.COCO, WithFace: true, WithHands: true})
	require.NoError(t, err)

	a := gocv.NewMatWithSize(368, 368, gocv.MatTypeCV8UC3)
	defer a.Close()
	b := gocv.NewMatWithSize(368, 368, gocv.MatTypeCV8UC3)
	defer b.Close()

	faces, err := eng.RunFaceNet([]gocv.Mat{a, b})
	require.NoError(t, err)
	require.Len(t, faces, 2)
	assert.Len(t, faces[0], keypoint.FaceParts*3)
	for _, v := range faces[1] {
		assert.Zero(t, v)
	}

	m.SetHand(OpenHand(image.Pt(368, 368)))
	hands, err := eng.RunHandNet([]gocv.Mat{a})
	require.NoError(t, err)
	require.Len(t, hands, 1)
	assert.Equal(t, float32(0.8), hands[0][2])
	assert.Equal(t, []image.Point{{368, 368}}, m.LastCropSizes())

	_, face, hand, _ := m.Calls()
	assert.Equal(t, 1, face)
	assert.Equal(t, 1, hand)
}

func TestMockEngine_FetchHeatmaps(t *testing.T) {
	m := NewMockEngine()
	eng, err := m.Open()(Options{Model: keypoint.COCO, DownloadHeatmaps: true})
	require.NoError(t, err)
	m.SetPose(PoseOutput{NetOutputSize: image.Pt(4, 3)})

	raw, err := eng.FetchHeatmaps()
	require.NoError(t, err)
	assert.Equal(t, 4, raw.Width)
	assert.Equal(t, 3, raw.Height)
	assert.Equal(t, keypoint.COCO.HeatmapChannels(), raw.Layout.Channels())
	assert.Len(t, raw.Data, 4*3*keypoint.COCO.HeatmapChannels())

	for c := 0; c < raw.Layout.Channels(); c++ {
		lo := float32(0)
		if raw.Layout.IsPAF(c) {
			lo = -1
		}
		for _, v := range raw.Data[c*12 : (c+1)*12] {
			assert.GreaterOrEqual(t, v, lo)
			assert.LessOrEqual(t, v, float32(1))
		}
	}
}

func TestStandingFigure(t *testing.T) {
	tests := []struct {
		model  keypoint.Model
		absent int
	}{
		{keypoint.COCO, 0},
		{keypoint.MPI, 0},
		{keypoint.Body25, 0},
	}

	for _, tt := range tests {
		t.Run(tt.model.Name, func(t *testing.T) {
			out := StandingFigure(tt.model, image.Pt(100, 200), 0.1)
			tensor, err := keypoint.FromFlat(out.Keypoints, tt.model.NumParts())
			require.NoError(t, err)
			require.Equal(t, 1, tensor.Len())

			absent := 0
			for _, kp := range tensor.Instances[0] {
				if kp.Score == 0 {
					absent++
					continue
				}
				assert.Greater(t, kp.X, float32(0))
				assert.Less(t, kp.X, float32(100))
				assert.Less(t, kp.Y, float32(200))
			}
			assert.Equal(t, tt.absent, absent)
		})
	}

	crowd := Crowd(StandingFigure(keypoint.COCO, image.Pt(100, 100), -0.2), StandingFigure(keypoint.COCO, image.Pt(100, 100), 0.2))
	assert.Len(t, crowd.Keypoints, 2*keypoint.COCO.NumParts()*3)
}

func TestProtocol_Floats(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-5}
	out, err := decodeFloats(encodeFloats(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeFloats([]byte{1, 2, 3})
	assert.Error(t, err)
}

// helperEnv selects the fake inference service in TestHelperProcess.
const helperEnv = "POSEWRAP_HELPER_SERVICE"

func helperCommand(mode string) ProcessConfig {
	return ProcessConfig{
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		Env:     []string{helperEnv + "=" + mode},
	}
}

// TestHelperProcess is not a real test. It is re-executed by the process
// engine tests and speaks the service protocol on stdin and stdout.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	defer os.Exit(0)

	in := bufio.NewReader(os.Stdin)
	enc := json.NewEncoder(os.Stdout)
	var init initParams

	for {
		header, err := readFrame(in)
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(header, &req); err != nil {
			enc.Encode(response{Error: err.Error()})
			return
		}
		for i := 0; i < req.Images; i++ {
			if _, err := readFrame(in); err != nil {
				return
			}
		}

		switch req.Op {
		case opInit:
			if mode == "init-fail" {
				enc.Encode(response{Error: "model folder not found"})
				continue
			}
			init = *req.Init
			enc.Encode(response{OK: true, Capabilities: &Capabilities{
				Model:    init.Model,
				Face:     init.WithFace,
				Hands:    init.WithHands,
				Heatmaps: init.DownloadHeatmaps,
			}})
		case opPose:
			if mode == "pose-fail" {
				enc.Encode(response{Error: "out of memory"})
				continue
			}
			model, _ := keypoint.LookupModel(init.Model)
			out := StandingFigure(model, image.Pt(init.NetPoseWidth/8, init.NetPoseHeight/8), 0)
			enc.Encode(response{OK: true, Keypoints: out.Keypoints, NetWidth: out.NetOutputSize.X, NetHeight: out.NetOutputSize.Y})
		case opFace:
			crops := make([][]float32, req.Images)
			for i := range crops {
				crops[i] = FaceGrid(image.Pt(init.NetFaceHandsSize[0], init.NetFaceHandsSize[1]))
			}
			enc.Encode(response{OK: true, Crops: crops})
		case opHands:
			crops := make([][]float32, req.Images)
			for i := range crops {
				crops[i] = OpenHand(image.Pt(init.NetFaceHandsSize[0], init.NetFaceHandsSize[1]))
			}
			enc.Encode(response{OK: true, Crops: crops})
		case opHeatmaps:
			model, _ := keypoint.LookupModel(init.Model)
			layout := Options{Model: model}.HeatmapLayout()
			raw := GenerateHeatmaps(2, 2, layout)
			enc.Encode(response{OK: true, Heatmap: &heatmapPayload{
				Width:      raw.Width,
				Height:     raw.Height,
				BodyParts:  layout.BodyParts,
				Background: layout.Background,
				PAFs:       layout.PAFs,
				Data:       encodeFloats(raw.Data),
			}})
		default:
			enc.Encode(response{Error: "unknown op " + req.Op})
		}
	}
}

func processOptions() Options {
	return Options{
		Model:            keypoint.COCO,
		NetPoseSize:      image.Pt(320, 240),
		NetFaceHandsSize: image.Pt(64, 64),
		WithFace:         true,
		WithHands:        true,
		DownloadHeatmaps: true,
	}
}

func TestProcessEngine(t *testing.T) {
	eng, err := OpenProcess(helperCommand("ok"))(processOptions())
	require.NoError(t, err)
	defer eng.Close()

	assert.Equal(t, Capabilities{Model: "COCO", Face: true, Hands: true, Heatmaps: true}, eng.Capabilities())

	img := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer img.Close()

	t.Run("pose", func(t *testing.T) {
		out, err := eng.RunPoseNet(img)
		require.NoError(t, err)
		assert.Equal(t, image.Pt(40, 30), out.NetOutputSize)
		assert.Len(t, out.Keypoints, keypoint.COCO.NumParts()*3)
	})

	t.Run("face and hands", func(t *testing.T) {
		crop := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)
		defer crop.Close()

		faces, err := eng.RunFaceNet([]gocv.Mat{crop, crop})
		require.NoError(t, err)
		require.Len(t, faces, 2)
		assert.Len(t, faces[0], keypoint.FaceParts*3)

		hands, err := eng.RunHandNet([]gocv.Mat{crop})
		require.NoError(t, err)
		require.Len(t, hands, 1)
		assert.Len(t, hands[0], keypoint.HandParts*3)

		none, err := eng.RunHandNet(nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("heatmaps", func(t *testing.T) {
		raw, err := eng.FetchHeatmaps()
		require.NoError(t, err)
		assert.Equal(t, keypoint.COCO.HeatmapChannels(), raw.Layout.Channels())
		assert.Len(t, raw.Data, 4*raw.Layout.Channels())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		require.NoError(t, eng.Close())
		require.NoError(t, eng.Close())
		_, err := eng.RunPoseNet(img)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestProcessEngine_Unsupported(t *testing.T) {
	opts := processOptions()
	opts.WithHands = false
	opts.DownloadHeatmaps = false

	eng, err := OpenProcess(helperCommand("ok"))(opts)
	require.NoError(t, err)
	defer eng.Close()

	crop := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)
	defer crop.Close()

	_, err = eng.RunHandNet([]gocv.Mat{crop})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = eng.FetchHeatmaps()
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestProcessEngine_Errors(t *testing.T) {
	t.Run("init failure", func(t *testing.T) {
		_, err := OpenProcess(helperCommand("init-fail"))(processOptions())
		assert.ErrorIs(t, err, ErrService)
		assert.Contains(t, err.Error(), "model folder not found")
	})

	t.Run("stage failure", func(t *testing.T) {
		eng, err := OpenProcess(helperCommand("pose-fail"))(processOptions())
		require.NoError(t, err)
		defer eng.Close()

		img := gocv.NewMatWithSize(24, 32, gocv.MatTypeCV8UC3)
		defer img.Close()

		_, err = eng.RunPoseNet(img)
		assert.ErrorIs(t, err, ErrService)
	})

	t.Run("missing executable", func(t *testing.T) {
		_, err := OpenProcess(ProcessConfig{Command: []string{"/nonexistent/openpose"}})(processOptions())
		assert.Error(t, err)
	})
}
