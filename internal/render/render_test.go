package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/heatmap"
	"github.com/ayusman/posewrap/internal/keypoint"
	"github.com/ayusman/posewrap/internal/scale"
)

func blank(w, h int) gocv.Mat {
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(0, 0, 0, 0))
	return m
}

func painted(m gocv.Mat, x, y int) bool {
	v := m.GetVecbAt(y, x)
	return v[0] != 0 || v[1] != 0 || v[2] != 0
}

func onePerson(score float32) keypoint.Tensor {
	t := keypoint.NewTensor(1, keypoint.COCO.NumParts())
	// neck and right shoulder
	t.Instances[0][1] = keypoint.Keypoint{X: 100, Y: 50, Score: score}
	t.Instances[0][2] = keypoint.Keypoint{X: 60, Y: 50, Score: score}
	return t
}

func TestRender_Pose(t *testing.T) {
	img := blank(200, 150)
	defer img.Close()

	out := Render(img, Layers{Model: keypoint.COCO, Pose: onePerson(0.9), Thresholds: DefaultThresholds})
	defer out.Close()

	assert.True(t, painted(out, 100, 50), "joint drawn")
	assert.True(t, painted(out, 80, 50), "bone drawn")
	assert.False(t, painted(out, 10, 140))
	assert.False(t, painted(img, 100, 50), "input untouched")
}

func TestRender_Thresholds(t *testing.T) {
	img := blank(200, 150)
	defer img.Close()

	out := Render(img, Layers{Model: keypoint.COCO, Pose: onePerson(0.01), Thresholds: DefaultThresholds})
	defer out.Close()

	assert.False(t, painted(out, 100, 50))
	assert.False(t, painted(out, 80, 50))
}

func TestRender_FaceAndHands(t *testing.T) {
	img := blank(200, 200)
	defer img.Close()

	face := keypoint.NewTensor(1, keypoint.FaceParts)
	face.Instances[0][0] = keypoint.Keypoint{X: 20, Y: 20, Score: 0.9}
	face.Instances[0][1] = keypoint.Keypoint{X: 40, Y: 20, Score: 0.3}

	left := keypoint.NewTensor(1, keypoint.HandParts)
	left.Instances[0][0] = keypoint.Keypoint{X: 150, Y: 150, Score: 0.8}
	left.Instances[0][1] = keypoint.Keypoint{X: 170, Y: 150, Score: 0.8}
	right := keypoint.NewTensor(1, keypoint.HandParts)

	out := Render(img, Layers{
		Model:      keypoint.COCO,
		Face:       face,
		Hands:      keypoint.GroupSet{left, right},
		Thresholds: DefaultThresholds,
	})
	defer out.Close()

	assert.True(t, painted(out, 20, 20))
	assert.False(t, painted(out, 40, 20), "face point under threshold")
	assert.True(t, painted(out, 160, 150), "hand bone drawn")
}

func TestRender_Empty(t *testing.T) {
	img := blank(64, 48)
	defer img.Close()

	out := Render(img, Layers{Model: keypoint.COCO})
	defer out.Close()

	require.Equal(t, img.Cols(), out.Cols())
	require.Equal(t, img.Rows(), out.Rows())
	assert.False(t, painted(out, 32, 24))
}

func TestHeatmapOverlay(t *testing.T) {
	img := blank(40, 40)
	defer img.Close()

	layout := heatmap.Layout{BodyParts: 1, Background: true}
	stack, err := heatmap.FromRaw(heatmap.Raw{
		Width:  2,
		Height: 2,
		Layout: layout,
		Data:   []float32{1, 1, 1, 1, 0, 0, 0, 0},
	}, scale.ZeroToOne)
	require.NoError(t, err)

	t.Run("blends channel", func(t *testing.T) {
		out, err := HeatmapOverlay(img, stack, 0, 0.5)
		require.NoError(t, err)
		defer out.Close()
		assert.Equal(t, 40, out.Cols())
		assert.True(t, painted(out, 20, 20))
	})

	t.Run("bad channel", func(t *testing.T) {
		_, err := HeatmapOverlay(img, stack, 5, 0.5)
		assert.Error(t, err)
	})

	t.Run("bad alpha", func(t *testing.T) {
		_, err := HeatmapOverlay(img, stack, 0, 1.5)
		assert.Error(t, err)
	})

	t.Run("empty image", func(t *testing.T) {
		empty := gocv.NewMat()
		defer empty.Close()
		_, err := HeatmapOverlay(empty, stack, 0, 0.5)
		assert.Error(t, err)
	})
}
