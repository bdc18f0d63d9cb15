// Package render draws detection results onto images.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/heatmap"
	"github.com/ayusman/posewrap/internal/keypoint"
	"github.com/ayusman/posewrap/internal/scale"
)

// Thresholds are the minimum scores a keypoint needs to be drawn.
type Thresholds struct {
	Pose float32
	Face float32
	Hand float32
}

// DefaultThresholds match the OpenPose render defaults.
var DefaultThresholds = Thresholds{Pose: 0.05, Face: 0.4, Hand: 0.2}

// Layers holds what to draw. Coordinates are in pixels of the target image.
// Empty tensors are skipped.
type Layers struct {
	Model      keypoint.Model
	Pose       keypoint.Tensor
	Face       keypoint.Tensor
	Hands      keypoint.GroupSet
	Thresholds Thresholds
}

var limbColors = []color.RGBA{
	{255, 0, 85, 0}, {255, 0, 0, 0}, {255, 85, 0, 0}, {255, 170, 0, 0},
	{255, 255, 0, 0}, {170, 255, 0, 0}, {85, 255, 0, 0}, {0, 255, 0, 0},
	{0, 255, 85, 0}, {0, 255, 170, 0}, {0, 255, 255, 0}, {0, 170, 255, 0},
	{0, 85, 255, 0}, {0, 0, 255, 0}, {85, 0, 255, 0}, {170, 0, 255, 0},
	{255, 0, 255, 0}, {255, 0, 170, 0},
}

var (
	faceColor = color.RGBA{255, 255, 255, 0}
	leftHand  = color.RGBA{255, 200, 0, 0}
	rightHand = color.RGBA{0, 200, 255, 0}
)

// Render draws the layers onto a copy of img. The caller must close the
// returned Mat.
func Render(img gocv.Mat, layers Layers) gocv.Mat {
	out := img.Clone()
	if out.Empty() {
		return out
	}

	line, radius := strokes(out.Cols(), out.Rows())

	for _, person := range layers.Pose.Instances {
		drawSkeleton(&out, person, layers.Model.Skeleton, layers.Thresholds.Pose, line, radius, nil)
	}

	for _, face := range layers.Face.Instances {
		for _, kp := range face {
			if kp.Score < layers.Thresholds.Face || kp.Score == 0 {
				continue
			}
			gocv.Circle(&out, pt(kp), max(1, radius/2), faceColor, -1)
		}
	}

	sideColors := []color.RGBA{leftHand, rightHand}
	for side, hands := range layers.Hands {
		if side >= len(sideColors) {
			break
		}
		c := sideColors[side]
		for _, hand := range hands.Instances {
			drawSkeleton(&out, hand, keypoint.HandSkeleton, layers.Thresholds.Hand, max(1, line/2), max(1, radius/2), &c)
		}
	}

	return out
}

// drawSkeleton draws bones between scored joints, then the joints. A nil
// fixed colour cycles through limbColors.
func drawSkeleton(img *gocv.Mat, kps []keypoint.Keypoint, bones [][2]int, threshold float32, line, radius int, fixed *color.RGBA) {
	visible := func(i int) bool {
		return i >= 0 && i < len(kps) && kps[i].Score > 0 && kps[i].Score >= threshold
	}

	for i, b := range bones {
		if !visible(b[0]) || !visible(b[1]) {
			continue
		}
		c := limbColors[i%len(limbColors)]
		if fixed != nil {
			c = *fixed
		}
		gocv.Line(img, pt(kps[b[0]]), pt(kps[b[1]]), c, line)
	}

	for i := range kps {
		if !visible(i) {
			continue
		}
		c := limbColors[i%len(limbColors)]
		if fixed != nil {
			c = *fixed
		}
		gocv.Circle(img, pt(kps[i]), radius, c, -1)
	}
}

func pt(kp keypoint.Keypoint) image.Point {
	return image.Pt(int(math.Round(float64(kp.X))), int(math.Round(float64(kp.Y))))
}

// strokes scales line thickness and joint radius with the image size.
func strokes(w, h int) (line, radius int) {
	side := float64(min(w, h))
	line = max(1, int(math.Round(side/120)))
	radius = max(2, int(math.Round(side/80)))
	return line, radius
}

// HeatmapOverlay blends one JET-coloured channel of the stack over a copy
// of img. alpha is the weight of the heatmap in [0, 1]. The caller must
// close the returned Mat.
func HeatmapOverlay(img gocv.Mat, stack heatmap.Stack, channel int, alpha float64) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}
	if img.Type() != gocv.MatTypeCV8UC3 {
		return gocv.NewMat(), fmt.Errorf("overlay needs an 8-bit 3-channel image, got type %v", img.Type())
	}
	if alpha < 0 || alpha > 1 {
		return gocv.NewMat(), fmt.Errorf("alpha %v outside [0, 1]", alpha)
	}

	ch, err := stack.ChannelMat(channel)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer ch.Close()

	gain, offset := byteGain(stack.Range)
	gray := gocv.NewMat()
	defer gray.Close()
	ch.ConvertToWithParams(&gray, gocv.MatTypeCV8U, gain, offset)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(img.Cols(), img.Rows()), 0, 0, gocv.InterpolationLinear)

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(resized, &colored, gocv.ColormapJet)

	out := gocv.NewMat()
	gocv.AddWeighted(img, 1-alpha, colored, alpha, 0, &out)
	return out, nil
}

// byteGain maps a value range onto [0, 255].
func byteGain(r scale.ValueRange) (gain, offset float32) {
	switch r {
	case scale.PlusMinusOne:
		return 127.5, 127.5
	case scale.UnsignedChar:
		return 1, 0
	default:
		return 255, 0
	}
}
