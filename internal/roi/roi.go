// Package roi derives face and hand regions of interest from body-pose keypoints.
package roi

import (
	"image"
	"math"

	"github.com/ayusman/posewrap/internal/keypoint"
)

// DefaultThreshold is the minimum body-keypoint score used for ROI derivation.
const DefaultThreshold = 0.05

// Hand crop geometry.
const (
	wristElbowRatio   = 0.33
	handSizeRatio     = 1.5
	elbowShoulderBias = 0.9
)

// Rect is a floating point rectangle in input-image pixels.
type Rect struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Valid reports whether the rectangle covers at least one pixel.
func (r Rect) Valid() bool {
	return r.Width >= 1 && r.Height >= 1
}

// Image returns the integer rectangle enclosing r.
func (r Rect) Image() image.Rectangle {
	x0 := int(math.Floor(float64(r.X)))
	y0 := int(math.Floor(float64(r.Y)))
	x1 := int(math.Ceil(float64(r.X + r.Width)))
	y1 := int(math.Ceil(float64(r.Y + r.Height)))
	return image.Rect(x0, y0, x1, y1)
}

// square returns the square of side size centred on (cx, cy).
func square(cx, cy, size float32) Rect {
	return Rect{X: cx - size/2, Y: cy - size/2, Width: size, Height: size}
}

type point struct{ x, y float32 }

func (p point) dist(q point) float32 {
	return float32(math.Hypot(float64(p.x-q.x), float64(p.y-q.y)))
}

func avg(ps ...point) point {
	var sx, sy float32
	for _, p := range ps {
		sx += p.x
		sy += p.y
	}
	n := float32(len(ps))
	return point{sx / n, sy / n}
}

// body gives threshold-aware access to one person's keypoints.
type body struct {
	kps []keypoint.Keypoint
	thr float32
}

func (b body) ok(idx int) bool {
	return idx >= 0 && idx < len(b.kps) && b.kps[idx].Score > b.thr
}

func (b body) at(idx int) point {
	return point{b.kps[idx].X, b.kps[idx].Y}
}

// Face returns the face rectangle for one person, combining every usable
// head-landmark estimate. It reports false when no estimate is available.
func Face(person []keypoint.Keypoint, lm keypoint.Landmarks, threshold float32) (Rect, bool) {
	b := body{kps: person, thr: threshold}

	var centres []point
	var size float32

	if b.ok(lm.Neck) && b.ok(lm.Nose) {
		neck, nose := b.at(lm.Neck), b.at(lm.Nose)
		lSide := b.ok(lm.LEye) && b.ok(lm.LEar)
		rSide := b.ok(lm.REye) && b.ok(lm.REar)
		profile := b.ok(lm.LEye) == b.ok(lm.LEar) && b.ok(lm.REye) == b.ok(lm.REar) && lSide != rSide

		switch {
		case profile && lSide:
			eye, ear := b.at(lm.LEye), b.at(lm.LEar)
			centres = append(centres, avg(eye, ear, nose))
			size += 0.85 * (eye.dist(nose) + ear.dist(nose) + neck.dist(nose))
		case profile && rSide:
			eye, ear := b.at(lm.REye), b.at(lm.REar)
			centres = append(centres, avg(eye, ear, nose))
			size += 0.85 * (eye.dist(nose) + ear.dist(nose) + neck.dist(nose))
		default:
			centres = append(centres, avg(neck, nose))
			size += 2 * neck.dist(nose)
		}
	}

	if b.ok(lm.LEye) && b.ok(lm.REye) {
		l, r := b.at(lm.LEye), b.at(lm.REye)
		centres = append(centres, avg(l, r))
		size += 3 * l.dist(r)
	}

	if b.ok(lm.LEar) && b.ok(lm.REar) {
		l, r := b.at(lm.LEar), b.at(lm.REar)
		centres = append(centres, avg(l, r))
		size += 2 * l.dist(r)
	}

	if len(centres) == 0 {
		return Rect{}, false
	}

	c := avg(centres...)
	rect := square(c.x, c.y, size/float32(len(centres)))
	return rect, rect.Valid()
}

// Hand holds the rectangles for one person's hands.
type Hand struct {
	Left, Right       Rect
	HasLeft, HasRight bool
}

// Has reports whether a rectangle exists for the given side.
func (h Hand) Has(side keypoint.Side) bool {
	if side == keypoint.Left {
		return h.HasLeft
	}
	return h.HasRight
}

// Rect returns the rectangle for the given side.
func (h Hand) Rect(side keypoint.Side) Rect {
	if side == keypoint.Left {
		return h.Left
	}
	return h.Right
}

// Hands returns the hand rectangles for one person. A hand is extrapolated
// past the wrist along the forearm and sized from the forearm and upper arm.
func Hands(person []keypoint.Keypoint, lm keypoint.Landmarks, threshold float32) Hand {
	b := body{kps: person, thr: threshold}
	var h Hand
	h.Left, h.HasLeft = handRect(b, lm.LWrist, lm.LElbow, lm.LShoulder)
	h.Right, h.HasRight = handRect(b, lm.RWrist, lm.RElbow, lm.RShoulder)
	return h
}

func handRect(b body, wristIdx, elbowIdx, shoulderIdx int) (Rect, bool) {
	if !b.ok(wristIdx) || !b.ok(elbowIdx) || !b.ok(shoulderIdx) {
		return Rect{}, false
	}

	wrist, elbow, shoulder := b.at(wristIdx), b.at(elbowIdx), b.at(shoulderIdx)
	cx := wrist.x + wristElbowRatio*(wrist.x-elbow.x)
	cy := wrist.y + wristElbowRatio*(wrist.y-elbow.y)

	forearm := wrist.dist(elbow)
	upper := elbow.dist(shoulder)
	size := handSizeRatio * float32(math.Max(float64(forearm), float64(elbowShoulderBias*upper)))

	rect := square(cx, cy, size)
	return rect, rect.Valid()
}
