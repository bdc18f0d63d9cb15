// Package scale converts keypoint coordinates and heatmap values between the
// scale conventions used by the pose pipeline.
package scale

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrInvalidScaleMode is returned when a mode from one family is used where
// the other family is expected, or when a mode name is not recognized.
var ErrInvalidScaleMode = errors.New("invalid scale mode")

// CoordinateMode is the reference resolution keypoint coordinates are expressed in.
type CoordinateMode uint8

const (
	// InputResolution is pixel coordinates in the original image.
	InputResolution CoordinateMode = iota
	// NetOutputResolution is pixel coordinates in the network's output grid.
	NetOutputResolution
	// OutputResolution is pixel coordinates in the caller-requested output size.
	OutputResolution
)

func (m CoordinateMode) String() string {
	switch m {
	case InputResolution:
		return "InputResolution"
	case NetOutputResolution:
		return "NetOutputResolution"
	case OutputResolution:
		return "OutputResolution"
	}
	return fmt.Sprintf("CoordinateMode(%d)", uint8(m))
}

// ValueRange is the scalar domain of dense heatmap and PAF values.
type ValueRange uint8

const (
	// ZeroToOne maps values to [0, 1].
	ZeroToOne ValueRange = iota
	// PlusMinusOne maps values to [-1, 1].
	PlusMinusOne
	// UnsignedChar maps values to integers in [0, 255].
	UnsignedChar
)

func (r ValueRange) String() string {
	switch r {
	case ZeroToOne:
		return "ZeroToOne"
	case PlusMinusOne:
		return "PlusMinusOne"
	case UnsignedChar:
		return "UnsignedChar"
	}
	return fmt.Sprintf("ValueRange(%d)", uint8(r))
}

// Bounds returns the inclusive limits of the range.
func (r ValueRange) Bounds() (lo, hi float32) {
	switch r {
	case PlusMinusOne:
		return -1, 1
	case UnsignedChar:
		return 0, 255
	}
	return 0, 1
}

// Sizes holds the reference resolution of each coordinate mode.
type Sizes struct {
	Input     image.Point
	NetOutput image.Point
	Output    image.Point
}

// Of returns the resolution backing the given coordinate mode.
func (s Sizes) Of(m CoordinateMode) image.Point {
	switch m {
	case InputResolution:
		return s.Input
	case NetOutputResolution:
		return s.NetOutput
	}
	return s.Output
}

// Validate reports an error if any resolution is not strictly positive.
func (s Sizes) Validate() error {
	return s.Check(InputResolution, NetOutputResolution, OutputResolution)
}

// Check reports an error if the resolution of any of the given modes is not
// strictly positive. Modes not named are ignored.
func (s Sizes) Check(modes ...CoordinateMode) error {
	for _, m := range modes {
		p := s.Of(m)
		if p.X <= 0 || p.Y <= 0 {
			return fmt.Errorf("%s size %dx%d must be positive", m, p.X, p.Y)
		}
	}
	return nil
}

// ConvertPoint rescales a coordinate pair from one resolution to another.
// The conversion is the identity when from == to.
func ConvertPoint(x, y float32, from, to CoordinateMode, sizes Sizes) (float32, float32) {
	if from == to {
		return x, y
	}
	src := sizes.Of(from)
	dst := sizes.Of(to)
	if src.X == 0 || src.Y == 0 {
		return x, y
	}
	sx := float64(dst.X) / float64(src.X)
	sy := float64(dst.Y) / float64(src.Y)
	return float32(float64(x) * sx), float32(float64(y) * sy)
}

// RemapValue maps v from one value range to another. Input outside the
// source range is clamped first. UnsignedChar results are rounded.
func RemapValue(v float32, from, to ValueRange) float32 {
	if from == to {
		return v
	}

	lo, hi := from.Bounds()
	if v < lo {
		v = lo
	} else if v > hi {
		v = hi
	}
	unit := float64(v-lo) / float64(hi-lo)

	switch to {
	case PlusMinusOne:
		return float32(unit*2 - 1)
	case UnsignedChar:
		c := math.Round(unit * 255)
		return float32(math.Max(0, math.Min(255, c)))
	}
	return float32(unit)
}

// RemapValues applies RemapValue to every element of vs in place.
func RemapValues(vs []float32, from, to ValueRange) {
	if from == to {
		return
	}
	for i, v := range vs {
		vs[i] = RemapValue(v, from, to)
	}
}
