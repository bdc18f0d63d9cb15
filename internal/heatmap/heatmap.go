// Package heatmap holds the dense body-part heatmap and part-affinity-field
// stack produced by the pose network.
package heatmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/scale"
)

// ErrMalformed is returned when stack data does not match its declared shape.
var ErrMalformed = errors.New("malformed heatmap stack")

// Layout fixes the channel order of a stack: BodyParts heatmap channels,
// an optional background channel, then two consecutive channels (x, y) per PAF.
type Layout struct {
	BodyParts  int  `json:"body_parts"`
	Background bool `json:"background"`
	PAFs       int  `json:"pafs"`
}

// Heatmaps returns the number of heatmap channels, background included.
func (l Layout) Heatmaps() int {
	if l.Background {
		return l.BodyParts + 1
	}
	return l.BodyParts
}

// Channels returns the total channel count.
func (l Layout) Channels() int {
	return l.Heatmaps() + 2*l.PAFs
}

// PAFChannels returns the x and y channel indices of PAF i.
func (l Layout) PAFChannels(i int) (x, y int) {
	x = l.Heatmaps() + 2*i
	return x, x + 1
}

// IsPAF reports whether channel c belongs to a part-affinity field.
func (l Layout) IsPAF(c int) bool {
	return c >= l.Heatmaps() && c < l.Channels()
}

// Raw is the stack as downloaded from the network: heatmap channels in
// [0, 1] and PAF channels in [-1, 1], channel-major.
type Raw struct {
	Width  int
	Height int
	Layout Layout
	Data   []float32
}

// Stack is a channel-major dense tensor with every channel in Range.
type Stack struct {
	Width  int              `json:"width"`
	Height int              `json:"height"`
	Layout Layout           `json:"layout"`
	Range  scale.ValueRange `json:"range"`
	Data   []float32        `json:"-"`
}

func checkShape(w, h int, l Layout, n int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrMalformed, w, h)
	}
	if want := w * h * l.Channels(); n != want {
		return fmt.Errorf("%w: %d values, want %d (%dx%dx%d)", ErrMalformed, n, want, w, h, l.Channels())
	}
	return nil
}

// FromRaw converts network output into a stack in the requested range,
// remapping heatmap channels from ZeroToOne and PAF channels from PlusMinusOne.
func FromRaw(raw Raw, to scale.ValueRange) (Stack, error) {
	if err := checkShape(raw.Width, raw.Height, raw.Layout, len(raw.Data)); err != nil {
		return Stack{}, err
	}

	s := Stack{
		Width:  raw.Width,
		Height: raw.Height,
		Layout: raw.Layout,
		Range:  to,
		Data:   append([]float32(nil), raw.Data...),
	}

	for c := 0; c < raw.Layout.Channels(); c++ {
		from := scale.ZeroToOne
		if raw.Layout.IsPAF(c) {
			from = scale.PlusMinusOne
		}
		ch := s.Channel(c)
		if from == to {
			// Clamp so every value lies in the declared range.
			lo, hi := to.Bounds()
			for i, v := range ch {
				ch[i] = float32(math.Max(float64(lo), math.Min(float64(hi), float64(v))))
			}
			continue
		}
		scale.RemapValues(ch, from, to)
	}

	return s, nil
}

// Channels returns the number of channels in the stack.
func (s Stack) Channels() int {
	return s.Layout.Channels()
}

// Channel returns the backing slice of channel c (row-major Height x Width).
func (s Stack) Channel(c int) []float32 {
	n := s.Width * s.Height
	return s.Data[c*n : (c+1)*n]
}

// At returns the value of channel c at pixel (x, y).
func (s Stack) At(c, x, y int) float32 {
	return s.Data[c*s.Width*s.Height+y*s.Width+x]
}

// Clone returns a deep copy.
func (s Stack) Clone() Stack {
	c := s
	c.Data = append([]float32(nil), s.Data...)
	return c
}

// Convert returns a copy of the stack remapped to another value range.
func (s Stack) Convert(to scale.ValueRange) Stack {
	c := s.Clone()
	scale.RemapValues(c.Data, s.Range, to)
	c.Range = to
	return c
}

// Validate checks Data against the declared shape.
func (s Stack) Validate() error {
	return checkShape(s.Width, s.Height, s.Layout, len(s.Data))
}

// Resize returns a copy of the stack with every channel resampled bilinearly
// to size.
func (s Stack) Resize(size image.Point) (Stack, error) {
	if err := s.Validate(); err != nil {
		return Stack{}, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return Stack{}, fmt.Errorf("%w: target size %dx%d", ErrMalformed, size.X, size.Y)
	}
	if size.X == s.Width && size.Y == s.Height {
		return s.Clone(), nil
	}

	out := s
	out.Width, out.Height = size.X, size.Y
	out.Data = make([]float32, 0, size.X*size.Y*s.Channels())
	for c := 0; c < s.Channels(); c++ {
		src, err := s.ChannelMat(c)
		if err != nil {
			return Stack{}, err
		}
		dst := gocv.NewMat()
		gocv.Resize(src, &dst, size, 0, 0, gocv.InterpolationLinear)
		vals, err := dst.DataPtrFloat32()
		if err == nil {
			out.Data = append(out.Data, vals...)
		}
		src.Close()
		dst.Close()
		if err != nil {
			return Stack{}, fmt.Errorf("resize channel %d: %w", c, err)
		}
	}
	return out, nil
}

// Mat returns the stack as an interleaved multi-channel CV_32F Mat with one
// channel per stack channel. The caller must close it.
func (s Stack) Mat() (gocv.Mat, error) {
	if err := s.Validate(); err != nil {
		return gocv.NewMat(), err
	}

	channels := s.Channels()
	plane := s.Width * s.Height
	buf := make([]byte, 4*len(s.Data))
	for p := 0; p < plane; p++ {
		for c := 0; c < channels; c++ {
			off := 4 * (p*channels + c)
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(s.Data[c*plane+p]))
		}
	}

	mt := gocv.MatType(int(gocv.MatTypeCV32F) + (channels-1)<<3)
	return gocv.NewMatFromBytes(s.Height, s.Width, mt, buf)
}

// ChannelMat returns channel c as a single-channel CV_32F Mat. The caller
// must close it.
func (s Stack) ChannelMat(c int) (gocv.Mat, error) {
	if c < 0 || c >= s.Channels() {
		return gocv.NewMat(), fmt.Errorf("channel %d outside [0, %d)", c, s.Channels())
	}
	ch := s.Channel(c)
	buf := make([]byte, 4*len(ch))
	for i, v := range ch {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return gocv.NewMatFromBytes(s.Height, s.Width, gocv.MatTypeCV32F, buf)
}
