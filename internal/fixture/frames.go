// Package fixture synthesizes frames for integration tests.
package fixture

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Frame returns a w x h BGR frame filled with gray level v.
func Frame(w, h int, v float64) *gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), h, w, gocv.MatTypeCV8UC3)
	return &m
}

// MotionSequence returns still frames followed by frames with a white block
// moving left to right. The caller must close every frame.
func MotionSequence(w, h, still, moving int) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, still+moving)
	for i := 0; i < still; i++ {
		frames = append(frames, Frame(w, h, 0))
	}

	block := image.Rect(0, h/4, w/3, 3*h/4)
	step := 1
	if moving > 1 {
		step = (w - block.Dx()) / (moving - 1)
	}
	for i := 0; i < moving; i++ {
		f := Frame(w, h, 0)
		gocv.Rectangle(f, block.Add(image.Pt(i*step, 0)), color.RGBA{255, 255, 255, 0}, -1)
		frames = append(frames, f)
	}
	return frames
}

// CloseAll closes every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}

// Encode returns frame as an encoded image of the given extension.
func Encode(frame *gocv.Mat, ext gocv.FileExt) ([]byte, error) {
	buf, err := gocv.IMEncode(ext, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// WriteImages writes n numbered PNG frames into dir and returns their paths.
func WriteImages(dir string, n, w, h int) ([]string, error) {
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		f := Frame(w, h, float64(10*i))
		paths[i] = filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i))
		ok := gocv.IMWrite(paths[i], *f)
		f.Close()
		if !ok {
			return nil, fmt.Errorf("write %s", paths[i])
		}
	}
	return paths, nil
}
