package wrapper

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/keypoint"
	"github.com/ayusman/posewrap/internal/roi"
)

// validImage reports whether img can be fed to the networks.
func validImage(img gocv.Mat) bool {
	return !img.Empty() && img.Type() == gocv.MatTypeCV8UC3
}

// resizeTo returns img scaled to size. The caller must close the result.
func resizeTo(img gocv.Mat, size image.Point) gocv.Mat {
	out := gocv.NewMat()
	if img.Cols() == size.X && img.Rows() == size.Y {
		img.CopyTo(&out)
		return out
	}
	gocv.Resize(img, &out, size, 0, 0, gocv.InterpolationLinear)
	return out
}

// cropResize cuts r out of img, padding with black where r leaves the image,
// scales it to size and optionally mirrors it horizontally. The caller must
// close the result.
func cropResize(img gocv.Mat, r image.Rectangle, size image.Point, mirror bool) gocv.Mat {
	padded := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), r.Dy(), r.Dx(), img.Type())
	defer padded.Close()

	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	if inter := r.Intersect(bounds); !inter.Empty() {
		src := img.Region(inter)
		dst := padded.Region(inter.Sub(r.Min))
		src.CopyTo(&dst)
		src.Close()
		dst.Close()
	}

	out := resizeTo(padded, size)
	if !mirror {
		return out
	}
	flipped := gocv.NewMat()
	gocv.Flip(out, &flipped, 1)
	out.Close()
	return flipped
}

// crop is one region sent to the face or hand network, remembered so the
// results can be mapped back and slotted at the right person.
type crop struct {
	person int
	rect   image.Rectangle
	mirror bool
}

// toInput maps keypoints from crop net-input pixels back to input pixels.
// Absent keypoints stay at zero.
func (c crop) toInput(kps []keypoint.Keypoint, net image.Point) []keypoint.Keypoint {
	sx := float32(c.rect.Dx()) / float32(net.X)
	sy := float32(c.rect.Dy()) / float32(net.Y)
	out := make([]keypoint.Keypoint, len(kps))
	for i, kp := range kps {
		if kp.Score <= 0 {
			continue
		}
		x := kp.X
		if c.mirror {
			x = float32(net.X-1) - x
		}
		out[i] = keypoint.Keypoint{
			X:     float32(c.rect.Min.X) + x*sx,
			Y:     float32(c.rect.Min.Y) + kp.Y*sy,
			Score: kp.Score,
		}
	}
	return out
}

// cropRect turns an ROI into an integer crop, rejecting ones that cover
// less than a pixel.
func cropRect(r roi.Rect) (image.Rectangle, bool) {
	if !r.Valid() {
		return image.Rectangle{}, false
	}
	ir := r.Image()
	return ir, !ir.Empty()
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
