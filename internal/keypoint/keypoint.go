// Package keypoint defines the canonical keypoint tensor returned by the pose
// wrapper and the rules for grouping per-stage network output into it.
package keypoint

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/ayusman/posewrap/internal/scale"
)

// ErrMalformedOutput is returned when raw network output does not match the
// expected per-instance stride.
var ErrMalformedOutput = errors.New("malformed network output")

// Type selects which keypoint group set to query.
type Type int

const (
	Pose Type = iota
	Face
	Hand
)

func (t Type) String() string {
	switch t {
	case Pose:
		return "POSE"
	case Face:
		return "FACE"
	case Hand:
		return "HAND"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses "pose", "face" or "hand" (any case, "hands" accepted).
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(s) {
	case "POSE":
		return Pose, nil
	case "FACE":
		return Face, nil
	case "HAND", "HANDS":
		return Hand, nil
	}
	return 0, fmt.Errorf("unknown keypoint type %q", s)
}

// Side identifies the hand group within a hand GroupSet.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Keypoint is a single detected landmark. Score is a confidence in [0, 1];
// a zero score marks an absent keypoint.
type Keypoint struct {
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Score float32 `json:"score"`
}

// Tensor is an ordered list of instances, each holding exactly Parts keypoints.
type Tensor struct {
	Parts     int          `json:"parts"`
	Instances [][]Keypoint `json:"instances"`
}

// NewTensor returns a tensor of n zero-score instances.
func NewTensor(n, parts int) Tensor {
	t := Tensor{Parts: parts, Instances: make([][]Keypoint, n)}
	for i := range t.Instances {
		t.Instances[i] = make([]Keypoint, parts)
	}
	return t
}

// FromFlat builds a tensor from an instance-major float array with stride
// 3*parts (x, y, score per keypoint).
func FromFlat(data []float32, parts int) (Tensor, error) {
	if parts <= 0 {
		return Tensor{}, fmt.Errorf("%w: non-positive part count %d", ErrMalformedOutput, parts)
	}
	stride := parts * 3
	if len(data)%stride != 0 {
		return Tensor{}, fmt.Errorf("%w: %d values is not a multiple of %d", ErrMalformedOutput, len(data), stride)
	}

	t := NewTensor(len(data)/stride, parts)
	for i := range t.Instances {
		base := i * stride
		for k := 0; k < parts; k++ {
			off := base + k*3
			t.Instances[i][k] = Keypoint{X: data[off], Y: data[off+1], Score: data[off+2]}
		}
	}
	return t, nil
}

// FromNetOutput builds a pose tensor from flat network output expressed in
// net-output pixels and rescales every scored keypoint to the input image.
// Both sizes must be positive unless the output holds no instance.
func FromNetOutput(data []float32, parts int, netOutput, input image.Point) (Tensor, error) {
	t, err := FromFlat(data, parts)
	if err != nil {
		return Tensor{}, err
	}
	if t.Len() == 0 {
		return t, nil
	}

	sizes := scale.Sizes{Input: input, NetOutput: netOutput}
	if err := sizes.Check(scale.InputResolution, scale.NetOutputResolution); err != nil {
		return Tensor{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return t.MapScored(func(kp Keypoint) Keypoint {
		kp.X, kp.Y = scale.ConvertPoint(kp.X, kp.Y, scale.NetOutputResolution, scale.InputResolution, sizes)
		return kp
	}), nil
}

// Len returns the number of instances.
func (t Tensor) Len() int {
	return len(t.Instances)
}

// Shape returns the N x K x 3 dimensions of the tensor.
func (t Tensor) Shape() [3]int {
	return [3]int{len(t.Instances), t.Parts, 3}
}

// Flat returns the tensor as an instance-major float array.
func (t Tensor) Flat() []float32 {
	out := make([]float32, 0, len(t.Instances)*t.Parts*3)
	for _, inst := range t.Instances {
		for _, kp := range inst {
			out = append(out, kp.X, kp.Y, kp.Score)
		}
	}
	return out
}

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	c := Tensor{Parts: t.Parts, Instances: make([][]Keypoint, len(t.Instances))}
	for i, inst := range t.Instances {
		c.Instances[i] = append([]Keypoint(nil), inst...)
	}
	return c
}

// MapScored applies fn to every keypoint with a positive score, leaving
// absent keypoints at zero.
func (t Tensor) MapScored(fn func(Keypoint) Keypoint) Tensor {
	c := t.Clone()
	for _, inst := range c.Instances {
		for k := range inst {
			if inst[k].Score > 0 {
				inst[k] = fn(inst[k])
			}
		}
	}
	return c
}

// Detected reports whether instance i has at least one scored keypoint.
func (t Tensor) Detected(i int) bool {
	if i < 0 || i >= len(t.Instances) {
		return false
	}
	for _, kp := range t.Instances[i] {
		if kp.Score > 0 {
			return true
		}
	}
	return false
}

// GroupSet is the result of a keypoint query: one tensor for pose and face,
// two (left, right) for hands.
type GroupSet []Tensor

// Left returns the left-hand tensor of a hand group set.
func (g GroupSet) Left() Tensor {
	if len(g) < 1 {
		return Tensor{Parts: HandParts}
	}
	return g[Left]
}

// Right returns the right-hand tensor of a hand group set.
func (g GroupSet) Right() Tensor {
	if len(g) < 2 {
		return Tensor{Parts: HandParts}
	}
	return g[Right]
}

// Placement is one per-person result to be slotted into an aligned tensor.
type Placement struct {
	Person    int
	Keypoints []Keypoint
}

// Align returns a tensor with exactly people instances, each placement
// written at its body-instance index. Persons without a placement keep a
// zero-score instance so hand and face tensors index in parallel with pose.
func Align(people, parts int, placements []Placement) (Tensor, error) {
	t := NewTensor(people, parts)
	seen := make(map[int]bool, len(placements))

	for _, p := range placements {
		if p.Person < 0 || p.Person >= people {
			return Tensor{}, fmt.Errorf("%w: person index %d outside [0, %d)", ErrMalformedOutput, p.Person, people)
		}
		if seen[p.Person] {
			return Tensor{}, fmt.Errorf("%w: duplicate result for person %d", ErrMalformedOutput, p.Person)
		}
		if len(p.Keypoints) != parts {
			return Tensor{}, fmt.Errorf("%w: person %d has %d keypoints, want %d", ErrMalformedOutput, p.Person, len(p.Keypoints), parts)
		}
		seen[p.Person] = true
		copy(t.Instances[p.Person], p.Keypoints)
	}

	return t, nil
}
