package keypoint

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownModel is returned by LookupModel for unrecognized body models.
var ErrUnknownModel = errors.New("unknown body model")

// Keypoint counts for the face and hand networks.
const (
	FaceParts = 70
	HandParts = 21
)

// Landmarks holds the body-part indices the face and hand stages derive
// their regions of interest from. A value of -1 means the model lacks the part.
type Landmarks struct {
	Nose, Neck                int
	LEye, REye, LEar, REar    int
	LShoulder, LElbow, LWrist int
	RShoulder, RElbow, RWrist int
}

// Model describes a body-pose model: part order, skeleton used for
// rendering and the PAF pair order that fixes the heatmap channel layout.
type Model struct {
	Name      string
	Parts     []string
	Skeleton  [][2]int
	PAFPairs  [][2]int
	Landmarks Landmarks
}

// NumParts returns K for pose tensors of this model.
func (m Model) NumParts() int {
	return len(m.Parts)
}

// HeatmapChannels returns the channel count of the model's heatmap stack:
// one per part, one background channel and two per PAF.
func (m Model) HeatmapChannels() int {
	return len(m.Parts) + 1 + 2*len(m.PAFPairs)
}

// Part returns the index of a named part, or -1.
func (m Model) Part(name string) int {
	for i, p := range m.Parts {
		if p == name {
			return i
		}
	}
	return -1
}

var cocoSkeleton = [][2]int{
	{1, 2}, {1, 5}, {2, 3}, {3, 4}, {5, 6}, {6, 7}, {1, 8}, {8, 9}, {9, 10},
	{1, 11}, {11, 12}, {12, 13}, {1, 0}, {0, 14}, {14, 16}, {0, 15}, {15, 17},
}

var mpiSkeleton = [][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 4}, {1, 5}, {5, 6}, {6, 7}, {1, 14},
	{14, 8}, {8, 9}, {9, 10}, {14, 11}, {11, 12}, {12, 13},
}

var body25Skeleton = [][2]int{
	{1, 8}, {1, 2}, {1, 5}, {2, 3}, {3, 4}, {5, 6}, {6, 7}, {8, 9}, {9, 10},
	{10, 11}, {8, 12}, {12, 13}, {13, 14}, {1, 0}, {0, 15}, {15, 17}, {0, 16},
	{16, 18}, {14, 19}, {19, 20}, {14, 21}, {11, 22}, {22, 23}, {11, 24},
}

// COCO is the 18-part COCO body model.
var COCO = Model{
	Name: "COCO",
	Parts: []string{
		"Nose", "Neck", "RShoulder", "RElbow", "RWrist", "LShoulder", "LElbow",
		"LWrist", "RHip", "RKnee", "RAnkle", "LHip", "LKnee", "LAnkle", "REye",
		"LEye", "REar", "LEar",
	},
	Skeleton: cocoSkeleton,
	PAFPairs: append(append([][2]int{}, cocoSkeleton...), [2]int{2, 16}, [2]int{5, 17}),
	Landmarks: Landmarks{
		Nose: 0, Neck: 1,
		REye: 14, LEye: 15, REar: 16, LEar: 17,
		RShoulder: 2, RElbow: 3, RWrist: 4,
		LShoulder: 5, LElbow: 6, LWrist: 7,
	},
}

// MPI is the 15-part MPII body model.
var MPI = Model{
	Name: "MPI",
	Parts: []string{
		"Head", "Neck", "RShoulder", "RElbow", "RWrist", "LShoulder", "LElbow",
		"LWrist", "RHip", "RKnee", "RAnkle", "LHip", "LKnee", "LAnkle", "Chest",
	},
	Skeleton: mpiSkeleton,
	PAFPairs: mpiSkeleton,
	Landmarks: Landmarks{
		Nose: 0, Neck: 1,
		REye: -1, LEye: -1, REar: -1, LEar: -1,
		RShoulder: 2, RElbow: 3, RWrist: 4,
		LShoulder: 5, LElbow: 6, LWrist: 7,
	},
}

// Body25 is the 25-part body + foot model.
var Body25 = Model{
	Name: "BODY_25",
	Parts: []string{
		"Nose", "Neck", "RShoulder", "RElbow", "RWrist", "LShoulder", "LElbow",
		"LWrist", "MidHip", "RHip", "RKnee", "RAnkle", "LHip", "LKnee", "LAnkle",
		"REye", "LEye", "REar", "LEar", "LBigToe", "LSmallToe", "LHeel",
		"RBigToe", "RSmallToe", "RHeel",
	},
	Skeleton: body25Skeleton,
	PAFPairs: append(append([][2]int{}, body25Skeleton...), [2]int{2, 17}, [2]int{5, 18}),
	Landmarks: Landmarks{
		Nose: 0, Neck: 1,
		REye: 15, LEye: 16, REar: 17, LEar: 18,
		RShoulder: 2, RElbow: 3, RWrist: 4,
		LShoulder: 5, LElbow: 6, LWrist: 7,
	},
}

// HandSkeleton lists the bones of the 21-point hand model.
var HandSkeleton = [][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 4},
	{0, 5}, {5, 6}, {6, 7}, {7, 8},
	{0, 9}, {9, 10}, {10, 11}, {11, 12},
	{0, 13}, {13, 14}, {14, 15}, {15, 16},
	{0, 17}, {17, 18}, {18, 19}, {19, 20},
}

// LookupModel returns the body model with the given name. MPI_4_layers
// shares the MPI layout.
func LookupModel(name string) (Model, error) {
	switch strings.ToUpper(name) {
	case "COCO":
		return COCO, nil
	case "MPI":
		return MPI, nil
	case "MPI_4_LAYERS":
		m := MPI
		m.Name = "MPI_4_layers"
		return m, nil
	case "BODY_25":
		return Body25, nil
	}
	return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// ModelNames lists the recognized body model names.
func ModelNames() []string {
	return []string{"COCO", "MPI", "MPI_4_layers", "BODY_25"}
}
