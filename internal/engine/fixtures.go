package engine

import (
	"image"

	"github.com/ayusman/posewrap/internal/keypoint"
)

// standingPose is a front-facing full-body figure in normalized image
// coordinates, keyed by part name.
var standingPose = map[string][2]float32{
	"Nose":      {0.50, 0.15},
	"Head":      {0.50, 0.12},
	"Neck":      {0.50, 0.25},
	"Chest":     {0.50, 0.35},
	"RShoulder": {0.42, 0.25},
	"RElbow":    {0.38, 0.38},
	"RWrist":    {0.36, 0.50},
	"LShoulder": {0.58, 0.25},
	"LElbow":    {0.62, 0.38},
	"LWrist":    {0.64, 0.50},
	"MidHip":    {0.50, 0.55},
	"RHip":      {0.45, 0.55},
	"RKnee":     {0.45, 0.72},
	"RAnkle":    {0.45, 0.90},
	"LHip":      {0.55, 0.55},
	"LKnee":     {0.55, 0.72},
	"LAnkle":    {0.55, 0.90},
	"REye":      {0.48, 0.13},
	"LEye":      {0.52, 0.13},
	"REar":      {0.46, 0.14},
	"LEar":      {0.54, 0.14},
	"LBigToe":   {0.57, 0.95},
	"LSmallToe": {0.58, 0.94},
	"LHeel":     {0.55, 0.92},
	"RBigToe":   {0.43, 0.95},
	"RSmallToe": {0.42, 0.94},
	"RHeel":     {0.45, 0.92},
}

// StandingFigure returns a pose output holding one standing person for the
// given model, expressed in a net output grid of the given size. Offset
// shifts the figure horizontally as a fraction of the grid width.
func StandingFigure(model keypoint.Model, netOutput image.Point, offset float32) PoseOutput {
	kps := make([]float32, 0, model.NumParts()*3)
	for _, name := range model.Parts {
		pos, ok := standingPose[name]
		if !ok {
			kps = append(kps, 0, 0, 0)
			continue
		}
		kps = append(kps,
			(pos[0]+offset)*float32(netOutput.X),
			pos[1]*float32(netOutput.Y),
			0.9,
		)
	}
	return PoseOutput{Keypoints: kps, NetOutputSize: netOutput}
}

// Crowd concatenates the people of several pose outputs sharing one grid.
func Crowd(outputs ...PoseOutput) PoseOutput {
	var out PoseOutput
	for _, o := range outputs {
		out.Keypoints = append(out.Keypoints, o.Keypoints...)
		out.NetOutputSize = o.NetOutputSize
	}
	return out
}

// OpenHand returns flat hand keypoints of an open right hand inside a crop
// of the given size.
func OpenHand(crop image.Point) []float32 {
	// wrist, then thumb, index, middle, ring, pinky from base to tip
	norm := [keypoint.HandParts][2]float32{
		{0.50, 0.90},
		{0.62, 0.80}, {0.70, 0.70}, {0.76, 0.60}, {0.80, 0.52},
		{0.58, 0.60}, {0.60, 0.45}, {0.61, 0.35}, {0.62, 0.25},
		{0.50, 0.58}, {0.50, 0.42}, {0.50, 0.30}, {0.50, 0.20},
		{0.42, 0.60}, {0.41, 0.46}, {0.40, 0.36}, {0.40, 0.27},
		{0.35, 0.64}, {0.32, 0.54}, {0.30, 0.46}, {0.29, 0.40},
	}
	out := make([]float32, 0, keypoint.HandParts*3)
	for _, p := range norm {
		out = append(out, p[0]*float32(crop.X), p[1]*float32(crop.Y), 0.8)
	}
	return out
}

// FaceGrid returns flat face keypoints laid out in two rows inside a crop
// of the given size.
func FaceGrid(crop image.Point) []float32 {
	out := make([]float32, 0, keypoint.FaceParts*3)
	for i := 0; i < keypoint.FaceParts; i++ {
		fx := 0.2 + 0.6*float32(i%35)/34
		fy := float32(0.35)
		if i >= 35 {
			fy = 0.65
		}
		out = append(out, fx*float32(crop.X), fy*float32(crop.Y), 0.7)
	}
	return out
}
