package engine

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// Service protocol. Each request is a 4-byte big-endian length followed by a
// JSON header, then header.Images length-prefixed PNG images. Each response
// is a single JSON line.

const (
	opInit     = "init"
	opPose     = "pose"
	opFace     = "face"
	opHands    = "hands"
	opHeatmaps = "heatmaps"
)

type initParams struct {
	Model            string `json:"model"`
	ModelFolder      string `json:"model_folder"`
	NetPoseWidth     int    `json:"net_pose_width"`
	NetPoseHeight    int    `json:"net_pose_height"`
	NetFaceHandsSize [2]int `json:"net_face_hands_size"`
	WithFace         bool   `json:"with_face"`
	WithHands        bool   `json:"with_hands"`
	DownloadHeatmaps bool   `json:"download_heatmaps"`
}

type request struct {
	Op     string      `json:"op"`
	Init   *initParams `json:"init,omitempty"`
	Images int         `json:"images"`
}

type heatmapPayload struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	BodyParts  int    `json:"body_parts"`
	Background bool   `json:"background"`
	PAFs       int    `json:"pafs"`
	Data       []byte `json:"data"` // float32 little-endian, channel-major
}

type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Capabilities *Capabilities `json:"capabilities,omitempty"`

	Keypoints []float32   `json:"keypoints,omitempty"`
	NetWidth  int         `json:"net_width,omitempty"`
	NetHeight int         `json:"net_height,omitempty"`
	Crops     [][]float32 `json:"crops,omitempty"`

	Heatmap *heatmapPayload `json:"heatmap,omitempty"`
}

func writeFrame(w io.Writer, data []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := w.Write(length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	length := make([]byte, 4)
	if _, err := io.ReadFull(r, length); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint32(length))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func writeRequest(w io.Writer, req request, images [][]byte) error {
	req.Images = len(images)
	header, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := writeFrame(w, header); err != nil {
		return err
	}
	for _, img := range images {
		if err := writeFrame(w, img); err != nil {
			return err
		}
	}
	return nil
}

func readResponse(r *bufio.Reader) (response, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}
	var resp response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return response{}, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}

func decodeFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("float payload of %d bytes is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

func encodeFloats(vs []float32) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}
