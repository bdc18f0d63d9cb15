// Package api provides HTTP API handlers for the posewrap server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/posewrap/internal/keypoint"
	"github.com/ayusman/posewrap/internal/store"
)

// FrameHandler serves recorded detection snapshots.
type FrameHandler struct {
	store *store.Store
}

// NewFrameHandler creates a new FrameHandler with the given store.
func NewFrameHandler(s *store.Store) *FrameHandler {
	return &FrameHandler{store: s}
}

// ServeHTTP routes /api/frames and /api/frames/{id}.
func (h *FrameHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/frames")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, path)
	case http.MethodDelete:
		h.delete(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type frameResponse struct {
	ID           string   `json:"id"`
	Source       string   `json:"source,omitempty"`
	Model        string   `json:"model"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	OutputWidth  int      `json:"output_width"`
	OutputHeight int      `json:"output_height"`
	Stages       []string `json:"stages"`
	People       int      `json:"people"`
	CreatedAt    string   `json:"created_at"`
}

type listFramesResponse struct {
	Frames []frameResponse `json:"frames"`
	Total  int             `json:"total"`
}

type snapshotResponse struct {
	Frame frameResponse     `json:"frame"`
	Pose  keypoint.GroupSet `json:"pose,omitempty"`
	Face  keypoint.GroupSet `json:"face,omitempty"`
	Hands keypoint.GroupSet `json:"hands,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toFrameResponse(f *store.Frame) frameResponse {
	return frameResponse{
		ID:           f.ID,
		Source:       f.Source,
		Model:        f.Model,
		Width:        f.Width,
		Height:       f.Height,
		OutputWidth:  f.OutputWidth,
		OutputHeight: f.OutputHeight,
		Stages:       f.Stages,
		People:       f.People,
		CreatedAt:    f.CreatedAt.Format(time.RFC3339),
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/frames?limit=N, newest first.
func (h *FrameHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	frames, err := h.store.Frames().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list frames")
		return
	}
	total, err := h.store.Frames().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count frames")
		return
	}

	response := listFramesResponse{
		Frames: make([]frameResponse, 0, len(frames)),
		Total:  total,
	}
	for _, f := range frames {
		response.Frames = append(response.Frames, toFrameResponse(f))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/frames/{id} and returns the frame with its keypoints.
func (h *FrameHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := h.store.Frames().Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Frame not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get frame")
		return
	}

	writeJSON(w, http.StatusOK, snapshotResponse{
		Frame: toFrameResponse(&snap.Frame),
		Pose:  snap.Keypoints[keypoint.Pose],
		Face:  snap.Keypoints[keypoint.Face],
		Hands: snap.Keypoints[keypoint.Hand],
	})
}

// delete handles DELETE /api/frames/{id}.
func (h *FrameHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Frames().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Frame not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete frame")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
