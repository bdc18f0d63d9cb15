package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayusman/posewrap/internal/app"
)

// streamPoll is how often the handler checks for a new frame (~15 FPS).
const streamPoll = 66 * time.Millisecond

// StreamHandler serves the live pipeline's rendered frames as MJPEG.
type StreamHandler struct {
	live *app.Live
}

// NewStreamHandler creates a new StreamHandler over live.
func NewStreamHandler(live *app.Live) *StreamHandler {
	return &StreamHandler{live: live}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamPoll)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		data, seq := h.live.Latest()
		if seq == last || len(data) == 0 {
			continue
		}
		last = seq

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
