package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/app"
	"github.com/ayusman/posewrap/internal/capture"
	"github.com/ayusman/posewrap/internal/wrapper"
)

// MaxImageBytes bounds the request body of POST /api/detect.
const MaxImageBytes = 32 << 20

// DetectHandler runs the detection stages on an uploaded image.
type DetectHandler struct {
	session *app.Session
	log     *zap.Logger
}

// NewDetectHandler creates a DetectHandler over s.
func NewDetectHandler(s *app.Session, log *zap.Logger) *DetectHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DetectHandler{session: s, log: log}
}

// ServeHTTP handles POST /api/detect. The body is an encoded image.
//
// Query parameters:
//
//	stages  comma separated optional stages (face, hands); absent runs
//	        every enabled stage, empty runs pose only
//	record  1 or true stores the snapshot
//	format  json (default) or jpeg for the rendered image
func (h *DetectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	stages := h.session.DefaultStages()
	if q.Has("stages") {
		var err error
		if stages, err = parseStages(q.Get("stages")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "jpeg" {
		writeError(w, http.StatusBadRequest, "Invalid format")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxImageBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Image is required")
		return
	}

	img, err := capture.DecodeImage(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image")
		return
	}
	defer img.Close()

	res, err := h.session.Detect(img, app.DetectOptions{
		Stages: stages,
		Source: q.Get("source"),
		Record: isTrue(q.Get("record")),
		Render: format == "jpeg",
	})
	if err != nil {
		h.log.Warn("detect request failed", zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	defer res.Close()

	if format == "jpeg" {
		buf, err := gocv.IMEncode(gocv.JPEGFileExt, *res.Rendered)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode image")
			return
		}
		defer buf.Close()
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("X-Frame-Id", res.ID)
		w.WriteHeader(http.StatusOK)
		w.Write(buf.GetBytes())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func parseStages(v string) ([]wrapper.Stage, error) {
	var stages []wrapper.Stage
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		st, err := wrapper.ParseStage(part)
		if err != nil {
			return nil, err
		}
		if st != wrapper.StagePose {
			stages = append(stages, st)
		}
	}
	return stages, nil
}

func isTrue(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, wrapper.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, wrapper.ErrFeatureDisabled):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wrapper.ErrClosed), errors.Is(err, app.ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, wrapper.ErrInferenceFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
