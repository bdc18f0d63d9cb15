package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/app"
	"github.com/ayusman/posewrap/internal/capture"
	"github.com/ayusman/posewrap/internal/engine"
	"github.com/ayusman/posewrap/internal/keypoint"
	"github.com/ayusman/posewrap/internal/store"
	"github.com/ayusman/posewrap/internal/wrapper"
)

func newTestSession(t *testing.T) (*app.Session, *engine.MockEngine) {
	t.Helper()

	cfg := wrapper.DefaultConfig()
	cfg.ModelFolder = t.TempDir()

	m := engine.NewMockEngine()
	m.SetPose(engine.StandingFigure(keypoint.COCO, image.Pt(40, 30), 0))
	m.SetFace(engine.FaceGrid(cfg.NetFaceHandsSize))
	m.SetHand(engine.OpenHand(cfg.NetFaceHandsSize))

	w, err := wrapper.New(cfg, m.Open())
	require.NoError(t, err)

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := app.NewSession(w, st, nil)
	t.Cleanup(func() { s.Close() })
	return s, m
}

func encodedImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 30, 30, 0), h, w, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

type detectResponse struct {
	ID       string            `json:"id"`
	State    string            `json:"state"`
	People   int               `json:"people"`
	Pose     keypoint.GroupSet `json:"pose"`
	Face     keypoint.GroupSet `json:"face"`
	Hands    keypoint.GroupSet `json:"hands"`
	Recorded bool              `json:"recorded"`
}

func TestAPI_DetectAndFrameWorkflow(t *testing.T) {
	sess, _ := newTestSession(t)
	srv := New(Config{Session: sess, Store: sess.Store()})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	// 1. Detect all enabled stages and record
	resp, err := client.Post(ts.URL+"/api/detect?record=1&source=upload.png", "image/png", bytes.NewReader(encodedImage(t, 640, 480)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detected detectResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detected))
	resp.Body.Close()

	assert.Equal(t, "face_and_hands_done", detected.State)
	assert.Equal(t, 1, detected.People)
	assert.True(t, detected.Recorded)
	require.Len(t, detected.Pose, 1)
	require.Len(t, detected.Hands, 2)
	neck := detected.Pose[0].Instances[0][keypoint.COCO.Part("Neck")]
	assert.InDelta(t, 320, neck.X, 0.5)

	// 2. List frames
	resp, err = client.Get(ts.URL + "/api/frames")
	require.NoError(t, err)
	var listed struct {
		Frames []struct {
			ID     string   `json:"id"`
			Source string   `json:"source"`
			Stages []string `json:"stages"`
		} `json:"frames"`
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Frames, 1)
	assert.Equal(t, 1, listed.Total)
	assert.Equal(t, detected.ID, listed.Frames[0].ID)
	assert.Equal(t, "upload.png", listed.Frames[0].Source)
	assert.Equal(t, []string{"pose", "face", "hands"}, listed.Frames[0].Stages)

	// 3. Get the snapshot back with keypoints
	resp, err = client.Get(ts.URL + "/api/frames/" + detected.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap struct {
		Pose  keypoint.GroupSet `json:"pose"`
		Hands keypoint.GroupSet `json:"hands"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, detected.Pose, snap.Pose)
	assert.Equal(t, detected.Hands, snap.Hands)

	// 4. Delete it
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/frames/"+detected.ID, nil)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// 5. Verify deleted
	resp, err = client.Get(ts.URL + "/api/frames/" + detected.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DetectOptions(t *testing.T) {
	sess, m := newTestSession(t)
	srv := New(Config{Session: sess, Store: sess.Store()})
	img := encodedImage(t, 320, 240)

	post := func(query string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/detect"+query, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec
	}

	t.Run("empty stages runs pose only", func(t *testing.T) {
		rec := post("?stages=", img)
		require.Equal(t, http.StatusOK, rec.Code)
		var res detectResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
		assert.Equal(t, "pose_done", res.State)
		assert.Nil(t, res.Face)
		assert.False(t, res.Recorded)
	})

	t.Run("single stage", func(t *testing.T) {
		rec := post("?stages=hand", img)
		require.Equal(t, http.StatusOK, rec.Code)
		var res detectResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
		assert.Equal(t, "hands_done", res.State)
	})

	t.Run("jpeg output", func(t *testing.T) {
		rec := post("?format=jpeg", img)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Header().Get("X-Frame-Id"))

		out, err := gocv.IMDecode(rec.Body.Bytes(), gocv.IMReadColor)
		require.NoError(t, err)
		defer out.Close()
		assert.Equal(t, 320, out.Cols())
		assert.Equal(t, 240, out.Rows())
	})

	errorCases := []struct {
		name   string
		query  string
		body   []byte
		status int
	}{
		{"unknown stage", "?stages=feet", img, http.StatusBadRequest},
		{"bad format", "?format=gif", img, http.StatusBadRequest},
		{"empty body", "", nil, http.StatusBadRequest},
		{"garbage body", "", []byte("not an image"), http.StatusBadRequest},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(tt.query, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	t.Run("inference failure", func(t *testing.T) {
		m.SetError(engine.StagePose, errors.New("engine gone"))
		defer m.SetError(engine.StagePose, nil)
		rec := post("", img)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "engine gone")
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/detect", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestAPI_FeatureDisabled(t *testing.T) {
	cfg := wrapper.DefaultConfig()
	cfg.ModelFolder = t.TempDir()
	cfg.WithFace = false

	m := engine.NewMockEngine()
	m.SetPose(engine.StandingFigure(keypoint.COCO, image.Pt(40, 30), 0))
	w, err := wrapper.New(cfg, m.Open())
	require.NoError(t, err)
	sess := app.NewSession(w, nil, nil)
	defer sess.Close()

	srv := New(Config{Session: sess})
	req := httptest.NewRequest(http.MethodPost, "/api/detect?stages=face", bytes.NewReader(encodedImage(t, 64, 48)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPI_FramesListLimit(t *testing.T) {
	sess, _ := newTestSession(t)
	srv := New(Config{Store: sess.Store()})

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer img.Close()
	for i := 0; i < 3; i++ {
		_, err := sess.Detect(img, app.DetectOptions{Record: true})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/frames?limit=2", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Frames []json.RawMessage `json:"frames"`
		Total  int               `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	assert.Len(t, listed.Frames, 2)
	assert.Equal(t, 3, listed.Total)

	req = httptest.NewRequest(http.MethodGet, "/api/frames?limit=-1", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_KeypointsWebSocket(t *testing.T) {
	sess, _ := newTestSession(t)
	ts := httptest.NewServer(New(Config{Session: sess}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/keypoints"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return sess.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()
	res, err := sess.Detect(img, app.DetectOptions{})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got detectResponse
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, "pose_done", got.State)

	conn.Close()
	require.Eventually(t, func() bool { return sess.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestAPI_Stream(t *testing.T) {
	sess, _ := newTestSession(t)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()
	live := app.NewLive(sess, app.LiveConfig{Source: capture.NewMockSource([]*gocv.Mat{&frame}, true)}, nil)
	require.NoError(t, live.Start())
	defer live.Stop()

	ts := httptest.NewServer(New(Config{Session: sess, Live: live}))
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)
}
