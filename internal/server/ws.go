package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/posewrap/internal/app"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// KeypointsHandler pushes every detection result of the session to
// WebSocket clients as JSON text messages.
type KeypointsHandler struct {
	session *app.Session
	log     *zap.Logger
}

// NewKeypointsHandler creates a KeypointsHandler over s.
func NewKeypointsHandler(s *app.Session, log *zap.Logger) *KeypointsHandler {
	return &KeypointsHandler{session: s, log: log}
}

// ServeHTTP upgrades the connection and streams results until the client
// goes away or the session closes.
func (h *KeypointsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	results, cancel := h.session.Subscribe()
	defer cancel()

	// Drain client messages so close frames are seen
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case res, ok := <-results:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			msg, err := json.Marshal(res)
			if err != nil {
				h.log.Warn("marshal result", zap.Error(err))
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
