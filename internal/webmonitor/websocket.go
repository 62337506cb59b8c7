package webmonitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/face-overlay/pkg/types"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
)

// upgrader accepts viewers from any origin; the page may be served through a proxy
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS pushes overlay events to the viewer and reads its display size
// reports. Several viewers may report; the last report wins.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	id, eventCh := s.overlays.Subscribe()
	defer s.overlays.Unsubscribe(id)
	s.log.Info("Viewer #%d connected", id)

	done := make(chan struct{})
	defer close(done)
	go s.wsWriter(conn, eventCh, done)

	conn.SetReadLimit(wsReadLimit)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("Viewer #%d disconnected normally", id)
			} else {
				s.log.Debug("Viewer #%d disconnected: %v", id, err)
			}
			return
		}

		var msg resizeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("Viewer #%d sent malformed message: %v", id, err)
			continue
		}
		switch msg.Type {
		case "resize":
			size := types.Size{Width: msg.Width, Height: msg.Height}
			if size.Empty() {
				continue
			}
			s.canvas.SetDisplaySize(size)
			s.log.Debug("Viewer #%d display %v", id, size)
		default:
			s.log.Debug("Viewer #%d sent unknown message type %q", id, msg.Type)
		}
	}
}

// wsWriter is the only goroutine writing to conn
func (s *Server) wsWriter(conn *websocket.Conn, eventCh <-chan *SerializedEvent, done <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	defer conn.Close() // unblocks the reader when we leave first

	write := func(kind int, data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(kind, data)
	}

	if latest, _, _ := s.monitor.Snapshot(); latest != nil {
		if se, err := serializeOverlay(*latest); err == nil {
			if err := write(websocket.TextMessage, se.JSONData); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-eventCh:
			if !ok {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := write(websocket.TextMessage, event.JSONData); err != nil {
				s.log.Debug("Error sending overlay: %v", err)
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
