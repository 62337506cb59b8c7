package webmonitor

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/face-overlay/internal/camera"
	"github.com/dj-oyu/face-overlay/internal/logger"
)

const (
	mjpegIdleFrame  = 5 * time.Second
	sseKeepalive    = 30 * time.Second
	contentProtobuf = "application/protobuf"
	contentJSON     = "application/json"
)

var (
	blankOnce sync.Once
	blankData []byte
)

// blankJPEG is the colour-bar card shown while no camera is bound
func blankJPEG() []byte {
	blankOnce.Do(func() {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, camera.PatternFrame(640, 360, 0), &jpeg.Options{Quality: 75}); err == nil {
			blankData = buf.Bytes()
		}
	})
	return blankData
}

// wantsProtobuf reports whether the Accept header prefers protobuf events
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// streamMJPEGFromChannel streams composites from a fan-out channel until the
// client leaves or the channel closes.
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte, log logger.Module) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	idle := time.NewTimer(0) // first part goes out immediately
	defer idle.Stop()

	for {
		var jpegData []byte
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			jpegData = data
		case <-idle.C:
			jpegData = blankJPEG()
		}
		idle.Reset(mjpegIdleFrame)
		if len(jpegData) == 0 {
			continue
		}

		if err := writeMJPEGPart(w, jpegData); err != nil {
			log.Debug("Client disconnected during write: %v", err)
			return
		}
		flusher.Flush()
	}
}

func writeMJPEGPart(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// streamEvents writes pre-serialized events to an SSE client. pick selects
// the representation; first, when non-nil, is sent before anything else.
func streamEvents[T any](ctx context.Context, w http.ResponseWriter, eventCh <-chan T, format string, first []byte, pick func(T) []byte, log logger.Module) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Format", format)
	w.WriteHeader(http.StatusOK)

	if first != nil {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", first); err != nil {
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", pick(event)); err != nil {
				log.Debug("Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				log.Debug("Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
