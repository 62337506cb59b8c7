package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/internal/overlay"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

type testEnv struct {
	server  *Server
	http    *httptest.Server
	canvas  *overlay.Canvas
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	if opts.Canvas == nil {
		opts.Canvas = overlay.NewCanvas(types.Size{Width: 320, Height: 180})
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
		opts.Config.DisplayFPS = 50
		opts.Config.StatusInterval = 20 * time.Millisecond
	}
	s, err := NewServer(opts)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		hs.Close()
	})
	return &testEnv{server: s, http: hs, canvas: opts.Canvas, metrics: opts.Metrics}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (e *testEnv) post(t *testing.T, path, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(e.http.URL+path, contentType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

// readSSEEvent returns the first event of an SSE stream and its headers
func readSSEEvent(url, accept string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return payload
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertOverlayPayload(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireString(t, payload["session_id"], field+".session_id")
	requireNumber(t, payload["seq"], field+".seq")
	requireNumber(t, payload["timestamp"], field+".timestamp")
	requireMap(t, payload["capture"], field+".capture")
	requireMap(t, payload["display"], field+".display")
	for i, raw := range requireSlice(t, payload["annotations"], field+".annotations") {
		a := requireMap(t, raw, fmt.Sprintf("%s.annotations[%d]", field, i))
		requireString(t, a["label"], "label")
		rect := requireMap(t, a["rect"], "rect")
		requireNumber(t, rect["x"], "rect.x")
		requireNumber(t, rect["w"], "rect.w")
		requireMap(t, a["label_rect"], "label_rect")
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	backend := requireMap(t, payload["backend"], "backend")
	requireString(t, backend["status"], "backend.status")
	if backend["known_faces_count"] == nil {
		t.Fatal("backend.known_faces_count missing")
	}
	requireSlice(t, backend["names"], "backend.names")
	requireMap(t, payload["display"], "display")
	viewers := requireMap(t, payload["viewers"], "viewers")
	requireNumber(t, viewers["mjpeg"], "viewers.mjpeg")
	requireNumber(t, viewers["events"], "viewers.events")
	requireNumber(t, viewers["webrtc"], "viewers.webrtc")
	requireNumber(t, payload["timestamp"], "timestamp")

	if payload["latest_overlay"] != nil {
		assertOverlayPayload(t, requireMap(t, payload["latest_overlay"], "latest_overlay"), "latest_overlay")
	}
	for i, raw := range requireSlice(t, payload["overlay_history"], "overlay_history") {
		assertOverlayPayload(t, requireMap(t, raw, "overlay_history"), fmt.Sprintf("overlay_history[%d]", i))
	}
}
