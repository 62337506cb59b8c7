package webmonitor

import (
	"context"

	"github.com/dj-oyu/face-overlay/internal/detection"
	"github.com/dj-oyu/face-overlay/internal/overlay"
	"github.com/dj-oyu/face-overlay/internal/session"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

// Backend is the detection service surface the viewer reads for its status
// panel, gallery and enrollment buttons. *detection.Client satisfies it.
type Backend interface {
	Ping(ctx context.Context) (string, error)
	Health(ctx context.Context) (detection.Health, error)
	Profiles(ctx context.Context) (detection.ProfileList, error)
	Annotate(ctx context.Context, frame *types.Payload) ([]byte, error)
	AddFace(ctx context.Context, name string, frame *types.Payload) error
	ReloadKnownFaces(ctx context.Context) (int, error)
}

// SessionView is what the viewer needs from the running capture session
type SessionView interface {
	Stats() session.Stats
	Snapshot() (*types.Payload, error)
}

// OfferHandler answers WebRTC offers
type OfferHandler interface {
	HandleOffer(offer []byte) ([]byte, error)
}

// BackendStatus mirrors the status panel: service state and known faces.
// KnownFaces is a number, or "?" when /health could not be read.
type BackendStatus struct {
	Status     string   `json:"status"`
	KnownFaces any      `json:"known_faces_count"`
	Names      []string `json:"names"`
}

// ViewerStats counts connected viewers per transport
type ViewerStats struct {
	MJPEG  int64 `json:"mjpeg"`
	Events int64 `json:"events"`
	WebRTC int64 `json:"webrtc"`
}

// Status is the payload for /api/status and /api/status/stream
type Status struct {
	Backend        BackendStatus   `json:"backend"`
	Session        *session.Stats  `json:"session"`
	Display        types.Size      `json:"display"`
	Viewers        ViewerStats     `json:"viewers"`
	LatestOverlay  *overlay.Event  `json:"latest_overlay"`
	OverlayHistory []overlay.Event `json:"overlay_history"`
	Timestamp      float64         `json:"timestamp"`
}

// resizeMessage is sent by viewers over /ws when their canvas changes size
type resizeMessage struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}
