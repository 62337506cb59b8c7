package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Camera backends
const (
	BackendTestPattern = "testpattern"
	BackendGStreamer   = "gstreamer"
	BackendScreen      = "screen"
	BackendMJPEG       = "mjpeg"
	BackendSHM         = "shm"
)

// Detector kinds
const (
	DetectorHTTP    = "http"
	DetectorCascade = "cascade"
)

// Config is the complete runtime configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Session  SessionConfig  `yaml:"session"`
	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	WebRTC   WebRTCConfig   `yaml:"webrtc"`
	Log      LogConfig      `yaml:"log"`
}

// HTTPConfig controls the viewer and metrics listeners
type HTTPConfig struct {
	Addr             string `yaml:"addr"`
	MetricsAddr      string `yaml:"metrics_addr"` // empty disables the metrics listener
	DisplayFPS       int    `yaml:"display_fps"`  // composite MJPEG rate
	JPEGQuality      int    `yaml:"jpeg_quality"`
	StatusIntervalMS int    `yaml:"status_interval_ms"`
}

// SessionConfig holds the capture loop options
type SessionConfig struct {
	CaptureWidth        int  `yaml:"capture_width"`
	TickIntervalMS      int  `yaml:"tick_interval_ms"`
	AttributeEnrichment bool `yaml:"attribute_enrichment"`
	MetadataTimeoutMS   int  `yaml:"metadata_timeout_ms"`
	DisplayWidth        int  `yaml:"display_width"`  // overlay size until a viewer reports one
	DisplayHeight       int  `yaml:"display_height"`
}

// CameraConfig selects and parameterises the frame source
type CameraConfig struct {
	Backend  string `yaml:"backend"`
	Device   string `yaml:"device"`   // v4l2 device for gstreamer
	Pipeline string `yaml:"pipeline"` // full gstreamer launch string, overrides device/url
	URL      string `yaml:"url"`      // rtsp:// for gstreamer, http:// for mjpeg
	FPS      int    `yaml:"fps"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	ShmName  string `yaml:"shm_name"`
}

// DetectorConfig selects the face detector
type DetectorConfig struct {
	Kind         string `yaml:"kind"`
	APIURL       string `yaml:"api_url"`
	TimeoutMS    int    `yaml:"timeout_ms"`
	CascadePath  string `yaml:"cascade_path"`
	MinNeighbors int    `yaml:"min_neighbors"`
}

// EncoderConfig controls the uploaded frame format
type EncoderConfig struct {
	Format  string `yaml:"format"` // png or jpeg
	Quality int    `yaml:"quality"`
}

// MQTTConfig enables overlay publication when Broker is set
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// WebRTCConfig configures the overlay data channel server
type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers"`
	MaxClients  int      `yaml:"max_clients"`
}

// LogConfig configures internal/logger
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// DefaultConfig mirrors the browser client: 640 px captures every 200 ms
// against a local detection service.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:             ":8080",
			MetricsAddr:      ":9090",
			DisplayFPS:       15,
			JPEGQuality:      80,
			StatusIntervalMS: 2000,
		},
		Session: SessionConfig{
			CaptureWidth:        640,
			TickIntervalMS:      200,
			AttributeEnrichment: false,
			MetadataTimeoutMS:   10000,
			DisplayWidth:        640,
			DisplayHeight:       360,
		},
		Camera: CameraConfig{
			Backend: BackendTestPattern,
			Device:  "/dev/video0",
			FPS:     30,
			Width:   1280,
			Height:  720,
			ShmName: "/pet_camera_mjpeg_frame",
		},
		Detector: DetectorConfig{
			Kind:         DetectorHTTP,
			APIURL:       "http://127.0.0.1:8000",
			TimeoutMS:    5000,
			CascadePath:  "data/haarcascade_frontalface_default.xml",
			MinNeighbors: 4,
		},
		Encoder: EncoderConfig{
			Format:  "png",
			Quality: 85,
		},
		MQTT: MQTTConfig{
			Topic:    "facecam/overlay",
			ClientID: "facecam",
		},
		WebRTC: WebRTCConfig{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			MaxClients:  10,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// TickInterval returns the capture period
func (s SessionConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMS) * time.Millisecond
}

// MetadataTimeout bounds the wait for stream dimensions at open
func (s SessionConfig) MetadataTimeout() time.Duration {
	return time.Duration(s.MetadataTimeoutMS) * time.Millisecond
}

// Timeout is the per-request detector deadline
func (d DetectorConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// StatusInterval is the status SSE period
func (h HTTPConfig) StatusInterval() time.Duration {
	return time.Duration(h.StatusIntervalMS) * time.Millisecond
}

// LoadFile merges a YAML file over cfg. Keys absent from the file keep
// their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Save writes cfg as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate normalises soft limits and rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Session.CaptureWidth <= 0 {
		errs = append(errs, fmt.Errorf("session.capture_width must be positive, got %d", c.Session.CaptureWidth))
	}
	if c.Session.TickIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("session.tick_interval_ms must be positive, got %d", c.Session.TickIntervalMS))
	}
	if c.Session.MetadataTimeoutMS <= 0 {
		c.Session.MetadataTimeoutMS = 10000
	}
	if c.Session.DisplayWidth <= 0 || c.Session.DisplayHeight <= 0 {
		c.Session.DisplayWidth, c.Session.DisplayHeight = 640, 360
	}

	c.Camera.Backend = strings.ToLower(c.Camera.Backend)
	switch c.Camera.Backend {
	case BackendTestPattern, BackendGStreamer, BackendScreen, BackendSHM:
	case BackendMJPEG:
		if c.Camera.URL == "" {
			errs = append(errs, errors.New("camera.url is required for the mjpeg backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown camera backend %q", c.Camera.Backend))
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = 30
	}

	c.Detector.Kind = strings.ToLower(c.Detector.Kind)
	switch c.Detector.Kind {
	case DetectorHTTP:
		if c.Detector.APIURL == "" {
			errs = append(errs, errors.New("detector.api_url is required for the http detector"))
		}
	case DetectorCascade:
		if c.Detector.CascadePath == "" {
			errs = append(errs, errors.New("detector.cascade_path is required for the cascade detector"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown detector kind %q", c.Detector.Kind))
	}
	c.Detector.APIURL = strings.TrimRight(c.Detector.APIURL, "/")
	if c.Detector.TimeoutMS <= 0 {
		c.Detector.TimeoutMS = 5000
	}
	if c.Detector.MinNeighbors <= 0 {
		c.Detector.MinNeighbors = 4
	}

	c.Encoder.Format = strings.ToLower(c.Encoder.Format)
	switch c.Encoder.Format {
	case "png", "jpeg":
	case "jpg":
		c.Encoder.Format = "jpeg"
	default:
		errs = append(errs, fmt.Errorf("unknown encoder format %q", c.Encoder.Format))
	}
	c.Encoder.Quality = clamp(c.Encoder.Quality, 1, 100)

	if c.HTTP.DisplayFPS <= 0 {
		c.HTTP.DisplayFPS = 15
	}
	c.HTTP.JPEGQuality = clamp(c.HTTP.JPEGQuality, 1, 100)
	if c.HTTP.StatusIntervalMS <= 0 {
		c.HTTP.StatusIntervalMS = 2000
	}
	if c.WebRTC.MaxClients <= 0 {
		c.WebRTC.MaxClients = 10
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "facecam/overlay"
	}

	return errors.Join(errs...)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
