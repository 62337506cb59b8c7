package webmonitor

import (
	"time"

	"github.com/dj-oyu/face-overlay/internal/config"
)

// Config defines the runtime configuration for the viewer server.
type Config struct {
	Addr           string
	DisplayFPS     int // composite MJPEG rate
	JPEGQuality    int
	StatusInterval time.Duration
	BackendTimeout time.Duration // per status/profile lookup against the detection service
	HistorySize    int
}

// DefaultConfig returns the viewer defaults
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		DisplayFPS:     15,
		JPEGQuality:    80,
		StatusInterval: 2 * time.Second,
		BackendTimeout: 2 * time.Second,
		HistorySize:    8,
	}
}

// FromConfig maps the http section of the service config
func FromConfig(h config.HTTPConfig) Config {
	cfg := DefaultConfig()
	if h.Addr != "" {
		cfg.Addr = h.Addr
	}
	if h.DisplayFPS > 0 {
		cfg.DisplayFPS = h.DisplayFPS
	}
	if h.JPEGQuality > 0 {
		cfg.JPEGQuality = h.JPEGQuality
	}
	if d := h.StatusInterval(); d > 0 {
		cfg.StatusInterval = d
	}
	return cfg
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DisplayFPS <= 0 {
		c.DisplayFPS = def.DisplayFPS
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = def.BackendTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}
