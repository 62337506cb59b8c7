package config

import (
	"flag"
	"strings"
)

type sources struct {
	file string
	env  string
}

func newFlagSet(name string, cfg *Config, src *sources) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&src.file, "config", src.file, "YAML config file")
	fs.StringVar(&src.env, "env", src.env, "dotenv file")

	fs.StringVar(&cfg.HTTP.Addr, "http", cfg.HTTP.Addr, "HTTP server address")
	fs.StringVar(&cfg.HTTP.MetricsAddr, "metrics", cfg.HTTP.MetricsAddr, "Metrics server address (empty disables)")
	fs.IntVar(&cfg.HTTP.DisplayFPS, "display-fps", cfg.HTTP.DisplayFPS, "Composite MJPEG frame rate")

	fs.IntVar(&cfg.Session.CaptureWidth, "capture-width", cfg.Session.CaptureWidth, "Width of frames sent to the detector")
	fs.IntVar(&cfg.Session.TickIntervalMS, "tick-ms", cfg.Session.TickIntervalMS, "Capture interval in milliseconds")
	fs.BoolVar(&cfg.Session.AttributeEnrichment, "attributes", cfg.Session.AttributeEnrichment, "Request age/hair/eye attributes")

	fs.StringVar(&cfg.Camera.Backend, "camera", cfg.Camera.Backend, "Camera backend (testpattern, gstreamer, screen, mjpeg, shm)")
	fs.StringVar(&cfg.Camera.Device, "device", cfg.Camera.Device, "V4L2 device for the gstreamer backend")
	fs.StringVar(&cfg.Camera.Pipeline, "pipeline", cfg.Camera.Pipeline, "GStreamer launch string (overrides device/url)")
	fs.StringVar(&cfg.Camera.URL, "camera-url", cfg.Camera.URL, "RTSP or MJPEG camera URL")
	fs.StringVar(&cfg.Camera.ShmName, "shm", cfg.Camera.ShmName, "Shared memory frame buffer name")

	fs.StringVar(&cfg.Detector.Kind, "detector", cfg.Detector.Kind, "Detector (http, cascade)")
	fs.StringVar(&cfg.Detector.APIURL, "api", cfg.Detector.APIURL, "Detection service base URL")
	fs.IntVar(&cfg.Detector.TimeoutMS, "api-timeout-ms", cfg.Detector.TimeoutMS, "Detection request timeout in milliseconds")
	fs.StringVar(&cfg.Detector.CascadePath, "cascade", cfg.Detector.CascadePath, "Haar cascade XML for the cascade detector")

	fs.StringVar(&cfg.Encoder.Format, "format", cfg.Encoder.Format, "Upload format (png, jpeg)")

	fs.StringVar(&cfg.MQTT.Broker, "mqtt", cfg.MQTT.Broker, "MQTT broker host:port (empty disables)")
	fs.StringVar(&cfg.MQTT.Topic, "mqtt-topic", cfg.MQTT.Topic, "MQTT topic for overlay events")

	fs.Func("stun", "STUN server URLs (comma-separated)", func(v string) error {
		cfg.WebRTC.STUNServers = splitList(v)
		return nil
	})
	fs.IntVar(&cfg.WebRTC.MaxClients, "max-clients", cfg.WebRTC.MaxClients, "Maximum WebRTC clients")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&cfg.Log.Color, "log-color", cfg.Log.Color, "Enable colored log output")

	return fs
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional dotenv file plus FACECAM_* variables, and finally command-line
// flags. Later sources win.
func Load(name string, args []string) (Config, error) {
	src := sources{env: ".env"}

	// First pass only discovers -config and -env.
	scratch := DefaultConfig()
	if err := newFlagSet(name, &scratch, &src).Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if src.file != "" {
		if err := LoadFile(src.file, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := LoadDotEnv(src.env); err != nil {
		return Config{}, err
	}
	ApplyEnv(&cfg)

	if err := newFlagSet(name, &cfg, &src).Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Detector.APIURL = strings.TrimSpace(cfg.Detector.APIURL)

	return cfg, cfg.Validate()
}
