package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment override
const EnvPrefix = "FACECAM_"

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays FACECAM_* environment variables onto cfg
func ApplyEnv(cfg *Config) {
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.MetricsAddr = getEnv("METRICS_ADDR", cfg.HTTP.MetricsAddr)
	cfg.HTTP.DisplayFPS = getEnvAsInt("DISPLAY_FPS", cfg.HTTP.DisplayFPS)

	cfg.Session.CaptureWidth = getEnvAsInt("CAPTURE_WIDTH", cfg.Session.CaptureWidth)
	cfg.Session.TickIntervalMS = getEnvAsInt("TICK_INTERVAL_MS", cfg.Session.TickIntervalMS)
	cfg.Session.AttributeEnrichment = getEnvAsBool("ATTRIBUTE_ENRICHMENT", cfg.Session.AttributeEnrichment)

	cfg.Camera.Backend = getEnv("CAMERA_BACKEND", cfg.Camera.Backend)
	cfg.Camera.Device = getEnv("CAMERA_DEVICE", cfg.Camera.Device)
	cfg.Camera.Pipeline = getEnv("CAMERA_PIPELINE", cfg.Camera.Pipeline)
	cfg.Camera.URL = getEnv("CAMERA_URL", cfg.Camera.URL)
	cfg.Camera.ShmName = getEnv("CAMERA_SHM", cfg.Camera.ShmName)

	cfg.Detector.Kind = getEnv("DETECTOR", cfg.Detector.Kind)
	cfg.Detector.APIURL = getEnv("API_URL", cfg.Detector.APIURL)
	cfg.Detector.TimeoutMS = getEnvAsInt("API_TIMEOUT_MS", cfg.Detector.TimeoutMS)
	cfg.Detector.CascadePath = getEnv("CASCADE_PATH", cfg.Detector.CascadePath)

	cfg.Encoder.Format = getEnv("ENCODER_FORMAT", cfg.Encoder.Format)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", cfg.MQTT.Topic)

	if v := getEnv("STUN_SERVERS", ""); v != "" {
		cfg.WebRTC.STUNServers = splitList(v)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Color = getEnvAsBool("LOG_COLOR", cfg.Log.Color)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
