// Package emitter publishes overlay events to an MQTT broker for consumers
// that are not viewers: home automation, loggers, door bells.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/internal/overlay"
)

// Options configure the MQTT emitter
type Options struct {
	Broker   string // host:port or a full tcp:// / ws:// URL
	Topic    string
	ClientID string
	QoS      byte
	Metrics  *metrics.Metrics
	Log      logger.Module
}

// MQTT publishes every overlay event as JSON on Topic. Publishing happens on
// its own goroutine; when the broker is slow events are dropped rather than
// holding up the capture loop.
type MQTT struct {
	opts   Options
	client mqtt.Client

	queue chan overlay.Event
	done  chan struct{}
	wg    sync.WaitGroup

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// New creates an emitter. Call Connect before publishing.
func New(opts Options) *MQTT {
	if opts.Topic == "" {
		opts.Topic = "facecam/overlay"
	}
	if opts.ClientID == "" {
		opts.ClientID = "facecam"
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &MQTT{
		opts:  opts,
		queue: make(chan overlay.Event, 16),
		done:  make(chan struct{}),
	}
}

// BrokerURL normalises a bare host:port into a tcp:// URL
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect dials the broker with auto-reconnect enabled and starts the
// publishing goroutine.
func (e *MQTT) Connect(ctx context.Context) error {
	if e.opts.Broker == "" {
		return errors.New("mqtt broker is required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(e.opts.Broker))
	opts.SetClientID(e.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.opts.Log.Info("Connected to %s (client_id=%s)", e.opts.Broker, e.opts.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.opts.Log.Warn("Connection lost, will auto-reconnect: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s: timeout", e.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", e.opts.Broker, err)
	}

	e.start(client)
	return nil
}

// start begins publishing through client
func (e *MQTT) start(client mqtt.Client) {
	e.client = client
	e.setConnected(client.IsConnected())
	e.wg.Add(1)
	go e.run()
}

// PublishOverlay implements session.Publisher
func (e *MQTT) PublishOverlay(ev overlay.Event) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.opts.Metrics.MQTTErrors.Add(1)
		e.opts.Log.Debug("Queue full, dropped overlay %d", ev.Seq)
	}
}

func (e *MQTT) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case ev := <-e.queue:
			if err := e.publish(ev); err != nil {
				e.opts.Metrics.MQTTErrors.Add(1)
				e.opts.Log.Debug("Publish overlay %d failed: %v", ev.Seq, err)
				continue
			}
			e.opts.Metrics.MQTTPublished.Add(1)
		}
	}
}

func (e *MQTT) publish(ev overlay.Event) error {
	if !e.isConnected() {
		return errors.New("mqtt not connected")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal overlay: %w", err)
	}
	token := e.client.Publish(e.opts.Topic, e.opts.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return errors.New("publish timeout")
	}
	return token.Error()
}

// Close stops publishing and disconnects
func (e *MQTT) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
	if e.client != nil {
		e.client.Disconnect(250)
	}
	e.opts.Log.Info("Closed (published=%d, errors=%d)", e.opts.Metrics.MQTTPublished.Load(), e.opts.Metrics.MQTTErrors.Load())
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTT) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
