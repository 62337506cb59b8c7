package emitter

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/internal/overlay"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// fakeClient records publishes; unimplemented methods panic through the nil
// embedded interface.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	topics    []string
	payloads  [][]byte
	connected bool
	dropped   bool
}

func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) Disconnect(uint)   { c.dropped = true }
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return doneToken{}
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestPublishOverlay(t *testing.T) {
	m := metrics.New()
	e := New(Options{Topic: "home/door/faces", Metrics: m})
	client := &fakeClient{connected: true}
	e.start(client)

	e.PublishOverlay(overlay.Event{
		SessionID: "s1",
		Seq:       3,
		Capture:   types.Size{Width: 640, Height: 360},
		Annotations: []overlay.Annotation{{
			Box:   types.CaptureBox{Top: 10, Right: 110, Bottom: 60, Left: 10},
			Label: "alice",
		}},
	})

	deadline := time.Now().Add(time.Second)
	for client.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	e.Close()

	if client.count() != 1 || client.topics[0] != "home/door/faces" {
		t.Fatalf("published %d to %v", client.count(), client.topics)
	}
	var got overlay.Event
	if err := json.Unmarshal(client.payloads[0], &got); err != nil {
		t.Fatal(err)
	}
	if got.Seq != 3 || got.Annotations[0].Label != "alice" {
		t.Fatalf("payload = %+v", got)
	}
	if m.MQTTPublished.Load() != 1 {
		t.Fatalf("published metric = %d", m.MQTTPublished.Load())
	}
	if !client.dropped {
		t.Fatal("client not disconnected on Close")
	}

	// after Close events are ignored
	e.PublishOverlay(overlay.Event{Seq: 4})
	e.Close()
}

func TestPublishWhileDisconnectedCountsError(t *testing.T) {
	m := metrics.New()
	e := New(Options{Metrics: m})
	e.start(&fakeClient{connected: false})

	e.PublishOverlay(overlay.Event{Seq: 1})
	deadline := time.Now().Add(time.Second)
	for m.MQTTErrors.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	e.Close()
	if m.MQTTErrors.Load() != 1 || m.MQTTPublished.Load() != 0 {
		t.Fatalf("errors=%d published=%d", m.MQTTErrors.Load(), m.MQTTPublished.Load())
	}
}

func TestBrokerURL(t *testing.T) {
	for in, want := range map[string]string{
		"localhost:1883":     "tcp://localhost:1883",
		"ws://broker:9001":   "ws://broker:9001",
		"tcp://10.0.0.2:1883": "tcp://10.0.0.2:1883",
	} {
		if got := BrokerURL(in); got != want {
			t.Errorf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
