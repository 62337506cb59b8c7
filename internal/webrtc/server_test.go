package webrtc

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/internal/overlay"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

func TestHandleOfferRejectsGarbage(t *testing.T) {
	s := NewServer(Options{})
	defer s.Close()

	if _, err := s.HandleOffer([]byte("{")); err == nil {
		t.Fatal("malformed JSON accepted")
	}
	if _, err := s.HandleOffer([]byte(`{"type":"answer","sdp":"v=0"}`)); err == nil {
		t.Fatal("answer accepted as an offer")
	}
}

func TestHandleOfferMaxClients(t *testing.T) {
	s := NewServer(Options{MaxClients: 1})
	s.clients["busy"] = &Client{id: "busy"}

	offer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	_, err := s.HandleOffer(offer)
	if !errors.Is(err, ErrMaxClients) {
		t.Fatalf("err = %v, want ErrMaxClients", err)
	}
}

func TestPublishWithoutClientsIsNoop(t *testing.T) {
	s := NewServer(Options{})
	s.PublishOverlay(overlay.Event{Seq: 1})
	if s.ClientCount() != 0 || len(s.ClientStats()) != 0 {
		t.Fatal("unexpected clients")
	}
}

// TestOverlayChannelDelivers runs a pion viewer in-process over loopback.
func TestOverlayChannelDelivers(t *testing.T) {
	m := metrics.New()
	s := NewServer(Options{IncludeLoopback: true, Metrics: m})
	defer s.Close()

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	viewer, err := webrtc.NewAPI(webrtc.WithSettingEngine(se)).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer viewer.Close()

	ordered := false
	retransmits := uint16(0)
	dc, err := viewer.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &retransmits})
	if err != nil {
		t.Fatal(err)
	}
	opened := make(chan struct{})
	received := make(chan []byte, 4)
	dc.OnOpen(func() { close(opened) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { received <- msg.Data })

	offer, err := viewer.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(viewer)
	if err := viewer.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gathered

	offerJSON, _ := json.Marshal(viewer.LocalDescription())
	answerJSON, err := s.HandleOffer(offerJSON)
	if err != nil {
		t.Fatal(err)
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(answerJSON, &answer); err != nil {
		t.Fatal(err)
	}
	if err := viewer.SetRemoteDescription(answer); err != nil {
		t.Fatal(err)
	}
	if m.WebRTCClients.Load() != 1 {
		t.Fatalf("webrtc clients = %d", m.WebRTCClients.Load())
	}

	select {
	case <-opened:
	case <-time.After(10 * time.Second):
		t.Skip("no usable local ICE path in this environment")
	}

	ev := overlay.Event{SessionID: "s", Seq: 9, Capture: types.Size{Width: 640, Height: 360}}
	deadline := time.After(5 * time.Second)
	for {
		// the server side marks the channel open slightly after the viewer does
		s.PublishOverlay(ev)
		select {
		case data := <-received:
			num, typ, n := protowire.ConsumeTag(data)
			if n < 0 || num != 1 || typ != protowire.BytesType {
				t.Fatalf("first field = %d/%d", num, typ)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("overlay never arrived")
		}
	}
}
