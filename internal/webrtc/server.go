// Package webrtc delivers overlay events to browsers over an unreliable,
// unordered data channel. The browser opens the channel labelled "overlay";
// the server only answers and sends.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/internal/overlay"
)

// ChannelLabel is the data channel the viewer must open
const ChannelLabel = "overlay"

// ErrMaxClients is returned by HandleOffer when the viewer limit is reached
var ErrMaxClients = errors.New("maximum clients reached")

// Options configure the Server
type Options struct {
	STUNServers     []string
	MaxClients      int
	IncludeLoopback bool // offer loopback candidates, for same-host viewers
	Metrics         *metrics.Metrics
	Log             logger.Module
}

// Client represents a connected WebRTC viewer
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	channel   atomic.Pointer[webrtc.DataChannel]
	eventChan chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	eventsSent    atomic.Uint64
	eventsDropped atomic.Uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
	log        logger.Module
}

// NewServer creates a new WebRTC server
func NewServer(opts Options) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(opts.STUNServers))
	for _, url := range opts.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = 10
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(2 * time.Second)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	settingsEngine.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	// viewers may offer a recvonly video section next to the data channel
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		opts.Log.Error("Failed to register codecs: %v", err)
	}

	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: opts.MaxClients,
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(settingsEngine),
			webrtc.WithMediaEngine(mediaEngine),
		),
		metrics: opts.Metrics,
		log:     opts.Log,
	}
}

// HandleOffer answers a WebRTC offer. The answer carries every ICE candidate,
// so no trickle endpoint is needed.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, errors.New("failed to parse offer: not an offer")
	}

	if s.ClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrMaxClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		eventChan: make(chan []byte, 8),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			s.log.Debug("Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.channel.Store(dc)
			s.log.Info("Client %s overlay channel open", client.id)
		})
		dc.OnClose(func() {
			client.channel.Store(nil)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.log.Info("Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete
	s.log.Debug("ICE gathering complete for client %s", client.id)

	s.clientsMu.Lock()
	if len(s.clients) >= s.maxClients {
		s.clientsMu.Unlock()
		peerConn.Close()
		return nil, fmt.Errorf("%w (%d)", ErrMaxClients, s.maxClients)
	}
	s.clients[client.id] = client
	s.metrics.WebRTCClients.Store(int64(len(s.clients)))
	s.clientsMu.Unlock()
	s.metrics.TotalViewers.Add(1)

	go s.sendEvents(client)
	s.log.Info("Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, errors.New("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// PublishOverlay sends ev to every viewer as a protobuf message. It never blocks.
func (s *Server) PublishOverlay(ev overlay.Event) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	if len(s.clients) == 0 {
		return
	}

	data := ev.MarshalProto()
	for _, client := range s.clients {
		select {
		case client.eventChan <- data:
		default:
			client.eventsDropped.Add(1)
		}
	}
}

func (s *Server) sendEvents(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case data := <-client.eventChan:
			dc := client.channel.Load()
			if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
				client.eventsDropped.Add(1)
				continue
			}
			if err := dc.Send(data); err != nil {
				s.log.Debug("Error sending overlay to client %s: %v", client.id, err)
				client.eventsDropped.Add(1)
				continue
			}
			client.eventsSent.Add(1)
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
		s.metrics.WebRTCClients.Store(int64(len(s.clients)))
	}
	s.clientsMu.Unlock()
	if !exists {
		return
	}

	client.closeOnce.Do(func() { close(client.closeChan) })
	_ = client.peerConn.Close()

	s.log.Info("Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.eventsSent.Load(), client.eventsDropped.Load())
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns per-client delivery counters
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64, len(s.clients))
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"events_sent":    client.eventsSent.Load(),
			"events_dropped": client.eventsDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
