// Package webrtc pushes session events to browsers over a WebRTC data channel.
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

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

var log = logger.For("WebRTC")

// ErrTooManyClients is returned when the client limit is reached.
var ErrTooManyClients = errors.New("maximum clients reached")

const (
	// EventsLabel is the label of the pre-negotiated events channel. Browsers create it with
	// {negotiated: true, id: EventsChannelID} before making the offer.
	EventsLabel     = "events"
	EventsChannelID = uint16(0)

	clientBuffer = 32
)

// Client represents a connected WebRTC client
type Client struct {
	id            string
	peerConn      *webrtc.PeerConnection
	send          func(string) error
	msgChan       chan string
	closeChan     chan struct{}
	mu            sync.Mutex
	eventsSent    uint64
	eventsDropped uint64
	// gone is set once the peer connection has ended, even before the client is registered.
	gone atomic.Bool
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	pending    int // offers being negotiated, guarded by clientsMu
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(2 * time.Second)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	if m == nil {
		m = metrics.New()
	}

	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: maxClients,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if !s.reserve() {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}
	admitted := false
	defer func() {
		if !admitted {
			s.release()
		}
	}()

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	negotiated := true
	id := EventsChannelID
	dc, err := peerConn.CreateDataChannel(EventsLabel, &webrtc.DataChannelInit{Negotiated: &negotiated, ID: &id})
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	client := newClient(uuid.NewString(), dc.SendText)
	client.peerConn = peerConn

	dc.OnOpen(func() {
		log.Info("Client %s events channel open", client.id)
		go s.sendEvents(client)
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			log.Info("Client %s connection lost (%s), removing...", client.id, state.String())
			client.gone.Store(true)
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

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	admitted = true
	if !s.admit(client) {
		peerConn.Close()
		return nil, fmt.Errorf("client %s disconnected during negotiation", client.id)
	}
	log.Info("Client %s connected", client.id)
	return answerJSON, nil
}

func newClient(id string, send func(string) error) *Client {
	return &Client{
		id:        id,
		send:      send,
		msgChan:   make(chan string, clientBuffer),
		closeChan: make(chan struct{}),
	}
}

// reserve claims a client slot for an offer in negotiation.
func (s *Server) reserve() bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if len(s.clients)+s.pending >= s.maxClients {
		return false
	}
	s.pending++
	return true
}

func (s *Server) release() {
	s.clientsMu.Lock()
	s.pending--
	s.clientsMu.Unlock()
}

// admit turns a reserved slot into a registered client. A client whose connection already ended is dropped.
func (s *Server) admit(c *Client) bool {
	s.clientsMu.Lock()
	s.pending--
	if c.gone.Load() {
		s.clientsMu.Unlock()
		return false
	}
	s.clients[c.id] = c
	s.clientsMu.Unlock()
	s.metrics.StreamClients.Add(1)
	return true
}



// Emit sends ev as JSON to every connected client. Slow clients drop events.
func (s *Server) Emit(ev types.SessionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := string(payload)

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		client.mu.Lock()
		select {
		case client.msgChan <- msg:
			client.eventsSent++
		default:
			client.eventsDropped++
		}
		client.mu.Unlock()
	}
	return nil
}

func (s *Server) sendEvents(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case msg := <-client.msgChan:
			if err := client.send(msg); err != nil {
				log.Warn("Error sending event to client %s: %v", client.id, err)
				return
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	close(client.closeChan)
	if client.peerConn != nil {
		client.peerConn.Close()
	}
	s.metrics.StreamClients.Add(-1)

	client.mu.Lock()
	defer client.mu.Unlock()
	log.Info("Client %s disconnected (sent: %d, dropped: %d)", clientID, client.eventsSent, client.eventsDropped)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns stats for all clients
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64, len(s.clients))
	for id, client := range s.clients {
		client.mu.Lock()
		stats[id] = map[string]uint64{
			"events_sent":    client.eventsSent,
			"events_dropped": client.eventsDropped,
		}
		client.mu.Unlock()
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
