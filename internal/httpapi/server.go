// Package httpapi serves the monitor state, the live event stream and the operator controls over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/frame"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/journal"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/monitor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/override"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/webrtc"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

// Config holds HTTP API settings.
type Config struct {
	Addr      string
	KeepAlive time.Duration // SSE keepalive comment interval
}

// DefaultConfig returns the default API settings.
func DefaultConfig() Config {
	return Config{
		Addr:      ":8082",
		KeepAlive: 30 * time.Second,
	}
}

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	ClientCount() int
}

// FrameProvider returns the most recent camera frame.
type FrameProvider interface {
	LastFrame() (frame.Frame, bool)
}

// Deps are the collaborators the API reads from and controls. Nil optional
// collaborators disable their routes with 503.
type Deps struct {
	Monitor  *monitor.Monitor
	Override *override.Store
	Journal  *journal.Journal
	WebRTC   OfferHandler
	Frames   FrameProvider
	Events   *EventBroadcaster
	Metrics  *metrics.Metrics
}

// Server serves the behavior monitor endpoints.
type Server struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// NewServer returns a configured API server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultConfig().KeepAlive
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Events == nil {
		deps.Events = NewEventBroadcaster(deps.Metrics)
	}
	return &Server{cfg: cfg, deps: deps, now: time.Now}
}

// Events returns the SSE broadcaster. Register it as an event sink.
func (s *Server) Events() *EventBroadcaster {
	return s.deps.Events
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/detections", s.handleDetections)
	mux.HandleFunc("/api/sessions/{kind}", s.handleSession)
	mux.HandleFunc("/api/events/stream", s.handleEventStream)
	mux.HandleFunc("/api/override", s.handleOverride)
	mux.HandleFunc("/api/journal/start", s.handleJournalStart)
	mux.HandleFunc("/api/journal/stop", s.handleJournalStop)
	mux.HandleFunc("/api/journal/status", s.handleJournalStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	mux.HandleFunc("/api/snapshot.jpg", s.handleSnapshot)
	mux.Handle("/metrics", s.deps.Metrics.Handler())

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	sessions := make(map[types.Kind]session.Snapshot, len(types.Kinds))
	for _, kind := range types.Kinds {
		snap, err := s.deps.Monitor.SessionSnapshot(kind, now)
		if err != nil {
			continue
		}
		sessions[kind] = snap
	}

	payload := map[string]any{
		"sessions":          sessions,
		"override":          s.deps.Monitor.Override(now),
		"last_detection_at": nil,
		"detection_count":   len(s.deps.Monitor.LastDetections()),
		"sse_clients":       s.deps.Events.ClientCount(),
		"timestamp":         float64(now.Unix()),
	}
	if at, ok := s.deps.Monitor.LastDetectionTime(); ok {
		payload["last_detection_at"] = at
	}
	if s.deps.Journal != nil {
		payload["journal"] = s.deps.Journal.Status()
	}
	if s.deps.WebRTC != nil {
		payload["webrtc_clients"] = s.deps.WebRTC.ClientCount()
	}
	writeJSON(w, payload)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	result := types.DetectionResult{Detections: s.deps.Monitor.LastDetections()}
	if at, ok := s.deps.Monitor.LastDetectionTime(); ok {
		result.Timestamp = at
	}
	writeJSON(w, result)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	kind, err := types.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusNotFound)
		return
	}
	snap, err := s.deps.Monitor.SessionSnapshot(kind, s.now())
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.deps.Events.Subscribe()
	defer s.deps.Events.Unsubscribe(id)

	streamEvents(w, r, eventCh, wantsProtobuf(r), s.cfg.KeepAlive)
}

// overrideRequest activates the override. Until wins over DurationSeconds; neither means no expiry.
type overrideRequest struct {
	Reason          string     `json:"reason"`
	DurationSeconds int64      `json:"duration_seconds"`
	Until           *time.Time `json:"until"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	if s.deps.Override == nil {
		writeJSONWithStatus(w, map[string]any{"error": "override control is not configured"}, http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.deps.Override.Snapshot(s.now()))

	case http.MethodPost:
		var req overrideRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSONWithStatus(w, map[string]any{"error": "Invalid override request"}, http.StatusBadRequest)
			return
		}
		if req.DurationSeconds < 0 {
			writeJSONWithStatus(w, map[string]any{"error": "duration_seconds must not be negative"}, http.StatusBadRequest)
			return
		}
		now := s.now()
		until := req.Until
		if until == nil && req.DurationSeconds > 0 {
			t := now.Add(time.Duration(req.DurationSeconds) * time.Second)
			until = &t
		}
		if until != nil && !until.After(now) {
			writeJSONWithStatus(w, map[string]any{"error": "override expiry is in the past"}, http.StatusBadRequest)
			return
		}
		s.deps.Override.Activate(req.Reason, until)
		writeJSON(w, s.deps.Override.Snapshot(now))

	case http.MethodDelete:
		s.deps.Override.Deactivate()
		writeJSON(w, s.deps.Override.Snapshot(s.now()))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleJournalStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Journal == nil {
		writeJSONWithStatus(w, map[string]any{"error": "journal is not configured"}, http.StatusServiceUnavailable)
		return
	}
	if err := s.deps.Journal.Start(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, journalErrorStatus(err))
		return
	}
	status := s.deps.Journal.Status()
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       status.Filename,
		"started_at": float64(status.StartTime.Unix()),
	})
}

func (s *Server) handleJournalStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Journal == nil {
		writeJSONWithStatus(w, map[string]any{"error": "journal is not configured"}, http.StatusServiceUnavailable)
		return
	}
	if err := s.deps.Journal.Stop(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, journalErrorStatus(err))
		return
	}
	status := s.deps.Journal.Status()
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       status.Filename,
		"stats":      status,
		"stopped_at": float64(s.now().Unix()),
	})
}

func journalErrorStatus(err error) int {
	if errors.Is(err, journal.ErrAlreadyRecording) || errors.Is(err, journal.ErrNotRecording) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) handleJournalStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeJSONWithStatus(w, map[string]any{"error": "journal is not configured"}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.deps.Journal.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not configured"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, webrtc.ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Frames == nil {
		http.Error(w, "No frame source", http.StatusServiceUnavailable)
		return
	}
	f, ok := s.deps.Frames.LastFrame()
	if !ok {
		http.Error(w, "No frame yet", http.StatusServiceUnavailable)
		return
	}

	at := f.CapturedAt
	if at.IsZero() {
		at = s.now()
	}
	data, err := snapshotJPEG(f, s.deps.Monitor.LastDetections(), at)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
