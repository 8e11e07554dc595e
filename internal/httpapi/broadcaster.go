package httpapi

import (
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

// EventBroadcaster fans session events out to SSE clients.
// Each event is serialized once in both formats.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	dropped uint64
	metrics *metrics.Metrics
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster(m *metrics.Metrics) *EventBroadcaster {
	if m == nil {
		m = metrics.New()
	}
	return &EventBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, 8)
	eb.clients[id] = ch
	eb.metrics.StreamClients.Add(1)

	logger.Debug("EventBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		eb.metrics.StreamClients.Add(-1)
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (eb *EventBroadcaster) ClientCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Emit serializes ev and sends it to every client. Slow clients miss the event.
func (eb *EventBroadcaster) Emit(ev types.SessionEvent) error {
	eb.mu.Lock()
	n := len(eb.clients)
	eb.mu.Unlock()
	if n == 0 {
		return nil
	}

	event, err := serializeEvent(ev)
	if err != nil {
		return err
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	for id, ch := range eb.clients {
		select {
		case ch <- event:
		default:
			eb.dropped++
			logger.Debug("EventBroadcaster", "Client #%d too slow, dropped %s", id, ev)
		}
	}
	return nil
}

// Close disconnects every client.
func (eb *EventBroadcaster) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
		eb.metrics.StreamClients.Add(-1)
	}
}
