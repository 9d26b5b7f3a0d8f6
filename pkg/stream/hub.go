package stream

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event is one item on the live feed. Data carries the already-encoded
// payload so subscribers never see half-mutated structs.
type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

type subscriber struct {
	ch     chan Event
	prefix string
}

// Hub fans events out to live subscribers. Delivery is best effort: a
// subscriber that cannot keep up loses events rather than stalling the
// publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]subscriber
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]subscriber{}}
}

// Subscribe registers a listener for events whose Type starts with
// prefix. An empty prefix receives everything.
func (h *Hub) Subscribe(prefix string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = subscriber{ch: ch, prefix: prefix}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, sub := range h.subs {
		if sub.prefix != "" && !strings.HasPrefix(evt.Type, sub.prefix) {
			continue
		}
		select {
		case ch <- evt:
		default:
		}
	}
}
