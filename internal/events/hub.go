// Package events fans pipeline events out to in-process subscribers such as
// the daemon's WebSocket stream. Publishing never blocks: a subscriber whose
// buffer is full misses the event.
package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

// Event types.
const (
	TypeDiscovered     Type = "discovered"
	TypeStageStarted   Type = "stage_started"
	TypeStageCompleted Type = "stage_completed"
	TypeStageFailed    Type = "stage_failed"
	TypeProgress       Type = "progress"
	TypeCompleted      Type = "completed"
	TypeSkipped        Type = "skipped"
)

// Event is one pipeline occurrence.
type Event struct {
	Seq         uint64    `json:"seq"`
	Time        time.Time `json:"time"`
	Type        Type      `json:"type"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Path        string    `json:"path,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Message     string    `json:"message,omitempty"`
	Done        int       `json:"done,omitempty"`
	Total       int       `json:"total,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(evt Event)
}

// Hub is an in-memory broadcaster with a bounded replay history.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	subs    map[uint64]chan Event
	nextSub uint64
	history []Event
	limit   int
	now     func() time.Time
}

// NewHub returns a hub retaining the last historyLimit events.
func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = 256
	}
	return &Hub{
		subs:  make(map[uint64]chan Event),
		limit: historyLimit,
		now:   time.Now,
	}
}

// Publish stamps evt with a sequence number and delivers it.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	evt.Seq = h.seq
	if evt.Time.IsZero() {
		evt.Time = h.now().UTC()
	}
	h.history = append(h.history, evt)
	if len(h.history) > h.limit {
		h.history = append([]Event(nil), h.history[len(h.history)-h.limit:]...)
	}
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Since returns retained events with a sequence number above seq.
func (h *Hub) Since(seq uint64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, 0, len(h.history))
	for _, evt := range h.history {
		if evt.Seq > seq {
			out = append(out, evt)
		}
	}
	return out
}

// Subscribers reports the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}
