// Package events distributes catalog and transcription events to SSE
// subscribers and forwarders such as MQTT.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/memo-engine/internal/catalog"
	"github.com/snarg/memo-engine/internal/metrics"
)

// Event is a published event ready for transmission.
type Event struct {
	ID          string `json:"event_id"`
	Type        string `json:"event_type"`
	SubType     string `json:"sub_type,omitempty"`
	Timestamp   string `json:"timestamp"`
	RecordingID string `json:"recording_id,omitempty"`
	Data        []byte `json:"-"` // pre-serialized JSON payload
}

// Filter selects events for a subscriber. Empty fields match everything.
type Filter struct {
	Types []string // "recording" or compound "recording:created"
	IDs   []string
}

// Bus provides pub-sub event distribution for SSE subscribers.
// It maintains a ring buffer for replay on reconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	forwarders  []*forwarder
	closed      bool
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// ForwardQueueSize is the number of events a forwarder may fall behind by
// before new events are dropped for it.
const ForwardQueueSize = 256

// forwarder delivers events to one sink on its own goroutine, in publish
// order.
type forwarder struct {
	ch   chan Event
	done chan struct{}
}

func (f *forwarder) run(fn func(Event)) {
	defer close(f.done)
	for e := range f.ch {
		fn(e)
	}
}

// NewBus creates an event bus with the given ring buffer size.
func NewBus(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Forward registers f to receive every published event. f runs on a
// dedicated goroutine, so a slow sink never stalls publishers; when it falls
// ForwardQueueSize events behind, newer events are dropped for it.
func (b *Bus) Forward(f func(Event)) {
	fw := &forwarder{ch: make(chan Event, ForwardQueueSize), done: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.forwarders = append(b.forwarders, fw)
	go fw.run(f)
}

// Close stops accepting events for forwarders and waits until they have
// delivered what is queued. Subscribers are unaffected.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	forwarders := b.forwarders
	b.forwarders = nil
	for _, fw := range forwarders {
		close(fw.ch)
	}
	b.mu.Unlock()

	for _, fw := range forwarders {
		<-fw.done
	}
}

// ReplaySince returns buffered events published after lastEventID. An id
// that has already left the ring replays everything still buffered.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var all []Event
	start := 0
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID == "" {
			continue
		}
		all = append(all, e)
		if lastEventID != "" && e.ID == lastEventID {
			start = len(all)
		}
	}

	var events []Event
	for _, e := range all[start:] {
		if matchesFilter(e, filter) {
			events = append(events, e)
		}
	}
	return events
}

// EventData holds all fields needed to publish an event.
type EventData struct {
	Type        string
	SubType     string
	RecordingID string
	Payload     any
}

// Publish sends an event to all matching subscribers and queues it for
// forwarders, then adds it to the ring buffer. It never blocks.
func (b *Bus) Publish(e EventData) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return
	}

	seq := b.seq.Add(1)
	event := Event{
		ID:          fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq),
		Type:        e.Type,
		SubType:     e.SubType,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		RecordingID: e.RecordingID,
		Data:        data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if matchesFilter(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
				// Drop if subscriber is slow
			}
		}
	}
	for _, fw := range b.forwarders {
		select {
		case fw.ch <- event:
		default:
			metrics.EventsForwardDroppedTotal.Inc()
		}
	}
	b.mu.RUnlock()
	metrics.SSEEventsPublishedTotal.Inc()
}

// CatalogChanged publishes a "recording" event for a catalog change.
func (b *Bus) CatalogChanged(c catalog.Change) {
	b.Publish(EventData{
		Type:        "recording",
		SubType:     string(c.Type),
		RecordingID: c.Recording.ID,
		Payload:     c.Recording,
	})
}

// PublishMap publishes an event whose payload carries an "id" field naming
// the recording.
func (b *Bus) PublishMap(eventType string, payload map[string]any) {
	id, _ := payload["id"].(string)
	b.Publish(EventData{Type: eventType, RecordingID: id, Payload: payload})
}

func matchesFilter(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			t = strings.TrimSpace(t)
			if base, sub, ok := strings.Cut(t, ":"); ok {
				// Compound filter: "recording:created" matches type + subtype
				if base == e.Type && sub == e.SubType {
					match = true
					break
				}
			} else if t == e.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.IDs) > 0 && e.RecordingID != "" {
		match := false
		for _, id := range f.IDs {
			if id == e.RecordingID {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
