// Package stream fans session events out to live subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"candle-quiz/internal/models"
	"candle-quiz/internal/notify"
)

// EventType classifies an Event.
type EventType string

const (
	EventItemServed    EventType = "item"
	EventBatchIngested EventType = "batch"
	EventNotice        EventType = "notice"
	EventReset         EventType = "reset"
)

// Event is one thing that happened in a session.
type Event struct {
	Type    EventType    `json:"type"`
	Session string       `json:"session,omitempty"`
	Item    *models.Item `json:"item,omitempty"`
	Count   int          `json:"count,omitempty"`
	Message string       `json:"message,omitempty"`
	At      time.Time    `json:"at"`
}

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           256,
		SubscriberBufferSize: 32,
	}
}

// Hub distributes events from the session to any number of subscribers.
// Sends never block: a full buffer drops the event for that subscriber.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	events      chan Event
	done        chan struct{}
	started     bool

	metricsMu sync.Mutex
	received  uint64
	delivered uint64
	dropped   uint64
}

// Subscriber is one consumer of the hub.
type Subscriber struct {
	ID        string
	Channel   chan Event
	Types     map[EventType]bool // empty receives everything
	Dropped   int
	CreatedAt time.Time
}

func (s *Subscriber) wants(t EventType) bool {
	return len(s.Types) == 0 || s.Types[t]
}

// NewHub creates a hub with the default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with a custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[*Subscriber]struct{}),
		events:      make(chan Event, config.BufferSize),
	}
}

// Start runs the distribution loop until ctx is done or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	go h.broadcastLoop(ctx, done)
}

func (h *Hub) broadcastLoop(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-done:
			return
		case ev := <-h.events:
			h.metricsMu.Lock()
			h.received++
			h.metricsMu.Unlock()
			h.broadcast(ev)
		}
	}
}

// Stop ends the loop and closes every subscriber channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for sub := range h.subscribers {
		close(sub.Channel)
		delete(h.subscribers, sub)
	}
}

// Subscribe registers a subscriber for the given event types, or for
// every type when none are given.
func (h *Hub) Subscribe(id string, types ...EventType) *Subscriber {
	sub := &Subscriber{
		ID:        id,
		Channel:   make(chan Event, h.config.SubscriberBufferSize),
		Types:     make(map[EventType]bool, len(types)),
		CreatedAt: time.Now(),
	}
	for _, t := range types {
		sub.Types[t] = true
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		close(sub.Channel)
		delete(h.subscribers, sub)
	}
}

// Publish queues ev for distribution. It never blocks; when the internal
// buffer is full the event is dropped.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case h.events <- ev:
	default:
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
	}
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var delivered, dropped uint64
	for sub := range h.subscribers {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.Channel <- ev:
			delivered++
		default:
			sub.Dropped++
			dropped++
		}
	}

	h.metricsMu.Lock()
	h.delivered += delivered
	h.dropped += dropped
	h.metricsMu.Unlock()
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Received    uint64 `json:"received"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	subs := h.SubscriberCount()
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubMetrics{
		Received:    h.received,
		Delivered:   h.delivered,
		Dropped:     h.dropped,
		Subscribers: subs,
	}
}

// IsStarted returns whether the loop is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Name implements notify.NotificationChannel.
func (h *Hub) Name() string { return "stream" }

// IsEnabled implements notify.NotificationChannel.
func (h *Hub) IsEnabled() bool { return true }

// Send republishes a notification as a notice event.
func (h *Hub) Send(_ context.Context, n notify.Notification) error {
	h.Publish(Event{Type: EventNotice, Message: n.Message, At: n.Timestamp})
	return nil
}
