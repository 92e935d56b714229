// Package distributor holds the current fleet state and fans out change
// events to subscribers. The current snapshot/alert pair is swapped with a
// single atomic pointer store, so readers never lock and never observe a
// half-updated cycle. Each subscriber has a bounded queue with a drop-oldest
// policy; a slow consumer can lose intermediate events but never stalls the
// publisher or its siblings.
package distributor

import (
	"sync"
	"sync/atomic"
	"time"

	"fleetwatch/internal/alerts"
	"fleetwatch/internal/fleet"
	"fleetwatch/internal/logger"
)

// State is one cycle's published snapshot and alert set.
type State struct {
	Snapshot *fleet.Snapshot
	Alerts   []alerts.Alert
}

// EventType names a push notification.
type EventType string

const (
	EventHostsUpdate  EventType = "hosts_update"
	EventAlertCreated EventType = "alert_created"
	EventAlertUpdated EventType = "alert_updated"
	EventAlertCleared EventType = "alert_cleared"
)

// Event is one notification delivered to subscribers. State is set for
// hosts_update events, Alert for the alert events.
type Event struct {
	Type      EventType
	State     *State
	Alert     *alerts.Alert
	Timestamp time.Time
}

// Subscriber is one registered consumer. Read events from Events and call
// Hub.Unsubscribe when done.
type Subscriber struct {
	id      int
	ch      chan Event
	dropped atomic.Int64
}

// Events returns the subscriber's delivery channel. It is closed on
// Unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because this subscriber
// fell behind.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Hub is the live distributor.
type Hub struct {
	current   atomic.Pointer[State]
	queueSize int
	log       logger.Logger

	mu     sync.Mutex
	subs   map[int]*Subscriber
	nextID int
	closed bool
}

// NewHub creates a hub. queueSize is the per-subscriber buffer; values below
// 1 get a small default.
func NewHub(queueSize int, log logger.Logger) *Hub {
	if queueSize < 1 {
		queueSize = 16
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Hub{
		queueSize: queueSize,
		log:       log,
		subs:      make(map[int]*Subscriber),
	}
}

// Current returns the latest published state, or nil before the first cycle.
func (h *Hub) Current() *State {
	return h.current.Load()
}

// Publish replaces the current state and notifies all subscribers with a
// hosts_update event. Alert events for the same cycle should be published
// after the state swap so subscribers resolve ids against the new snapshot.
func (h *Hub) Publish(state *State) {
	h.current.Store(state)

	ev := Event{
		Type:      EventHostsUpdate,
		State:     state,
		Timestamp: time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		h.send(sub, ev)
	}
}

// PublishAlertEvents fans out one push event per alert transition.
func (h *Hub) PublishAlertEvents(events []alerts.Event) {
	if len(events) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, aev := range events {
		alert := aev.Alert
		ev := Event{
			Type:      alertEventType(aev.Kind),
			Alert:     &alert,
			Timestamp: aev.At,
		}
		for _, sub := range h.subs {
			h.send(sub, ev)
		}
	}
}

// Subscribe registers a consumer. The current state, if any, is queued
// immediately as a baseline hosts_update so late joiners never start empty.
// After Close, the returned subscriber's channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{
		id: h.nextID,
		ch: make(chan Event, h.queueSize),
	}

	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub

	if state := h.current.Load(); state != nil {
		h.send(sub, Event{
			Type:      EventHostsUpdate,
			State:     state,
			Timestamp: time.Now().UTC(),
		})
	}

	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// send enqueues without blocking. When the queue is full the oldest event is
// discarded to make room; if the queue somehow fills again between the pop
// and the push, the new event is dropped instead.
func (h *Hub) send(sub *Subscriber, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}

	select {
	case sub.ch <- ev:
	default:
		sub.dropped.Add(1)
		h.log.Debug("subscriber %d dropped event %s", sub.id, ev.Type)
	}
}

func alertEventType(kind alerts.EventKind) EventType {
	switch kind {
	case alerts.EventCreated:
		return EventAlertCreated
	case alerts.EventUpdated:
		return EventAlertUpdated
	default:
		return EventAlertCleared
	}
}
