// Package events implements the synchronous publish/subscribe bus that
// decouples state transitions from external observers (UI, host page).
package events

import (
	"sync"

	"github.com/go-go-golems/chatwidget/pkg/session"
)

// Topic identifies an event stream on the bus.
type Topic string

const (
	TopicReady           Topic = "ready"
	TopicDestroy         Topic = "destroy"
	TopicMessage         Topic = "message"
	TopicMessageSent     Topic = "message:sent"
	TopicMessageReceived Topic = "message:received"
)

// Payload is the fixed payload shape for all topics. Fields not relevant to a
// topic are nil.
type Payload struct {
	User    *session.User
	Message *session.Message
}

// Handler observes events for a single topic.
type Handler func(Payload)

// Subscription identifies a registered handler so it can be removed again.
// Go functions are not comparable, so removal is handle-based rather than by
// handler reference.
type Subscription struct {
	topic Topic
	id    uint64
}

type entry struct {
	id uint64
	fn Handler
}

// Bus dispatches synchronously, in registration order, to the handlers
// registered at trigger time.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[Topic][]entry
}

func NewBus() *Bus {
	return &Bus{handlers: map[Topic][]entry{}}
}

// On registers a handler for topic and returns its subscription handle.
func (b *Bus) On(topic Topic, h Handler) Subscription {
	if b == nil || h == nil {
		return Subscription{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], entry{id: b.nextID, fn: h})
	return Subscription{topic: topic, id: b.nextID}
}

// Off removes a subscription. Removing one that was never registered, or has
// already been removed, is a no-op.
func (b *Bus) Off(sub Subscription) {
	if b == nil || sub.id == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.handlers[sub.topic]
	for i, e := range entries {
		if e.id == sub.id {
			b.handlers[sub.topic] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Trigger invokes all handlers currently registered for topic, in
// registration order, before returning. Sent and received message events are
// re-published on the unified message topic so observers can subscribe once
// regardless of direction.
func (b *Bus) Trigger(topic Topic, p Payload) {
	if b == nil {
		return
	}
	b.dispatch(topic, p)
	if topic == TopicMessageSent || topic == TopicMessageReceived {
		b.dispatch(TopicMessage, p)
	}
}

func (b *Bus) dispatch(topic Topic, p Payload) {
	b.mu.Lock()
	entries := append([]entry(nil), b.handlers[topic]...)
	b.mu.Unlock()
	for _, e := range entries {
		e.fn(p)
	}
}
