// Package event provides a pub/sub bus for chat lifecycle events using
// watermill's gochannel transport.
package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const lifecycleTopic = "assistd.lifecycle"

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus manages pub/sub for lifecycle events. Async publishes travel through
// watermill's gochannel, which provides the buffering, ordering and close
// semantics; the wire message carries only an ID and the typed event rides an
// in-flight table, so subscribers receive the original value without
// re-marshalling.
type Bus struct {
	mu sync.RWMutex

	pubsub   *gochannel.GoChannel
	inflight map[string]Event

	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus and starts its dispatcher.
func NewBus() *Bus {
	b := &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		inflight:    make(map[string]Event),
		subscribers: make(map[Type][]subscriberEntry),
	}

	messages, err := b.pubsub.Subscribe(context.Background(), lifecycleTopic)
	if err != nil {
		// gochannel only refuses subscriptions after Close.
		panic(fmt.Sprintf("event: subscribing to fresh bus: %v", err))
	}
	go b.dispatch(messages)

	return b
}

// dispatch delivers published events to subscribers, one at a time and in
// publish order, until the bus is closed.
func (b *Bus) dispatch(messages <-chan *message.Message) {
	for msg := range messages {
		b.mu.Lock()
		e, ok := b.inflight[msg.UUID]
		delete(b.inflight, msg.UUID)
		b.mu.Unlock()
		msg.Ack()
		if !ok {
			continue
		}

		for _, sub := range b.collect(e.Type) {
			sub(e)
		}
	}
}

// Subscribe registers a subscriber for one event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(t Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers[t] = append(b.subscribers[t], subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribe(t, id) }
}

// SubscribeAll registers a subscriber for every event type.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[t]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[t] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish delivers an event to all subscribers asynchronously via the
// gochannel transport. The publishing request never blocks on consumers;
// subscribers on long-lived streams guard themselves with non-blocking
// channel sends.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	id := watermill.NewUUID()
	b.inflight[id] = event
	b.mu.Unlock()

	if err := b.pubsub.Publish(lifecycleTopic, message.NewMessage(id, nil)); err != nil {
		b.mu.Lock()
		delete(b.inflight, id)
		b.mu.Unlock()
	}
}

// PublishSync delivers an event to all subscribers in the calling goroutine,
// bypassing the transport, for records that must land before the caller
// returns.
func (b *Bus) PublishSync(event Event) {
	for _, sub := range b.collect(event.Type) {
		sub(event)
	}
}

func (b *Bus) collect(t Type) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	subs := make([]Subscriber, 0, len(b.subscribers[t])+len(b.global))
	for _, entry := range b.subscribers[t] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Close shuts down the bus; further publishes are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	b.inflight = make(map[string]Event)
	b.mu.Unlock()

	return b.pubsub.Close()
}
