package pubsub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/caio-oliv/restatement/telemetry"
)

// Bus fans events out to subscribers grouped by topic. A topic is typically
// the hashed cache key a query or mutation operates on, so every engine
// sharing that key observes the same stream.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	next   uint64
	logger telemetry.Logger
}

// NewBus builds an empty Bus that logs nowhere.
func NewBus() *Bus {
	return NewBusWithLogger(telemetry.Noop)
}

// NewBusWithLogger builds an empty Bus that reports dropped events (a
// subscriber whose channel is full) through logger instead of silently.
func NewBusWithLogger(logger telemetry.Logger) *Bus {
	if logger == nil {
		logger = telemetry.Noop
	}
	return &Bus{subs: make(map[string]map[uint64]chan Event), logger: logger}
}

// Publish delivers ev to every subscriber currently registered on topic. A
// subscriber whose channel is full drops the event rather than block the
// publisher; subscribers needing every event should drain promptly or keep
// their channel buffer large enough.
func (b *Bus) Publish(topic string, ev Event) {
	if ev.Topic == "" {
		ev.Topic = topic
	}
	if ev.RequestID == "" {
		ev.RequestID = uuid.NewString()
	}
	if ev.Version == 0 {
		ev.Version = EventVersion
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("pubsub: dropped event, subscriber channel full",
				"topic", topic, "kind", int(ev.Kind), "requestId", ev.RequestID)
		}
	}
}

// Subscribe registers a new subscriber on topic and returns a handle to
// receive and later cancel it. buffer sizes the channel; 0 means
// unbuffered, which is rarely what a caller wants given Publish's
// non-blocking drop-on-full semantics.
func (b *Bus) Subscribe(topic string, buffer int) *SubscriberHandle {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	ch := make(chan Event, buffer)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]chan Event)
	}
	b.subs[topic][id] = ch

	return &SubscriberHandle{bus: b, topic: topic, id: id, ch: ch}
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	if subs == nil {
		return
	}
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
}

// Topics returns a snapshot of every topic with at least one subscriber.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	return topics
}

// SubscriberCount reports how many subscribers are registered on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
