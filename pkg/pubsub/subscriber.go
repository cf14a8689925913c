package pubsub

// SubscriberHandle is the receive side of a Subscribe call. Close must be
// called once the caller is done listening, or the Bus leaks the channel
// and its slot in the topic's subscriber map.
type SubscriberHandle struct {
	bus   *Bus
	topic string
	id    uint64
	ch    chan Event
}

// Events returns the channel events on this subscription arrive on. The
// channel is closed when Close is called.
func (h *SubscriberHandle) Events() <-chan Event { return h.ch }

// Close cancels the subscription and closes the event channel.
func (h *SubscriberHandle) Close() { h.bus.unsubscribe(h.topic, h.id) }

// DummySubscriber discards every event, for callers that need to satisfy
// an interface expecting a subscriber but have nothing to observe
// invalidations or transitions with (e.g. a Client configured without a
// UI layer attached).
type DummySubscriber struct{}

// Notify implements the no-op observer contract.
func (DummySubscriber) Notify(Event) {}
