package pubsub

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{
			name: "valid invalidation",
			event: Event{
				Version:    EventVersion,
				Kind:       KindInvalidation,
				Topic:      "user:123",
				RequestID:  "req-123",
				OccurredAt: now,
				Payload:    InvalidationPayload{Key: "user:123"},
			},
			wantErr: false,
		},
		{
			name: "valid prefix invalidation",
			event: Event{
				Version:   EventVersion,
				Kind:      KindInvalidation,
				Topic:     "user:",
				RequestID: "req-456",
				Payload:   InvalidationPayload{Key: "user:", Prefix: true},
			},
			wantErr: false,
		},
		{
			name: "valid transition",
			event: Event{
				Version: EventVersion,
				Kind:    KindTransition,
				Topic:   "user:123",
				Payload: TransitionPayload{From: "loading", To: "success"},
			},
			wantErr: false,
		},
		{
			name: "valid mutation",
			event: Event{
				Version: EventVersion,
				Kind:    KindMutation,
				Topic:   "mutation:createUser",
				Payload: MutationPayload{Input: "alice", Data: 1},
			},
			wantErr: false,
		},
		{
			name: "unsupported version",
			event: Event{
				Version: 999,
				Kind:    KindInvalidation,
				Topic:   "user:123",
			},
			wantErr: true,
		},
		{
			name: "zero version",
			event: Event{
				Kind:  KindInvalidation,
				Topic: "user:123",
			},
			wantErr: true,
		},
		{
			name: "unknown kind",
			event: Event{
				Version: EventVersion,
				Kind:    Kind(42),
				Topic:   "user:123",
			},
			wantErr: true,
		},
		{
			name: "missing topic",
			event: Event{
				Version: EventVersion,
				Kind:    KindTransition,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected a validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected the event to validate, got %v", err)
			}
		})
	}
}

func TestBusPublishProducesValidEvents(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("topic", 1)
	defer sub.Close()

	// A sparse event: the Bus fills in version, topic and request id.
	bus.Publish("topic", Event{Kind: KindTransition})

	select {
	case ev := <-sub.Events():
		if err := ev.Validate(); err != nil {
			t.Fatalf("expected a published event to validate, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	event := Event{
		Version:    EventVersion,
		Kind:       KindInvalidation,
		Topic:      "user:123",
		RequestID:  "req-123",
		OccurredAt: time.Now().UTC().Truncate(time.Second),
		Payload:    map[string]any{"key": "user:123"},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Version != event.Version || decoded.Kind != event.Kind ||
		decoded.Topic != event.Topic || decoded.RequestID != event.RequestID {
		t.Fatalf("expected the envelope to survive a JSON round trip, got %+v", decoded)
	}
	if !decoded.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("expected OccurredAt to round trip, got %v", decoded.OccurredAt)
	}
}
