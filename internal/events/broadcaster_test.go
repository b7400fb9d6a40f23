package events

import (
	"testing"
	"time"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	event := Event{
		Type:     EventProgress,
		TaskID:   "task-1",
		Percent:  42.5,
		Received: 425,
		Total:    1000,
	}
	b.Publish(event)

	select {
	case received := <-ch:
		if received.Type != EventProgress {
			t.Errorf("expected type %s, got %s", EventProgress, received.Type)
		}
		if received.TaskID != "task-1" {
			t.Errorf("expected task id task-1, got %s", received.TaskID)
		}
		if received.Percent != 42.5 {
			t.Errorf("expected percent 42.5, got %f", received.Percent)
		}
		if received.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterMultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.Publish(Event{Type: EventCompleted, TaskID: "task-2", Percent: 100})

	for i, ch := range []chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID != "task-2" {
				t.Errorf("subscriber %d: expected task-2, got %s", i, received.TaskID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out waiting for event", i)
		}
	}
}

func TestBroadcasterSlowConsumerDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill the buffer past capacity; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(Event{Type: EventProgress, TaskID: "task-3", Percent: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow consumer")
	}
}

func TestMarshalEvent(t *testing.T) {
	data, err := MarshalEvent(Event{Type: EventFailed, TaskID: "t", ErrorCode: "NETWORK_ERROR", Timestamp: 1})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty payload")
	}
}
