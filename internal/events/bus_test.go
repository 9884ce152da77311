package events

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	bus.Publish(Event{Type: Muted, Source: "gate"})

	for i, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			if e.Type != Muted || e.Source != "gate" {
				t.Errorf("Subscriber %d: unexpected event %+v", i, e)
			}
			if e.Timestamp.IsZero() {
				t.Errorf("Subscriber %d: expected timestamp to be set", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d: no event delivered", i)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: Error})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if bus.Dropped() != 9 {
		t.Errorf("Expected 9 dropped deliveries, got %d", bus.Dropped())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)

	if bus.Subscribers() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", bus.Subscribers())
	}
	cancel()
	cancel()

	if bus.Subscribers() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", bus.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed")
	}

	bus.Publish(Event{Type: Started})
}
