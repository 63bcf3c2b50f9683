package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: "bridge.displayed", Data: 1})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != "bridge.displayed" || e.Data != 1 {
				t.Fatalf("event = %+v", e)
			}
			if e.Time.IsZero() {
				t.Fatal("publish did not stamp a time")
			}
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublishDropsWhenSaturated(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // buffer full, must not block

	if n := b.Dropped(); n != 1 {
		t.Fatalf("Dropped = %d, want 1", n)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// The channel is closed; publishing afterwards must not panic or block.
	b.Publish(Event{Type: "late", Time: time.Now()})

	if _, ok := <-ch; ok {
		t.Fatal("received an event after unsubscribe")
	}
}
