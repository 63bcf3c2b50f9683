package bridge

import (
	"testing"

	"pushbridge/internal/remote"
)

func TestMsgSlotDeliversToCurrentHandler(t *testing.T) {
	t.Parallel()

	var slot msgSlot
	var got *remote.Message
	slot.set(func(msg *remote.Message) { got = msg })

	gen := slot.snapshot()
	msg := &remote.Message{ID: "m-1"}

	delivered, stale := slot.deliver(gen, msg)
	if !delivered || stale {
		t.Fatalf("deliver = (%v, %v), want (true, false)", delivered, stale)
	}
	if got != msg {
		t.Fatalf("handler received %v, want %v", got, msg)
	}
}

func TestMsgSlotDropsStaleDelivery(t *testing.T) {
	t.Parallel()

	var slot msgSlot
	oldCalls, newCalls := 0, 0
	slot.set(func(*remote.Message) { oldCalls++ })

	// Delivery stamped before the swap must not reach either handler.
	gen := slot.snapshot()
	slot.set(func(*remote.Message) { newCalls++ })

	delivered, stale := slot.deliver(gen, &remote.Message{ID: "m-2"})
	if delivered || !stale {
		t.Fatalf("deliver = (%v, %v), want (false, true)", delivered, stale)
	}
	if oldCalls != 0 || newCalls != 0 {
		t.Fatalf("handler calls = (%d, %d), want (0, 0)", oldCalls, newCalls)
	}

	delivered, stale = slot.deliver(slot.snapshot(), &remote.Message{ID: "m-3"})
	if !delivered || stale {
		t.Fatalf("deliver after swap = (%v, %v), want (true, false)", delivered, stale)
	}
	if newCalls != 1 {
		t.Fatalf("new handler calls = %d, want 1", newCalls)
	}
}

func TestMsgSlotWithoutHandler(t *testing.T) {
	t.Parallel()

	var slot msgSlot
	delivered, stale := slot.deliver(slot.snapshot(), &remote.Message{ID: "m-4"})
	if delivered || stale {
		t.Fatalf("deliver = (%v, %v), want (false, false)", delivered, stale)
	}
}

func TestMsgSlotUnregisterBumpsGeneration(t *testing.T) {
	t.Parallel()

	var slot msgSlot
	calls := 0
	slot.set(func(*remote.Message) { calls++ })
	gen := slot.snapshot()

	// Unregistering is a registration too: in-flight deliveries go stale.
	slot.set(nil)

	delivered, stale := slot.deliver(gen, &remote.Message{ID: "m-5"})
	if delivered || !stale {
		t.Fatalf("deliver old gen = (%v, %v), want (false, true)", delivered, stale)
	}
	delivered, stale = slot.deliver(slot.snapshot(), &remote.Message{ID: "m-6"})
	if delivered || stale {
		t.Fatalf("deliver current gen = (%v, %v), want (false, false)", delivered, stale)
	}
	if calls != 0 {
		t.Fatalf("handler calls = %d, want 0", calls)
	}
}

func TestOpenSlotGenerations(t *testing.T) {
	t.Parallel()

	var slot openSlot
	var got Open
	calls := 0
	slot.set(func(open Open) {
		got = open
		calls++
	})

	gen := slot.snapshot()
	open := Open{Data: map[string]string{"k": "v"}, Message: &remote.Message{ID: "o-1"}}
	delivered, stale := slot.deliver(gen, open)
	if !delivered || stale {
		t.Fatalf("deliver = (%v, %v), want (true, false)", delivered, stale)
	}
	if calls != 1 || got.Message == nil || got.Message.ID != "o-1" || got.Data["k"] != "v" {
		t.Fatalf("handler received %+v after %d calls", got, calls)
	}

	slot.set(func(Open) { calls++ })
	delivered, stale = slot.deliver(gen, open)
	if delivered || !stale {
		t.Fatalf("deliver old gen = (%v, %v), want (false, true)", delivered, stale)
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
}
