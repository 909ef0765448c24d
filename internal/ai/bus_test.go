package ai

import (
	"testing"
	"time"
)

func TestBusDeliversToInterestedSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	taskOnly, cancelTaskOnly := bus.Subscribe(8, SignalTaskStart)
	defer cancelTaskOnly()
	all, cancelAll := bus.Subscribe(8)
	defer cancelAll()

	bus.Publish(SignalTaskStart, "a")
	bus.Publish(SignalConfigLoaded, "b")

	select {
	case note := <-taskOnly:
		if note.Signal != SignalTaskStart {
			t.Fatalf("filtered subscriber got %q", note.Signal)
		}
	case <-time.After(time.Second):
		t.Fatalf("filtered subscriber got nothing")
	}
	select {
	case note := <-taskOnly:
		t.Fatalf("filtered subscriber got extra %q", note.Signal)
	default:
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case note := <-all:
			got[note.Signal] = true
		case <-time.After(time.Second):
			t.Fatalf("unfiltered subscriber missing signals: %v", got)
		}
	}
	if !got[SignalTaskStart] || !got[SignalConfigLoaded] {
		t.Fatalf("unfiltered subscriber got %v", got)
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(SignalTaskProgress, i)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	// The slow subscriber keeps the first message; the rest were dropped.
	note := <-ch
	if note.Signal != SignalTaskProgress {
		t.Fatalf("signal = %q", note.Signal)
	}
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	_, cancel := bus.Subscribe(1)
	cancel()
	cancel() // second call must not panic or double-close
	bus.Publish(SignalTaskStart, nil)
}
