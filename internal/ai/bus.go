package ai

import (
	"strings"
	"sync"
	"time"
)

// Signal names carried by the notification bus.
const (
	SignalTaskStart     = "task:start"
	SignalTaskProgress  = "task:progress"
	SignalTaskComplete  = "task:complete"
	SignalTaskFailed    = "task:failed"
	SignalTaskCancelled = "task:cancelled"
	SignalConfigLoaded  = "config:loaded"
	SignalConfigUpdated = "config:updated"
)

// Notification is one bus message. Payload is signal-specific
// (*TaskProgress for task signals, registry summaries for config signals).
type Notification struct {
	Signal   string `json:"signal"`
	AtUnixMs int64  `json:"at_unix_ms"`
	Payload  any    `json:"payload,omitempty"`
}

type busSubscriber struct {
	signals map[string]struct{}
	ch      chan Notification
}

// Bus fans notifications out to subscribers without ever blocking a publisher:
// a subscriber that falls behind loses messages rather than stalling the
// scheduler (same discipline as a UI sink writer).
type Bus struct {
	mu   sync.Mutex
	subs map[*busSubscriber]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: map[*busSubscriber]struct{}{}}
}

// Subscribe registers interest in the given signals (all signals when empty).
// The returned cancel func must be called to release the subscription.
func (b *Bus) Subscribe(buffer int, signals ...string) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &busSubscriber{ch: make(chan Notification, buffer)}
	if len(signals) > 0 {
		sub.signals = make(map[string]struct{}, len(signals))
		for _, s := range signals {
			if name := strings.TrimSpace(s); name != "" {
				sub.signals[name] = struct{}{}
			}
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers to every interested subscriber, dropping on full buffers.
func (b *Bus) Publish(signal string, payload any) {
	if b == nil {
		return
	}
	signal = strings.TrimSpace(signal)
	if signal == "" {
		return
	}
	note := Notification{Signal: signal, AtUnixMs: time.Now().UnixMilli(), Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub.signals != nil {
			if _, ok := sub.signals[signal]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- note:
		default:
		}
	}
}
