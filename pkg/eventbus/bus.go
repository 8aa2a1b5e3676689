// Copyright 2025 QNet Project
//
// Package eventbus decouples C5 (consensus, which detects and emits
// violations) from C4 (lifecycle, which consumes and penalizes them),
// breaking the cyclic reference the spec's design notes call out:
// consensus must not import lifecycle directly, nor vice versa. Topics
// are typed by the event's Go type; subscribers receive on buffered
// per-subscriber channels so a slow consumer cannot stall the publisher's
// round-driver goroutine, following the teacher's "blocking I/O never
// runs on the round driver's path" discipline carried over from
// pkg/batch.Scheduler's non-blocking ticker loop.
package eventbus

import (
	"sync"
)

// ViolationEvent is published by C5 whenever it detects slashable or
// penalizable node behavior; C4 subscribes to apply the corresponding
// penalty.
type ViolationEvent struct {
	NodeID      string
	Type        string // mirrors lifecycle.ViolationType's string values, kept untyped here to avoid an import cycle
	Description string
}

// RoundOutcomeEvent is published at the end of every consensus round,
// successful or failed, for telemetry and sweep coordination.
type RoundOutcomeEvent struct {
	Round   uint64
	Sealed  bool
	Leader  string
	Reason  string // non-empty only when Sealed is false
}

// subscriberQueueSize bounds how far a subscriber may lag before its
// events start being dropped rather than blocking the publisher.
const subscriberQueueSize = 256

type subscription struct {
	ch     chan interface{}
	closed bool
}

// Bus is a typed, channel-based publish/subscribe hub. The zero value is
// not usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

func topicOf(v interface{}) string {
	switch v.(type) {
	case ViolationEvent:
		return "violation"
	case RoundOutcomeEvent:
		return "round_outcome"
	default:
		return "unknown"
	}
}

// SubscribeViolations returns a channel delivering every ViolationEvent
// published after this call. Call the returned cancel function to stop
// receiving and release the channel.
func (b *Bus) SubscribeViolations() (<-chan ViolationEvent, func()) {
	raw, cancel := b.subscribe("violation")
	out := make(chan ViolationEvent, subscriberQueueSize)
	go func() {
		defer close(out)
		for v := range raw {
			if ev, ok := v.(ViolationEvent); ok {
				out <- ev
			}
		}
	}()
	return out, cancel
}

// SubscribeRoundOutcomes returns a channel delivering every
// RoundOutcomeEvent published after this call.
func (b *Bus) SubscribeRoundOutcomes() (<-chan RoundOutcomeEvent, func()) {
	raw, cancel := b.subscribe("round_outcome")
	out := make(chan RoundOutcomeEvent, subscriberQueueSize)
	go func() {
		defer close(out)
		for v := range raw {
			if ev, ok := v.(RoundOutcomeEvent); ok {
				out <- ev
			}
		}
	}()
	return out, cancel
}

func (b *Bus) subscribe(topic string) (<-chan interface{}, func()) {
	sub := &subscription{ch: make(chan interface{}, subscriberQueueSize)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Publish broadcasts an event to every current subscriber of its topic.
// A subscriber whose queue is full has the event dropped rather than
// blocking the publisher, per the round-driver non-blocking discipline.
func (b *Bus) Publish(event interface{}) {
	topic := topicOf(event)

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
		}
	}
}
