package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	events, cancel := b.SubscribeViolations()
	defer cancel()

	b.Publish(ViolationEvent{NodeID: "n1", Type: "double_sign"})

	select {
	case ev := <-events:
		if ev.NodeID != "n1" || ev.Type != "double_sign" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishIgnoresUnrelatedTopic(t *testing.T) {
	b := New()
	outcomes, cancel := b.SubscribeRoundOutcomes()
	defer cancel()

	b.Publish(ViolationEvent{NodeID: "n1", Type: "missed_ping"})

	select {
	case ev := <-outcomes:
		t.Fatalf("unexpected round outcome delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	events, cancel := b.SubscribeViolations()
	cancel()

	b.Publish(ViolationEvent{NodeID: "n1", Type: "network_spam"})

	if _, ok := <-events; ok {
		t.Fatalf("expected channel closed after cancel")
	}
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	b := New()
	a, cancelA := b.SubscribeViolations()
	c, cancelC := b.SubscribeViolations()
	defer cancelA()
	defer cancelC()

	b.Publish(ViolationEvent{NodeID: "n2", Type: "invalid_block"})

	for _, ch := range []<-chan ViolationEvent{a, c} {
		select {
		case ev := <-ch:
			if ev.NodeID != "n2" {
				t.Fatalf("unexpected event: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event on one subscriber")
		}
	}
}
