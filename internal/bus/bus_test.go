package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conversation.", 10)
	defer unsub()

	b.Publish(Event{Kind: "conversation.upserted", Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.Kind != "conversation.upserted" {
			t.Errorf("kind = %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	conv, unsubConv := b.Subscribe("conversation.", 10)
	defer unsubConv()
	all, unsubAll := b.Subscribe("", 10)
	defer unsubAll()

	b.Publish(Event{Kind: "message.upserted"})

	select {
	case evt := <-conv:
		t.Fatalf("conversation subscriber got %q", evt.Kind)
	default:
	}

	select {
	case evt := <-all:
		if evt.Kind != "message.upserted" {
			t.Errorf("kind = %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("catch-all subscriber got nothing")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	unsub()

	b.Publish(Event{Kind: "conversation.upserted"})

	select {
	case evt := <-ch:
		t.Fatalf("got %q after unsubscribe", evt.Kind)
	default:
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: "message.upserted"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
