package bus

import (
	"context"
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(4)
	ctx := context.Background()

	b.Publish(ctx, Event{Kind: KindShareFinalized, Epoch: 1, Dealer: 3})
	ev := <-b.Subscribe()
	if ev.Kind != KindShareFinalized || ev.Dealer != 3 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestPublishDropsOnBackpressure(t *testing.T) {
	b := New(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Publish(ctx, Event{Kind: KindReshareComplete, Epoch: uint64(i)})
	}
	// Only the first two fit; the rest were dropped, not blocked on.
	if ev := <-b.Subscribe(); ev.Epoch != 0 {
		t.Fatalf("epoch = %d, want 0", ev.Epoch)
	}
	if ev := <-b.Subscribe(); ev.Epoch != 1 {
		t.Fatalf("epoch = %d, want 1", ev.Epoch)
	}
	select {
	case ev := <-b.Subscribe():
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}
