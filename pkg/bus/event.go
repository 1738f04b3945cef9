package bus

import (
	"context"
)

type Kind string

const (
	// KindShareFinalized is published when a sharing instance reaches a
	// terminal state (Valid or Invalid) at this party.
	KindShareFinalized Kind = "share_finalized"
	// KindReshareComplete is published once a party has combined its
	// new-epoch share; the previous epoch's share should be discarded.
	KindReshareComplete Kind = "reshare_complete"
)

type Event struct {
	Kind    Kind
	Epoch   uint64
	Dealer  int
	Body    any
	TraceID string
}

type Subscriber chan Event

type Bus struct {
	pub chan Event
}

func New(size int) *Bus {
	if size <= 0 {
		size = 128
	}
	return &Bus{pub: make(chan Event, size)}
}

func (b *Bus) Publish(_ context.Context, ev Event) {
	select {
	case b.pub <- ev:
	default: // drop on backpressure
	}
}

func (b *Bus) Subscribe() Subscriber { return b.pub }
