package transport

import (
	"context"
	"sync"

	"github.com/threshnet/dpss/internal/transport/wire"
)

// Hub is an in-process broadcast fabric connecting ChannelTransports. It is
// used by local simulations and closed-loop tests; delivery order between
// subscribers is unspecified, matching the asynchronous network model.
type Hub struct {
	mu   sync.Mutex
	subs []func(wire.ACSS)
}

func NewHub() *Hub { return &Hub{} }

func (h *Hub) subscribe(fn func(wire.ACSS)) {
	h.mu.Lock()
	h.subs = append(h.subs, fn)
	h.mu.Unlock()
}

func (h *Hub) broadcast(m wire.ACSS) {
	h.mu.Lock()
	subs := append([]func(wire.ACSS){}, h.subs...)
	h.mu.Unlock()
	for _, fn := range subs {
		fn := fn
		go fn(m)
	}
}

// Transport returns a new endpoint attached to the hub.
func (h *Hub) Transport() *ChannelTransport {
	return &ChannelTransport{hub: h}
}

// ChannelTransport is a Hub endpoint implementing Transport.
type ChannelTransport struct {
	hub *Hub
}

func (t *ChannelTransport) Start(_ context.Context) error { return nil }

func (t *ChannelTransport) Stop(_ context.Context) error { return nil }

func (t *ChannelTransport) BroadcastACSS(_ context.Context, msg wire.ACSS) error {
	t.hub.broadcast(msg)
	return nil
}

func (t *ChannelTransport) OnACSS(fn func(wire.ACSS)) {
	t.hub.subscribe(fn)
}
