package transport

import (
	"context"

	"github.com/threshnet/dpss/internal/transport/wire"
)

// Transport is the minimal broadcast abstraction the sharing protocols run
// over. It is assumed authenticated and reliable per sender (messages carry
// their own signatures on top); implementations live behind build tags.
type Transport interface {
	// Start brings up the network stack and subscriptions.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the network stack and subscriptions.
	Stop(ctx context.Context) error

	// BroadcastACSS publishes a sharing-protocol message to the committee.
	BroadcastACSS(ctx context.Context, msg wire.ACSS) error
	// OnACSS registers a handler invoked on each inbound message.
	OnACSS(fn func(wire.ACSS))
}

// NoopTransport satisfies the interface without any network I/O; used when
// networking is disabled.
type NoopTransport struct {
	onACSS func(wire.ACSS)
}

func (n *NoopTransport) Start(_ context.Context) error { return nil }

func (n *NoopTransport) Stop(_ context.Context) error { return nil }

func (n *NoopTransport) BroadcastACSS(_ context.Context, _ wire.ACSS) error { return nil }

func (n *NoopTransport) OnACSS(fn func(wire.ACSS)) { n.onACSS = fn }
