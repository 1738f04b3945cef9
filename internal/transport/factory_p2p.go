//go:build p2p

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2phost "github.com/libp2p/go-libp2p/core/host"
	peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/threshnet/dpss/internal/transport/wire"
	"github.com/threshnet/dpss/pkg/logger"
	"github.com/threshnet/dpss/pkg/metrics"
)

// BuildTransport constructs a libp2p+gossipsub transport when the 'p2p'
// build tag is enabled.
func BuildTransport(cfg NetConfig) (Transport, error) {
	return &Libp2pTransport{cfg: cfg}, nil
}

// Libp2pTransport implements Transport over libp2p + gossipsub.
type Libp2pTransport struct {
	cfg    NetConfig
	host   p2phost.Host
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	onACSS func(wire.ACSS)
}

func (t *Libp2pTransport) Start(ctx context.Context) error {
	if !t.cfg.Enable {
		return nil
	}
	opts := []libp2p.Option{}
	if len(t.cfg.Listen) > 0 {
		var addrs []ma.Multiaddr
		for _, s := range t.cfg.Listen {
			if strings.TrimSpace(s) == "" {
				continue
			}
			a, err := ma.NewMultiaddr(s)
			if err != nil {
				return err
			}
			addrs = append(addrs, a)
		}
		if len(addrs) > 0 {
			opts = append(opts, libp2p.ListenAddrs(addrs...))
		}
	}
	if t.cfg.NAT {
		opts = append(opts, libp2p.NATPortMap())
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return err
	}
	t.host = h
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return err
	}
	t.ps = ps
	if t.topic, err = ps.Join(wire.TopicACSS); err != nil {
		return err
	}
	if t.sub, err = t.topic.Subscribe(); err != nil {
		return err
	}

	// connect bootnodes (best effort)
	for _, b := range t.cfg.Bootnodes {
		if strings.TrimSpace(b) == "" {
			continue
		}
		_ = connectOnce(ctx, h, b)
	}

	// Log self peer id and listen addrs for operators to copy into bootnodes.
	for _, a := range h.Addrs() {
		logger.InfoJ("p2p_addr", map[string]any{"self_id": h.ID().String(), "addr": a.String()})
	}

	go t.loopACSS(ctx)
	logger.InfoJ("p2p_start", map[string]any{"result": "ok"})
	return nil
}

func (t *Libp2pTransport) Stop(_ context.Context) error {
	if t.sub != nil {
		t.sub.Cancel()
	}
	if t.topic != nil {
		_ = t.topic.Close()
	}
	if t.host != nil {
		return t.host.Close()
	}
	return nil
}

func (t *Libp2pTransport) BroadcastACSS(_ context.Context, msg wire.ACSS) error {
	if t.topic == nil {
		return errors.New("p2p not started")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := t.topic.Publish(context.Background(), b); err != nil {
		metrics.Inc(MetricP2PMessagesTotal, map[string]string{"topic": wire.TopicACSS, "direction": "tx", "result": "error"})
		return err
	}
	metrics.Inc(MetricP2PMessagesTotal, map[string]string{"topic": wire.TopicACSS, "direction": "tx", "result": "ok"})
	metrics.Add(MetricP2PBytesTotal, map[string]string{"topic": wire.TopicACSS, "direction": "tx"}, float64(len(b)))
	return nil
}

func (t *Libp2pTransport) OnACSS(fn func(wire.ACSS)) { t.onACSS = fn }

func (t *Libp2pTransport) loopACSS(ctx context.Context) {
	for {
		m, err := t.sub.Next(ctx)
		if err != nil {
			return
		}
		var w wire.ACSS
		if err := json.Unmarshal(m.Data, &w); err != nil {
			metrics.Inc(MetricP2PMessagesTotal, map[string]string{"topic": wire.TopicACSS, "direction": "rx", "result": "decode_error"})
			continue
		}
		metrics.Inc(MetricP2PMessagesTotal, map[string]string{"topic": wire.TopicACSS, "direction": "rx", "result": "ok"})
		metrics.Add(MetricP2PBytesTotal, map[string]string{"topic": wire.TopicACSS, "direction": "rx"}, float64(len(m.Data)))
		if t.onACSS != nil {
			t.onACSS(w)
		}
	}
}

func connectOnce(ctx context.Context, h p2phost.Host, addr string) error {
	maAddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(maAddr)
	if err != nil {
		return err
	}
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.Connect(ctx2, *info)
}
