package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/acss"
	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/committee"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/reshare"
	"github.com/threshnet/dpss/internal/transport"
	"github.com/threshnet/dpss/pkg/bus"
	"github.com/threshnet/dpss/pkg/logger"
	"github.com/threshnet/dpss/pkg/metrics"
)

type nodeSecrets struct {
	Index   int    `json:"index"`
	SigPriv []byte `json:"sig_priv"`
	EncPriv []byte `json:"enc_priv"`
}

func main() {
	var (
		mode          string
		nodePath      string
		committeePath string
		newCommittee  string
		session       string
		dataDir       string
		monAddr       string
		scheme        string
		highThreshold bool
		dealSecret    int64
		doDeal        bool
		p2pEnable     bool
		p2pListen     string
		p2pBoot       string
		p2pNAT        bool
	)
	flag.StringVar(&mode, "mode", "share", "Operating mode: share | reshare")
	flag.StringVar(&nodePath, "node", "", "Path to this node's secrets JSON")
	flag.StringVar(&committeePath, "committee", "", "Path to the committee JSON")
	flag.StringVar(&newCommittee, "new-committee", "", "Path to the incoming committee JSON (reshare mode)")
	flag.StringVar(&session, "session", "", "Session identifier shared by all parties")
	flag.StringVar(&dataDir, "data", "dpss-data", "Data directory for shares and session state")
	flag.StringVar(&monAddr, "monitoring", "127.0.0.1:4620", "Monitoring listen address")
	flag.StringVar(&scheme, "scheme", commit.SchemeFeldman, "Commitment scheme: feldman | pedersen")
	flag.BoolVar(&highThreshold, "high-threshold", false, "Deal a symmetric bivariate polynomial (feldman only)")
	flag.BoolVar(&doDeal, "deal", false, "Act as the dealer of this session")
	flag.Int64Var(&dealSecret, "deal-secret", 0, "Secret to share when dealing (testing aid; omit for random)")
	flag.BoolVar(&p2pEnable, "p2p.enable", false, "Enable P2P transport (libp2p+gossipsub, behind 'p2p' build tag)")
	flag.StringVar(&p2pListen, "p2p.listen", "", "P2P listen multiaddr (e.g. /ip4/0.0.0.0/tcp/31000)")
	flag.StringVar(&p2pBoot, "p2p.bootnodes", "", "Comma-separated bootnode multiaddrs or path to file")
	flag.BoolVar(&p2pNAT, "p2p.nat", false, "Enable NAT port mapping")
	flag.Parse()

	if nodePath == "" || committeePath == "" || session == "" {
		logger.ErrorJ("node_start", map[string]any{"err": "-node, -committee and -session are required"})
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	secrets, err := loadSecrets(nodePath)
	if err != nil {
		fatal("load secrets", err)
	}
	comm, err := committee.Load(committeePath)
	if err != nil {
		fatal("load committee", err)
	}

	// Monitoring endpoint: /metrics on the process registry.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: monAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorJ("monitoring", map[string]any{"addr": monAddr, "err": err.Error()})
		}
	}()

	tr, err := transport.BuildTransport(netConfig(p2pEnable, p2pListen, p2pBoot, p2pNAT))
	if err != nil {
		fatal("build transport", err)
	}
	if err := tr.Start(ctx); err != nil {
		fatal("start transport", err)
	}
	defer func() { _ = tr.Stop(context.Background()) }()

	b := bus.New(256)
	store := acss.NewKeyStoreFromEnv(filepath.Join(dataDir, "keystore"))

	switch mode {
	case "share":
		runShare(ctx, shareParams{
			session: session, comm: comm, secrets: secrets, store: store, bus: b,
			tr: tr, dataDir: dataDir, scheme: scheme, highThreshold: highThreshold,
			deal: doDeal, dealSecret: dealSecret,
		})
	case "reshare":
		runReshare(ctx, reshareParams{
			session: session, old: comm, newPath: newCommittee, secrets: secrets,
			bus: b, tr: tr, dataDir: dataDir, scheme: scheme,
		})
	default:
		logger.ErrorJ("node_start", map[string]any{"err": "unknown mode " + mode})
		os.Exit(2)
	}

	<-ctx.Done()
	logger.Sync()
}

type shareParams struct {
	session       string
	comm          committee.Committee
	secrets       nodeSecrets
	store         *acss.KeyStore
	bus           *bus.Bus
	tr            transport.Transport
	dataDir       string
	scheme        string
	highThreshold bool
	deal          bool
	dealSecret    int64
}

func runShare(ctx context.Context, p shareParams) {
	dealerIndex := 0
	if p.deal {
		dealerIndex = p.secrets.Index
	}
	cfg := acss.Config{
		SessionID:     p.session,
		Epoch:         p.comm.Epoch,
		Committee:     p.comm,
		SelfIndex:     p.secrets.Index,
		DealerIndex:   dealerIndex,
		SigPriv:       p.secrets.SigPriv,
		EncPriv:       p.secrets.EncPriv,
		Scheme:        p.scheme,
		HighThreshold: p.highThreshold,
		SessionDir:    filepath.Join(p.dataDir, "sessions"),
	}
	// onFinal reaches back into the runner for the instance commitment, so
	// the variable is captured before construction.
	var runner *acss.Runner
	onFinal := func(ev acss.FinalEvent) {
		if ev.State != acss.StateValid || ev.Share == nil {
			return
		}
		rec := acss.ShareRecord{
			Epoch:  ev.Epoch,
			Index:  ev.Share.Index,
			Scheme: p.scheme,
			Value:  core.ScalarToBytes(ev.Share.Value),
		}
		if ev.Share.Blind != nil {
			rec.Blind = core.ScalarToBytes(*ev.Share.Blind)
		}
		if c, ok := runner.CommitmentFor(ev.Dealer); ok {
			rec.Commitment = c
		}
		if err := p.store.SaveShare(ctx, rec); err != nil {
			logger.ErrorJ("node_share", map[string]any{"epoch": ev.Epoch, "err": err.Error()})
		}
	}
	runner, err := acss.NewRunner(cfg, p.tr, acss.WithBus(p.bus), acss.WithFinalizeFunc(onFinal))
	if err != nil {
		fatal("build runner", err)
	}
	if err := runner.Start(ctx); err != nil {
		fatal("start runner", err)
	}
	logger.InfoJ("node_start", map[string]any{
		"mode": "share", "session": p.session, "epoch": p.comm.Epoch,
		"index": p.secrets.Index, "dealer": dealerIndex,
	})
	if p.deal {
		secret, err := dealScalar(p.dealSecret)
		if err != nil {
			fatal("sample secret", err)
		}
		if err := runner.Deal(ctx, secret); err != nil {
			fatal("deal", err)
		}
	}
}

type reshareParams struct {
	session string
	old     committee.Committee
	newPath string
	secrets nodeSecrets
	bus     *bus.Bus
	tr      transport.Transport
	dataDir string
	scheme  string
}

func runReshare(ctx context.Context, p reshareParams) {
	if p.newPath == "" {
		logger.ErrorJ("node_start", map[string]any{"err": "reshare mode requires -new-committee"})
		os.Exit(2)
	}
	next, err := committee.Load(p.newPath)
	if err != nil {
		fatal("load new committee", err)
	}
	// Membership in each committee is read off the key material: a party is
	// outgoing or incoming exactly when its signing key appears there.
	outIndex := indexOf(p.old, p.secrets)
	inIndex := indexOf(next, p.secrets)
	cfg := reshare.Config{
		SessionID:   p.session,
		Old:         p.old,
		New:         next,
		OutIndex:    outIndex,
		InIndex:     inIndex,
		SigPriv:     p.secrets.SigPriv,
		EncPriv:     p.secrets.EncPriv,
		Scheme:      p.scheme,
		KeyStoreDir: filepath.Join(p.dataDir, "keystore"),
		SessionDir:  filepath.Join(p.dataDir, "sessions"),
	}
	h, err := reshare.NewHandover(cfg, p.tr, reshare.WithBus(p.bus))
	if err != nil {
		fatal("build handover", err)
	}
	if err := h.Start(ctx); err != nil {
		fatal("start handover", err)
	}
	logger.InfoJ("node_start", map[string]any{
		"mode": "reshare", "session": p.session,
		"from_epoch": p.old.Epoch, "to_epoch": next.Epoch,
		"out": outIndex, "in": inIndex,
	})
}

func indexOf(c committee.Committee, s nodeSecrets) int {
	pub := s.SigPriv[32:]
	for _, m := range c.Members {
		if string(m.SigPub) == string(pub) {
			return m.Index
		}
	}
	return 0
}

func dealScalar(v int64) (fr.Element, error) {
	if v != 0 {
		var s fr.Element
		s.SetInt64(v)
		return s, nil
	}
	return core.RandomScalar()
}

func loadSecrets(path string) (nodeSecrets, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nodeSecrets{}, err
	}
	var s nodeSecrets
	if err := json.Unmarshal(b, &s); err != nil {
		return nodeSecrets{}, err
	}
	return s, nil
}

func netConfig(enable bool, listen, boot string, nat bool) transport.NetConfig {
	cfg := transport.NetConfig{Enable: enable, NAT: nat}
	if listen != "" {
		cfg.Listen = []string{listen}
	}
	if boot == "" {
		return cfg
	}
	// bootnodes: comma list or file with one multiaddr per line
	if fi, err := os.Stat(boot); err == nil && !fi.IsDir() {
		if b, err := os.ReadFile(boot); err == nil {
			for _, ln := range strings.Split(string(b), "\n") {
				if ln = strings.TrimSpace(ln); ln != "" {
					cfg.Bootnodes = append(cfg.Bootnodes, ln)
				}
			}
		}
		return cfg
	}
	for _, p := range strings.Split(boot, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.Bootnodes = append(cfg.Bootnodes, p)
		}
	}
	return cfg
}

func fatal(op string, err error) {
	logger.ErrorJ("node_fatal", map[string]any{"op": op, "err": err.Error()})
	os.Exit(1)
}
