// Package reshare hands a sharing over from one committee to the next. Every
// outgoing member redeals its epoch share as the secret of one ACSS instance
// toward the new committee; once d_old+1 instances finalize Valid, each
// incoming member combines its sub-shares with Lagrange weights into its new
// epoch share. The underlying secret never materializes anywhere, and the
// new sharing carries fresh randomness, so old and new shares do not mix.
package reshare

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"
	"time"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/acss"
	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/committee"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/poly"
	"github.com/threshnet/dpss/internal/transport"
	"github.com/threshnet/dpss/pkg/bus"
	"github.com/threshnet/dpss/pkg/logger"
	"github.com/threshnet/dpss/pkg/metrics"
)

// Config describes one party's roles in a handover. OutIndex is its index in
// the outgoing committee (0 if it is not handing a share over), InIndex its
// index in the incoming committee (0 if it leaves). Committee sizes and
// thresholds may differ across the boundary.
type Config struct {
	SessionID string

	Old committee.Committee
	New committee.Committee

	OutIndex int
	InIndex  int

	SigPriv ed25519.PrivateKey
	EncPriv []byte

	Scheme string

	// CombineSet optionally fixes which Valid instances feed the new share.
	// All incoming members must use the same set; leave empty to take the
	// lowest d_old+1 Valid dealers, which assumes an agreement layer above
	// keeps parties aligned.
	CombineSet []int

	KeyStoreDir string
	SessionDir  string
}

func (c *Config) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("reshare: empty session id")
	}
	if err := c.Old.Validate(); err != nil {
		return fmt.Errorf("reshare: old committee: %w", err)
	}
	if err := c.New.Validate(); err != nil {
		return fmt.Errorf("reshare: new committee: %w", err)
	}
	if c.New.Epoch != c.Old.Epoch+1 {
		return fmt.Errorf("reshare: epochs must be consecutive, got %d -> %d", c.Old.Epoch, c.New.Epoch)
	}
	if c.OutIndex < 0 || c.OutIndex > c.Old.N {
		return fmt.Errorf("reshare: out index %d", c.OutIndex)
	}
	if c.InIndex < 0 || c.InIndex > c.New.N {
		return fmt.Errorf("reshare: in index %d", c.InIndex)
	}
	if c.OutIndex == 0 && c.InIndex == 0 {
		return fmt.Errorf("reshare: party has no role")
	}
	for _, j := range c.CombineSet {
		if j < 1 || j > c.Old.N {
			return fmt.Errorf("reshare: combine set member %d", j)
		}
	}
	if len(c.CombineSet) > 0 && len(c.CombineSet) != c.Old.D+1 {
		return fmt.Errorf("reshare: combine set needs exactly %d members", c.Old.D+1)
	}
	return nil
}

// Result is the outcome of a completed handover for an incoming member.
type Result struct {
	Epoch uint64
	Index int
	Value fr.Element
	Blind *fr.Element
}

type Option func(*Handover)

func WithBus(b *bus.Bus) Option {
	return func(h *Handover) { h.bus = b }
}

// WithCompleteFunc registers a callback invoked once when the new share is
// durable.
func WithCompleteFunc(fn func(Result)) Option {
	return func(h *Handover) { h.onComplete = fn }
}

// Handover wires an ACSS runner with the outgoing committee as dealers and
// the incoming committee as receivers, then combines Valid instances into
// the next epoch share.
type Handover struct {
	cfg    Config
	runner *acss.Runner
	store  *acss.KeyStore

	bus        *bus.Bus
	onComplete func(Result)

	mu       sync.Mutex
	combined bool
	result   *Result
}

func NewHandover(cfg Config, tr transport.Transport, opts ...Option) (*Handover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handover{
		cfg:   cfg,
		store: acss.NewKeyStoreFromEnv(cfg.KeyStoreDir),
	}
	for _, o := range opts {
		o(h)
	}
	rcfg := acss.Config{
		SessionID:   cfg.SessionID,
		Epoch:       cfg.New.Epoch,
		SourceEpoch: cfg.Old.Epoch,
		Committee:   cfg.New,
		Dealers:     cfg.Old.Members,
		SelfIndex:   cfg.InIndex,
		DealerIndex: cfg.OutIndex,
		SigPriv:     cfg.SigPriv,
		EncPriv:     cfg.EncPriv,
		Scheme:      cfg.Scheme,
		SessionDir:  cfg.SessionDir,
	}
	runner, err := acss.NewRunner(rcfg, tr, acss.WithFinalizeFunc(h.onFinal))
	if err != nil {
		return nil, err
	}
	h.runner = runner
	return h, nil
}

// Runner exposes the underlying ACSS runner, mainly for tests and the node
// wiring.
func (h *Handover) Runner() *acss.Runner { return h.runner }

// Start launches the runner and, for an outgoing member, redeals its current
// epoch share into the round.
func (h *Handover) Start(ctx context.Context) error {
	if err := h.runner.Start(ctx); err != nil {
		return err
	}
	if h.cfg.OutIndex == 0 {
		return nil
	}
	rec, err := h.store.LoadShare(ctx, h.cfg.Old.Epoch)
	if err != nil {
		return fmt.Errorf("reshare: load epoch %d share: %w", h.cfg.Old.Epoch, err)
	}
	if rec.Index != h.cfg.OutIndex {
		return fmt.Errorf("reshare: stored share index %d, expected %d", rec.Index, h.cfg.OutIndex)
	}
	secret, err := core.ScalarFromBytes(rec.Value)
	if err != nil {
		return err
	}
	logger.InfoJ("reshare_deal", map[string]any{
		"session": h.cfg.SessionID, "from_epoch": h.cfg.Old.Epoch, "to_epoch": h.cfg.New.Epoch,
		"dealer": h.cfg.OutIndex,
	})
	return h.runner.Deal(ctx, secret)
}

// onFinal watches instance finalizations and triggers combination once
// enough Valid instances carry our sub-shares.
func (h *Handover) onFinal(ev acss.FinalEvent) {
	if ev.State != acss.StateValid {
		if ev.State == acss.StateInvalid {
			logger.ErrorJ("reshare_instance", map[string]any{"dealer": ev.Dealer, "state": string(ev.State)})
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if h.cfg.InIndex > 0 {
		h.tryCombine(ctx)
	} else {
		h.tryRetireOldShare(ctx)
	}
}

// combineSet picks the instances feeding the new share: the configured set
// when present, otherwise the lowest d_old+1 Valid dealers we hold
// sub-shares from.
func (h *Handover) combineSet() ([]int, bool) {
	need := h.cfg.Old.D + 1
	if len(h.cfg.CombineSet) > 0 {
		for _, j := range h.cfg.CombineSet {
			if st, ok := h.runner.InstanceState(j); !ok || st != acss.StateValid {
				return nil, false
			}
			if _, ok := h.runner.ShareFor(j); !ok {
				return nil, false
			}
		}
		set := append([]int(nil), h.cfg.CombineSet...)
		sort.Ints(set)
		return set, true
	}
	var set []int
	for _, j := range h.runner.ValidDealers() {
		if _, ok := h.runner.ShareFor(j); ok {
			set = append(set, j)
			if len(set) == need {
				return set, true
			}
		}
	}
	return nil, false
}

func (h *Handover) tryCombine(ctx context.Context) {
	h.mu.Lock()
	if h.combined {
		h.mu.Unlock()
		return
	}
	set, ok := h.combineSet()
	if !ok {
		h.mu.Unlock()
		return
	}
	h.combined = true
	h.mu.Unlock()

	res, rec, err := h.combine(set)
	if err != nil {
		h.mu.Lock()
		h.combined = false
		h.mu.Unlock()
		metrics.Inc("reshare_epochs_total", map[string]string{"result": "error"})
		logger.ErrorJ("reshare_combine", map[string]any{"err": err.Error()})
		return
	}
	if err := h.store.SaveShare(ctx, rec); err != nil {
		h.mu.Lock()
		h.combined = false
		h.mu.Unlock()
		metrics.Inc("reshare_epochs_total", map[string]string{"result": "error"})
		return
	}
	// New share durable; the old one must go before this party can be
	// considered handed over.
	if h.cfg.OutIndex > 0 {
		if err := h.store.DeleteShare(ctx, h.cfg.Old.Epoch); err != nil {
			logger.ErrorJ("reshare_retire", map[string]any{"epoch": h.cfg.Old.Epoch, "err": err.Error()})
		}
	}

	h.mu.Lock()
	h.result = &res
	h.mu.Unlock()

	metrics.Inc("reshare_epochs_total", map[string]string{"result": "ok"})
	logger.InfoJ("reshare_complete", map[string]any{
		"session": h.cfg.SessionID, "epoch": res.Epoch, "index": res.Index, "set": set,
	})
	if h.bus != nil {
		h.bus.Publish(ctx, bus.Event{Kind: bus.KindReshareComplete, Epoch: res.Epoch, Body: res})
	}
	if h.onComplete != nil {
		h.onComplete(res)
	}
}

// tryRetireOldShare handles a purely outgoing member: once the incoming
// committee verifiably has enough Valid instances to proceed without us, the
// old share is deleted.
func (h *Handover) tryRetireOldShare(ctx context.Context) {
	h.mu.Lock()
	if h.combined {
		h.mu.Unlock()
		return
	}
	valid := h.runner.ValidDealers()
	if len(valid) < h.cfg.Old.D+1 {
		h.mu.Unlock()
		return
	}
	h.combined = true
	h.mu.Unlock()

	if err := h.store.DeleteShare(ctx, h.cfg.Old.Epoch); err != nil {
		logger.ErrorJ("reshare_retire", map[string]any{"epoch": h.cfg.Old.Epoch, "err": err.Error()})
		return
	}
	metrics.Inc("reshare_epochs_total", map[string]string{"result": "retired"})
	logger.InfoJ("reshare_retire", map[string]any{"epoch": h.cfg.Old.Epoch, "index": h.cfg.OutIndex})
}

// combine folds the chosen sub-shares into the new epoch share
// s'_i = sum_j lambda_j(0) * q_j(i), with the commitment combined the same
// way so the record stays self-verifying.
func (h *Handover) combine(set []int) (Result, acss.ShareRecord, error) {
	weights, err := poly.LagrangeAtZero(set)
	if err != nil {
		return Result{}, acss.ShareRecord{}, err
	}
	var value, blind fr.Element
	hasBlind := false
	var comms []*commit.Commitment
	var ws []fr.Element
	for _, j := range set {
		sh, ok := h.runner.ShareFor(j)
		if !ok {
			return Result{}, acss.ShareRecord{}, fmt.Errorf("reshare: missing sub-share from dealer %d", j)
		}
		w := weights[j]
		var term fr.Element
		term.Mul(&sh.Value, &w)
		value.Add(&value, &term)
		if sh.Blind != nil {
			term.Mul(sh.Blind, &w)
			blind.Add(&blind, &term)
			hasBlind = true
		}
		c, ok := h.runner.CommitmentFor(j)
		if !ok {
			return Result{}, acss.ShareRecord{}, fmt.Errorf("reshare: missing commitment from dealer %d", j)
		}
		comms = append(comms, c)
		ws = append(ws, w)
	}

	combined, err := combineCommitments(comms, ws)
	if err != nil {
		return Result{}, acss.ShareRecord{}, err
	}
	var bp *fr.Element
	if hasBlind {
		bp = &blind
	}
	if err := combined.VerifyEval(h.cfg.InIndex, value, bp); err != nil {
		return Result{}, acss.ShareRecord{}, err
	}

	res := Result{Epoch: h.cfg.New.Epoch, Index: h.cfg.InIndex, Value: value, Blind: bp}
	rec := acss.ShareRecord{
		Epoch:      h.cfg.New.Epoch,
		Index:      h.cfg.InIndex,
		Scheme:     combined.Scheme,
		Value:      core.ScalarToBytes(value),
		Commitment: combined,
	}
	if bp != nil {
		rec.Blind = core.ScalarToBytes(*bp)
	}
	return res, rec, nil
}

// combineCommitments takes the weighted sum of the instance commitments
// coefficient-wise; the result commits to the combined polynomial.
func combineCommitments(comms []*commit.Commitment, weights []fr.Element) (*commit.Commitment, error) {
	if len(comms) == 0 || len(comms) != len(weights) {
		return nil, fmt.Errorf("reshare: commitment/weight mismatch")
	}
	scheme := comms[0].Scheme
	k := len(comms[0].Points)
	for _, c := range comms {
		if c.Scheme != scheme || c.Dim != 0 || len(c.Points) != k {
			return nil, fmt.Errorf("reshare: incompatible commitments")
		}
	}
	points := make([][]byte, k)
	for pos := 0; pos < k; pos++ {
		var acc bls12381.G1Affine
		for i, c := range comms {
			p, err := core.PointFromBytes(c.Points[pos])
			if err != nil {
				return nil, err
			}
			term := core.Mul(p, weights[i])
			if i == 0 {
				acc = term
			} else {
				acc = core.Add(acc, term)
			}
		}
		points[pos] = core.PointToBytes(acc)
	}
	return &commit.Commitment{Scheme: scheme, Points: points}, nil
}

// Result returns the combined share once the handover completed.
func (h *Handover) Result() (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result == nil {
		return Result{}, false
	}
	return *h.result, true
}
