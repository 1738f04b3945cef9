package acss

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/committee"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/hegamal"
	"github.com/threshnet/dpss/internal/pss/poly"
	"github.com/threshnet/dpss/internal/transport/wire"
)

type memBus struct {
	mu   sync.Mutex
	subs []func(wire.ACSS)

	complaints int64
	shareOpens int64
	recovers   int64
}

func (b *memBus) subscribe(fn func(wire.ACSS)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

func (b *memBus) broadcast(m wire.ACSS) {
	switch m.Type {
	case wire.TypeComplaint:
		atomic.AddInt64(&b.complaints, 1)
	case wire.TypeShareOpen:
		atomic.AddInt64(&b.shareOpens, 1)
	case wire.TypeRecover:
		atomic.AddInt64(&b.recovers, 1)
	}
	b.mu.Lock()
	subs := append([]func(wire.ACSS){}, b.subs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn := fn
		go fn(m)
	}
}

type memTransport struct {
	bus *memBus
}

func (t *memTransport) Start(_ context.Context) error { return nil }

func (t *memTransport) Stop(_ context.Context) error { return nil }

func (t *memTransport) BroadcastACSS(_ context.Context, m wire.ACSS) error {
	t.bus.broadcast(m)
	return nil
}

func (t *memTransport) OnACSS(fn func(wire.ACSS)) { t.bus.subscribe(fn) }

type testParty struct {
	idx     int
	sigPriv ed25519.PrivateKey
	encPriv []byte
}

func newTestCommittee(t *testing.T, n, ft, d int) (committee.Committee, []testParty) {
	t.Helper()
	c := committee.Committee{Epoch: 1, N: n, T: ft, D: d}
	parties := make([]testParty, 0, n)
	for i := 1; i <= n; i++ {
		sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("ed25519: %v", err)
		}
		kp, err := hegamal.GenerateKeyPair()
		if err != nil {
			t.Fatalf("hegamal: %v", err)
		}
		c.Members = append(c.Members, committee.Member{
			Index:  i,
			SigPub: append([]byte(nil), sigPub...),
			EncPub: core.PointToBytes(kp.PK),
		})
		parties = append(parties, testParty{
			idx:     i,
			sigPriv: sigPriv,
			encPriv: core.ScalarToBytes(kp.SK),
		})
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("committee: %v", err)
	}
	return c, parties
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		if cond() {
			return
		}
		select {
		case <-deadline.C:
			t.Fatalf("timeout waiting for condition")
		case <-tick.C:
		}
	}
}

func scalar(v int64) fr.Element {
	var s fr.Element
	s.SetInt64(v)
	return s
}

func startRunners(t *testing.T, ctx context.Context, c committee.Committee, parties []testParty, bus *memBus, mutate func(i int, cfg *Config)) []*Runner {
	t.Helper()
	runners := make([]*Runner, 0, len(parties))
	for _, p := range parties {
		cfg := Config{
			SessionID: "sess",
			Epoch:     c.Epoch,
			Committee: c,
			SelfIndex: p.idx,
			SigPriv:   p.sigPriv,
			EncPriv:   p.encPriv,
		}
		if mutate != nil {
			mutate(p.idx, &cfg)
		}
		r, err := NewRunner(cfg, &memTransport{bus: bus}, WithRetryInterval(10*time.Millisecond))
		if err != nil {
			t.Fatalf("runner[%d]: %v", p.idx, err)
		}
		if err := r.Start(ctx); err != nil {
			t.Fatalf("start[%d]: %v", p.idx, err)
		}
		runners = append(runners, r)
	}
	return runners
}

func TestRunnerClosedLoopValid(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 1)
	bus := &memBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runners := startRunners(t, ctx, c, parties, bus, func(i int, cfg *Config) {
		if i == 1 {
			cfg.DealerIndex = 1
		}
	})

	secret := scalar(42)
	if err := runners[0].Deal(ctx, secret); err != nil {
		t.Fatalf("deal: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		for _, r := range runners {
			if st, _ := r.InstanceState(1); st != StateValid {
				return false
			}
			if _, ok := r.ShareFor(1); !ok {
				return false
			}
		}
		return true
	})

	// Shares must open the pinned commitment and reconstruct the secret.
	com, ok := runners[1].CommitmentFor(1)
	if !ok {
		t.Fatalf("missing commitment")
	}
	pts := make([]poly.Point, 0, c.D+1)
	for _, r := range runners[:c.D+1] {
		sh, _ := r.ShareFor(1)
		if err := com.VerifyEval(sh.Index, sh.Value, sh.Blind); err != nil {
			t.Fatalf("share %d does not open commitment: %v", sh.Index, err)
		}
		pts = append(pts, poly.Point{X: sh.Index, Y: sh.Value})
	}
	got, err := poly.InterpolateAtZero(pts)
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if !got.Equal(&secret) {
		t.Fatalf("reconstructed secret mismatch")
	}

	if n := atomic.LoadInt64(&bus.complaints); n != 0 {
		t.Fatalf("unexpected complaints: %d", n)
	}
}

func TestRunnerPedersenClosedLoop(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 2)
	bus := &memBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runners := startRunners(t, ctx, c, parties, bus, func(i int, cfg *Config) {
		cfg.Scheme = commit.SchemePedersen
		if i == 2 {
			cfg.DealerIndex = 2
		}
	})

	secret := scalar(31337)
	if err := runners[1].Deal(ctx, secret); err != nil {
		t.Fatalf("deal: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		for _, r := range runners {
			if st, _ := r.InstanceState(2); st != StateValid {
				return false
			}
			sh, ok := r.ShareFor(2)
			if !ok || sh.Blind == nil {
				return false
			}
		}
		return true
	})

	com, _ := runners[0].CommitmentFor(2)
	sh, _ := runners[3].ShareFor(2)
	if err := com.VerifyEval(sh.Index, sh.Value, sh.Blind); err != nil {
		t.Fatalf("pedersen share does not open: %v", err)
	}
}

func TestRunnerBadKeyShareOpenRecovers(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 1)
	bus := &memBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runners := startRunners(t, ctx, c, parties, bus, func(i int, cfg *Config) {
		if i == 1 {
			cfg.DealerIndex = 1
		}
		// Party 2 holds a key that does not match its advertised enc_pub: it
		// cannot decrypt its share and must recover through a complaint.
		if i == 2 {
			bad, err := core.RandomScalar()
			if err != nil {
				t.Fatalf("rand: %v", err)
			}
			cfg.EncPriv = core.ScalarToBytes(bad)
		}
	})

	secret := scalar(7)
	if err := runners[0].Deal(ctx, secret); err != nil {
		t.Fatalf("deal: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		for _, r := range runners {
			if st, _ := r.InstanceState(1); st != StateValid {
				return false
			}
		}
		_, ok := runners[1].ShareFor(1)
		return ok
	})

	if atomic.LoadInt64(&bus.complaints) == 0 {
		t.Fatalf("expected a complaint")
	}
	if atomic.LoadInt64(&bus.shareOpens) == 0 {
		t.Fatalf("expected a share_open")
	}
	sh, _ := runners[1].ShareFor(1)
	com, _ := runners[1].CommitmentFor(1)
	if err := com.VerifyEval(2, sh.Value, sh.Blind); err != nil {
		t.Fatalf("recovered share does not open: %v", err)
	}
}

func TestRunnerHighThresholdPeerRecovery(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 2)
	bus := &memBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runners := startRunners(t, ctx, c, parties, bus, func(i int, cfg *Config) {
		cfg.HighThreshold = true
		if i == 1 {
			cfg.DealerIndex = 1
		}
		if i == 3 {
			bad, err := core.RandomScalar()
			if err != nil {
				t.Fatalf("rand: %v", err)
			}
			cfg.EncPriv = core.ScalarToBytes(bad)
		}
	})

	secret := scalar(987654321)
	if err := runners[0].Deal(ctx, secret); err != nil {
		t.Fatalf("deal: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		for _, r := range runners {
			if st, _ := r.InstanceState(1); st != StateValid {
				return false
			}
			sh, ok := r.ShareFor(1)
			if !ok || sh.Row == nil {
				return false
			}
		}
		return true
	})

	// Rows must agree pairwise: f_i(j) == f_j(i).
	for _, ri := range runners {
		shi, _ := ri.ShareFor(1)
		for _, rj := range runners {
			shj, _ := rj.ShareFor(1)
			a := shi.Row.EvalAt(shj.Index)
			b := shj.Row.EvalAt(shi.Index)
			if !a.Equal(&b) {
				t.Fatalf("row cross mismatch between %d and %d", shi.Index, shj.Index)
			}
		}
	}

	// d+1 row constant terms reconstruct the secret.
	pts := make([]poly.Point, 0, c.D+1)
	for _, r := range runners[:c.D+1] {
		sh, _ := r.ShareFor(1)
		pts = append(pts, poly.Point{X: sh.Index, Y: sh.Value})
	}
	got, err := poly.InterpolateAtZero(pts)
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if !got.Equal(&secret) {
		t.Fatalf("reconstructed secret mismatch")
	}
}

// craftDeal builds a signed deal from a committee member without running a
// dealer, so tests can tamper with it in flight.
func craftDeal(t *testing.T, c committee.Committee, p testParty, secret fr.Element) (wire.ACSS, *poly.Polynomial) {
	t.Helper()
	pl, err := poly.NewRandom(c.D, secret)
	if err != nil {
		t.Fatalf("poly: %v", err)
	}
	com, _, err := commit.Commit(commit.SchemeFeldman, pl)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	shares := make([]wire.EncShare, 0, c.N)
	for i := 1; i <= c.N; i++ {
		mem, _ := c.Member(i)
		pk, err := core.PointFromBytes(mem.EncPub)
		if err != nil {
			t.Fatalf("enc pub: %v", err)
		}
		value := pl.EvalAt(i)
		info := shareContext("sess", c.Epoch, 0, p.idx, i)
		ct, r, err := hegamal.Encrypt(pk, core.ScalarToBytes(value), info)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		evalPt, err := com.Eval(i)
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		proof, err := hegamal.Prove(r, value, nil, ct, evalPt, pk, info)
		if err != nil {
			t.Fatalf("prove: %v", err)
		}
		shares = append(shares, wire.EncShare{Index: i, Ct: ct, Proof: proof})
	}
	msg := wire.ACSS{
		SessionID:  "sess",
		Epoch:      c.Epoch,
		Type:       wire.TypeDeal,
		Dealer:     p.idx,
		From:       p.idx,
		Commitment: com,
		Shares:     shares,
	}
	return signAs(t, msg, p.sigPriv), pl
}

func signAs(t *testing.T, m wire.ACSS, priv ed25519.PrivateKey) wire.ACSS {
	t.Helper()
	m.Sig = nil
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m.Sig = ed25519.Sign(priv, b)
	return m
}

func TestRunnerRejectsTamperedDeal(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 1)
	bus := &memBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Parties 1, 2 and 4 run honestly; party 3 is the Byzantine dealer
	// simulated by the test.
	honest := []testParty{parties[0], parties[1], parties[3]}
	runners := startRunners(t, ctx, c, honest, bus, nil)

	deal, _ := craftDeal(t, c, parties[2], scalar(666))
	// Flip one ciphertext byte after proving; the challenge binds the bytes,
	// so every party sees an invalid proof.
	deal.Shares[1].Ct.Data[0] ^= 0x01
	deal = signAs(t, deal, parties[2].sigPriv)
	bus.broadcast(deal)

	waitFor(t, 3*time.Second, func() bool {
		for _, r := range runners {
			if st, _ := r.InstanceState(3); st != StateInvalid {
				return false
			}
		}
		return true
	})

	for _, r := range runners {
		if _, ok := r.ShareFor(3); ok {
			t.Fatalf("no share should be adopted from an invalid deal")
		}
	}
}

func TestRunnerPinsFirstDeal(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Single receiver driven synchronously; the dealer equivocates.
	bus := &memBus{}
	runners := startRunners(t, ctx, c, parties[:1], bus, nil)
	r := runners[0]

	dealA, _ := craftDeal(t, c, parties[2], scalar(1))
	dealB, _ := craftDeal(t, c, parties[2], scalar(2))
	r.OnMessage(ctx, dealA)
	r.OnMessage(ctx, dealB)

	com, ok := r.CommitmentFor(3)
	if !ok || !com.Equal(dealA.Commitment) {
		t.Fatalf("first deal must stay pinned")
	}
	// The conflicting deal is public evidence; it downgrades the earlier ok.
	r.mu.Lock()
	vote, reason := r.instances[3].vote, r.instances[3].reason
	r.mu.Unlock()
	if vote != wire.VoteReject || reason != "equivocation" {
		t.Fatalf("conflicting deal must turn the vote into a reject, got %q/%q", vote, reason)
	}
}

func TestRunnerBansVoteEquivocators(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &memBus{}
	runners := startRunners(t, ctx, c, parties[:1], bus, nil)
	r := runners[0]

	deal, _ := craftDeal(t, c, parties[2], scalar(5))
	r.OnMessage(ctx, deal)

	voteOf := func(vote string, digest []byte) wire.ACSS {
		return signAs(t, wire.ACSS{
			SessionID: "sess", Epoch: c.Epoch, Type: wire.TypeVote,
			Dealer: 3, From: 2, Vote: vote, CommitDigest: digest,
		}, parties[1].sigPriv)
	}
	digest := deal.Commitment.Digest()

	// A reject after an ok is a legitimate downgrade (evidence can surface
	// late) and replaces the earlier vote without a ban.
	r.OnMessage(ctx, voteOf(wire.VoteOk, digest))
	r.OnMessage(ctx, voteOf(wire.VoteReject, nil))
	r.mu.Lock()
	rec := r.instances[3].votes[2]
	r.mu.Unlock()
	if rec.vote != wire.VoteReject {
		t.Fatalf("downgrade must replace the ok vote, got %q", rec.vote)
	}

	// Flipping back to ok is sender equivocation: discard and ban.
	r.OnMessage(ctx, voteOf(wire.VoteOk, digest))
	r.mu.Lock()
	in := r.instances[3]
	_, banned := in.equivocators[2]
	_, hasVote := in.votes[2]
	r.mu.Unlock()
	if !banned {
		t.Fatalf("conflicting voter must be banned")
	}
	if hasVote {
		t.Fatalf("equivocator votes must be discarded")
	}
}

func TestRunnerBansConflictingOkDigests(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &memBus{}
	runners := startRunners(t, ctx, c, parties[:1], bus, nil)
	r := runners[0]

	deal, _ := craftDeal(t, c, parties[2], scalar(6))
	r.OnMessage(ctx, deal)

	voteOf := func(digest []byte) wire.ACSS {
		return signAs(t, wire.ACSS{
			SessionID: "sess", Epoch: c.Epoch, Type: wire.TypeVote,
			Dealer: 3, From: 2, Vote: wire.VoteOk, CommitDigest: digest,
		}, parties[1].sigPriv)
	}
	r.OnMessage(ctx, voteOf(deal.Commitment.Digest()))
	r.OnMessage(ctx, voteOf([]byte("some other commitment")))

	r.mu.Lock()
	in := r.instances[3]
	_, banned := in.equivocators[2]
	_, hasVote := in.votes[2]
	r.mu.Unlock()
	if !banned {
		t.Fatalf("two oks for different commitments must ban the sender")
	}
	if hasVote {
		t.Fatalf("equivocator votes must be discarded")
	}
}

func TestRunnerSplitDealDoesNotFinalize(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Party 3 deals one polynomial to parties 1 and 2 and a different one to
	// party 4, acknowledging each deal toward its own audience. Each honest
	// party runs on an isolated wire so the test controls delivery.
	r1 := startRunners(t, ctx, c, parties[:1], &memBus{}, nil)[0]
	r2 := startRunners(t, ctx, c, parties[1:2], &memBus{}, nil)[0]
	r4 := startRunners(t, ctx, c, parties[3:4], &memBus{}, nil)[0]

	dealA, _ := craftDeal(t, c, parties[2], scalar(1000))
	dealB, _ := craftDeal(t, c, parties[2], scalar(2000))
	r1.OnMessage(ctx, dealA)
	r2.OnMessage(ctx, dealA)
	r4.OnMessage(ctx, dealB)

	voteOf := func(p testParty, digest []byte) wire.ACSS {
		return signAs(t, wire.ACSS{
			SessionID: "sess", Epoch: c.Epoch, Type: wire.TypeVote,
			Dealer: 3, From: p.idx, Vote: wire.VoteOk, CommitDigest: digest,
		}, p.sigPriv)
	}
	digestA := dealA.Commitment.Digest()
	digestB := dealB.Commitment.Digest()

	r1.OnMessage(ctx, voteOf(parties[1], digestA))
	r1.OnMessage(ctx, voteOf(parties[3], digestB))
	r1.OnMessage(ctx, voteOf(parties[2], digestA))

	r2.OnMessage(ctx, voteOf(parties[0], digestA))
	r2.OnMessage(ctx, voteOf(parties[3], digestB))
	r2.OnMessage(ctx, voteOf(parties[2], digestA))

	r4.OnMessage(ctx, voteOf(parties[0], digestA))
	r4.OnMessage(ctx, voteOf(parties[1], digestA))
	r4.OnMessage(ctx, voteOf(parties[2], digestB))

	// The audience of the first deal finalizes on it and every adopted share
	// opens that one commitment.
	for _, r := range []*Runner{r1, r2} {
		if st, _ := r.InstanceState(3); st != StateValid {
			t.Fatalf("expected valid on the first deal, got %v", st)
		}
		sh, ok := r.ShareFor(3)
		if !ok {
			t.Fatalf("missing share")
		}
		if err := dealA.Commitment.VerifyEval(sh.Index, sh.Value, sh.Blind); err != nil {
			t.Fatalf("share %d does not open the finalized commitment: %v", sh.Index, err)
		}
	}

	// Party 4 pinned the other commitment; oks for the first one must not
	// count toward it, so its instance cannot turn valid and no share of the
	// second polynomial ever enters a reconstruction set.
	if st, _ := r4.InstanceState(3); st != StatePending {
		t.Fatalf("second deal must not finalize, got %v", st)
	}
}

func TestRunnerRedeliveredDealAfterUnvotedCrash(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	deal, _ := craftDeal(t, c, parties[2], scalar(13))

	// A crash between pinning the commitment and casting the vote leaves a
	// snapshot with neither share nor vote.
	st := sessionState{
		Epoch: c.Epoch,
		Instances: map[int]instanceSnapshot{
			3: {Commitment: deal.Commitment, State: string(StatePending)},
		},
	}
	if err := NewSessionStore(dir).Save("sess", st); err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg := Config{
		SessionID:  "sess",
		Epoch:      c.Epoch,
		Committee:  c,
		SelfIndex:  1,
		SigPriv:    parties[0].sigPriv,
		EncPriv:    parties[0].encPriv,
		SessionDir: dir,
	}
	r, err := NewRunner(cfg, &memTransport{bus: &memBus{}}, WithRetryInterval(time.Hour))
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The dealer rebroadcasts the identical deal after the restart; it must
	// run the full verify/decrypt/vote path instead of short-circuiting on
	// the already pinned commitment.
	r.OnMessage(ctx, deal)

	if _, ok := r.ShareFor(3); !ok {
		t.Fatalf("share not adopted from the redelivered deal")
	}
	r.mu.Lock()
	voted, vote := r.instances[3].voted, r.instances[3].vote
	r.mu.Unlock()
	if !voted || vote != wire.VoteOk {
		t.Fatalf("vote not cast after redelivery, voted=%v vote=%q", voted, vote)
	}
}

func TestRunnerSessionResume(t *testing.T) {
	c, parties := newTestCommittee(t, 4, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	bus := &memBus{}
	cfg := Config{
		SessionID:  "sess",
		Epoch:      c.Epoch,
		Committee:  c,
		SelfIndex:  1,
		SigPriv:    parties[0].sigPriv,
		EncPriv:    parties[0].encPriv,
		SessionDir: dir,
	}
	r1, err := NewRunner(cfg, &memTransport{bus: bus}, WithRetryInterval(time.Hour))
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if err := r1.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deal, _ := craftDeal(t, c, parties[2], scalar(11))
	r1.OnMessage(ctx, deal)
	if _, ok := r1.ShareFor(3); !ok {
		t.Fatalf("share not adopted before restart")
	}

	// Same party after a restart: pinned commitment, share and vote survive.
	r2, err := NewRunner(cfg, &memTransport{bus: &memBus{}}, WithRetryInterval(time.Hour))
	if err != nil {
		t.Fatalf("runner2: %v", err)
	}
	if err := r2.Start(ctx); err != nil {
		t.Fatalf("start2: %v", err)
	}
	com, ok := r2.CommitmentFor(3)
	if !ok || !com.Equal(deal.Commitment) {
		t.Fatalf("commitment not restored")
	}
	sh, ok := r2.ShareFor(3)
	if !ok {
		t.Fatalf("share not restored")
	}
	want := sh.Value
	orig, _ := r1.ShareFor(3)
	if !want.Equal(&orig.Value) {
		t.Fatalf("restored share mismatch")
	}
	r2.mu.Lock()
	voted := r2.instances[3].voted
	r2.mu.Unlock()
	if !voted {
		t.Fatalf("vote flag not restored")
	}
}
