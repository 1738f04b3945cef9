package reshare

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/acss"
	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/committee"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/hegamal"
	"github.com/threshnet/dpss/internal/pss/poly"
	"github.com/threshnet/dpss/internal/transport"
)

type testParty struct {
	idx     int
	sigPriv ed25519.PrivateKey
	encPriv []byte
}

func newTestCommittee(t *testing.T, epoch uint64, n, ft, d int) (committee.Committee, []testParty) {
	t.Helper()
	c := committee.Committee{Epoch: epoch, N: n, T: ft, D: d}
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
		parties = append(parties, testParty{idx: i, sigPriv: sigPriv, encPriv: core.ScalarToBytes(kp.SK)})
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

// TestHandoverEndToEnd moves a sharing from a 4-party d=1 committee to a
// disjoint, larger 7-party d=2 committee and checks the secret survives
// unchanged while every outgoing share is destroyed.
func TestHandoverEndToEnd(t *testing.T) {
	old, oldParties := newTestCommittee(t, 1, 4, 1, 1)
	next, newParties := newTestCommittee(t, 2, 7, 2, 2)

	// Epoch-1 sharing fabricated directly: f has degree d_old = 1.
	secret := scalar(20250042)
	f, err := poly.NewRandom(old.D, secret)
	if err != nil {
		t.Fatalf("poly: %v", err)
	}
	fCommit, _, err := commit.Commit(commit.SchemeFeldman, f)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := transport.NewHub()

	oldDirs := make(map[int]string, old.N)
	for _, p := range oldParties {
		dir := t.TempDir()
		oldDirs[p.idx] = dir
		rec := acss.ShareRecord{
			Epoch:      1,
			Index:      p.idx,
			Scheme:     commit.SchemeFeldman,
			Value:      core.ScalarToBytes(f.EvalAt(p.idx)),
			Commitment: fCommit,
		}
		if err := acss.NewKeyStore(dir).SaveShare(ctx, rec); err != nil {
			t.Fatalf("seed share %d: %v", p.idx, err)
		}
	}

	combineSet := []int{1, 2}
	handovers := make([]*Handover, 0, old.N+next.N)
	newDirs := make(map[int]string, next.N)

	for _, p := range oldParties {
		cfg := Config{
			SessionID:   "handover",
			Old:         old,
			New:         next,
			OutIndex:    p.idx,
			SigPriv:     p.sigPriv,
			KeyStoreDir: oldDirs[p.idx],
		}
		h, err := NewHandover(cfg, hub.Transport())
		if err != nil {
			t.Fatalf("out handover %d: %v", p.idx, err)
		}
		handovers = append(handovers, h)
	}
	var inbound []*Handover
	for _, p := range newParties {
		dir := t.TempDir()
		newDirs[p.idx] = dir
		cfg := Config{
			SessionID:   "handover",
			Old:         old,
			New:         next,
			InIndex:     p.idx,
			SigPriv:     p.sigPriv,
			EncPriv:     p.encPriv,
			CombineSet:  combineSet,
			KeyStoreDir: dir,
		}
		h, err := NewHandover(cfg, hub.Transport())
		if err != nil {
			t.Fatalf("in handover %d: %v", p.idx, err)
		}
		handovers = append(handovers, h)
		inbound = append(inbound, h)
	}

	for _, h := range handovers {
		if err := h.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	waitFor(t, 10*time.Second, func() bool {
		for _, h := range inbound {
			if _, ok := h.Result(); !ok {
				return false
			}
		}
		return true
	})

	// The combined shares reconstruct the original secret on the new
	// degree-d_new polynomial.
	pts := make([]poly.Point, 0, next.D+1)
	for _, h := range inbound[:next.D+1] {
		res, _ := h.Result()
		pts = append(pts, poly.Point{X: res.Index, Y: res.Value})
	}
	got, err := poly.InterpolateAtZero(pts)
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if !got.Equal(&secret) {
		t.Fatalf("secret changed across handover")
	}

	// New records are persisted, self-verifying, and all results agree on
	// one polynomial (pairwise-consistent commitments).
	var combined *commit.Commitment
	for _, h := range inbound {
		res, _ := h.Result()
		rec, err := acss.NewKeyStore(newDirs[res.Index]).LoadShare(ctx, 2)
		if err != nil {
			t.Fatalf("load new share %d: %v", res.Index, err)
		}
		if rec.Commitment == nil {
			t.Fatalf("missing combined commitment")
		}
		if err := rec.Commitment.VerifyEval(res.Index, res.Value, res.Blind); err != nil {
			t.Fatalf("combined share %d does not open: %v", res.Index, err)
		}
		if combined == nil {
			combined = rec.Commitment
		} else if !combined.Equal(rec.Commitment) {
			t.Fatalf("combined commitments diverge")
		}
	}

	// Outgoing members must have destroyed their epoch-1 shares.
	waitFor(t, 10*time.Second, func() bool {
		for _, dir := range oldDirs {
			if _, err := acss.NewKeyStore(dir).LoadShare(ctx, 1); err != acss.ErrNotFound {
				return false
			}
		}
		return true
	})
}

func TestHandoverConfigValidate(t *testing.T) {
	old, oldParties := newTestCommittee(t, 1, 4, 1, 1)
	next, _ := newTestCommittee(t, 2, 4, 1, 1)

	base := Config{
		SessionID: "s",
		Old:       old,
		New:       next,
		OutIndex:  1,
		SigPriv:   oldParties[0].sigPriv,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config: %v", err)
	}

	c := base
	c.New.Epoch = 5
	if err := c.Validate(); err == nil {
		t.Fatalf("non-consecutive epochs must fail")
	}

	c = base
	c.OutIndex, c.InIndex = 0, 0
	if err := c.Validate(); err == nil {
		t.Fatalf("role-less config must fail")
	}

	c = base
	c.CombineSet = []int{1}
	if err := c.Validate(); err == nil {
		t.Fatalf("short combine set must fail")
	}
	c.CombineSet = []int{1, 9}
	if err := c.Validate(); err == nil {
		t.Fatalf("out-of-range combine set must fail")
	}
}
