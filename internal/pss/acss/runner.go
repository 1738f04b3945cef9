// Package acss runs asynchronous complete secret sharing rounds: a dealer
// commits to a polynomial, delivers encrypted shares with publicly
// verifiable consistency proofs, and the committee votes each instance to a
// terminal Valid or Invalid state on message counts alone. The same runner
// executes initial sharings and reshare instances; only the dealer set and
// epoch labels differ.
package acss

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/google/uuid"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/hegamal"
	"github.com/threshnet/dpss/internal/pss/poly"
	"github.com/threshnet/dpss/internal/transport"
	"github.com/threshnet/dpss/internal/transport/wire"
	"github.com/threshnet/dpss/pkg/bus"
	"github.com/threshnet/dpss/pkg/logger"
	"github.com/threshnet/dpss/pkg/metrics"
)

// FinalEvent reports an instance reaching a terminal state, or a share
// arriving late via open/recovery after the instance already finalized.
type FinalEvent struct {
	SessionID   string
	Epoch       uint64
	SourceEpoch uint64
	Dealer      int
	State       State
	Share       *Share
}

type Option func(*Runner)

// WithRetryInterval overrides the rebroadcast period for unfinalized
// instances.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

// WithAgreement replaces the default quorum-counting agreement.
func WithAgreement(a Agreement) Option {
	return func(r *Runner) {
		if a != nil {
			r.agree = a
		}
	}
}

// WithFinalizeFunc registers a callback invoked outside the runner lock on
// every FinalEvent.
func WithFinalizeFunc(fn func(FinalEvent)) Option {
	return func(r *Runner) { r.onFinal = fn }
}

// WithBus publishes finalize events to an in-process bus.
func WithBus(b *bus.Bus) Option {
	return func(r *Runner) { r.bus = b }
}

// Runner drives every sharing instance of one (session, epoch) round for a
// single party. Message handling is serialized per instance under mu;
// signature checks and curve arithmetic run outside the lock.
type Runner struct {
	cfg  Config
	tr   transport.Transport
	sess *SessionStore

	agree         Agreement
	onFinal       func(FinalEvent)
	bus           *bus.Bus
	retryInterval time.Duration

	enc hegamal.KeyPair

	mu        sync.Mutex
	started   bool
	instances map[int]*instance
}

func NewRunner(cfg Config, tr transport.Transport, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg: cfg,
		tr:  tr,
		agree: QuorumAgreement{
			OkQuorum:     cfg.Committee.OkQuorum(),
			RejectQuorum: cfg.Committee.RejectQuorum(),
		},
		retryInterval: 2 * time.Second,
		instances:     map[int]*instance{},
	}
	if cfg.SelfIndex > 0 {
		kp, err := hegamal.KeyPairFromBytes(cfg.EncPriv)
		if err != nil {
			return nil, err
		}
		r.enc = kp
	}
	if cfg.SessionDir != "" {
		r.sess = NewSessionStore(cfg.SessionDir)
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Start restores any persisted session state, subscribes to the transport
// and launches the rebroadcast loop. It returns immediately; progress is
// driven by inbound messages.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	if r.sess != nil {
		if st, err := r.sess.Load(r.cfg.SessionID); err == nil {
			if err := r.restoreLocked(st); err != nil {
				logger.ErrorJ("acss_restore", map[string]any{"session": r.cfg.SessionID, "result": "error", "err": err.Error()})
			} else {
				logger.InfoJ("acss_restore", map[string]any{"session": r.cfg.SessionID, "result": "ok", "instances": len(r.instances)})
			}
		}
	}
	r.mu.Unlock()

	r.tr.OnACSS(func(m wire.ACSS) { r.OnMessage(ctx, m) })
	go r.retryLoop(ctx)
	return nil
}

func (r *Runner) restoreLocked(st sessionState) error {
	if st.Epoch != r.cfg.Epoch || st.SourceEpoch != r.cfg.SourceEpoch {
		return ErrInvalidParams
	}
	for dealer, snap := range st.Instances {
		in, err := restoreInstance(dealer, r.cfg.SelfIndex, r.cfg.Epoch, snap)
		if err != nil {
			return err
		}
		r.instances[dealer] = in
	}
	return nil
}

// retryLoop periodically rebroadcasts this party's signed deal, vote and
// open complaint for every pending instance. Delivery is assumed eventual,
// not ordered; rebroadcast keeps slow parties converging without clocks.
func (r *Runner) retryLoop(ctx context.Context) {
	t := time.NewTicker(r.retryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		var msgs []wire.ACSS
		r.mu.Lock()
		for _, in := range r.instances {
			if in.state != StatePending {
				continue
			}
			if in.dealMsg != nil {
				msgs = append(msgs, *in.dealMsg)
			}
			if in.voteMsg != nil {
				msgs = append(msgs, *in.voteMsg)
			}
			if in.cplMsg != nil && in.share == nil {
				msgs = append(msgs, *in.cplMsg)
			}
		}
		r.mu.Unlock()
		for _, m := range msgs {
			if err := r.tr.BroadcastACSS(ctx, m); err != nil {
				logger.ErrorJ("acss_retry", map[string]any{"type": m.Type, "dealer": m.Dealer, "err": err.Error()})
			}
		}
	}
}

func (r *Runner) instLocked(dealer int) *instance {
	in, ok := r.instances[dealer]
	if !ok {
		in = newInstance(dealer)
		r.instances[dealer] = in
	}
	return in
}

func (r *Runner) persistLocked() {
	if r.sess == nil {
		return
	}
	st := sessionState{
		Epoch:       r.cfg.Epoch,
		SourceEpoch: r.cfg.SourceEpoch,
		Instances:   make(map[int]instanceSnapshot, len(r.instances)),
	}
	for dealer, in := range r.instances {
		st.Instances[dealer] = in.snapshot()
	}
	if err := r.sess.Save(r.cfg.SessionID, st); err != nil {
		metrics.Inc("pss_persist_errors_total", nil)
		logger.ErrorJ("acss_persist", map[string]any{"session": r.cfg.SessionID, "err": err.Error()})
	}
}

func (r *Runner) signMessage(m wire.ACSS) (wire.ACSS, error) {
	if m.TraceID == "" {
		m.TraceID = uuid.NewString()
	}
	m.Sig = nil
	b, err := json.Marshal(m)
	if err != nil {
		return m, err
	}
	m.Sig = ed25519.Sign(r.cfg.SigPriv, b)
	return m, nil
}

func verifySig(m wire.ACSS, pub []byte) bool {
	sig := m.Sig
	if len(sig) != ed25519.SignatureSize || len(pub) != ed25519.PublicKeySize {
		return false
	}
	m.Sig = nil
	b, err := json.Marshal(m)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), b, sig)
}

// senderKey resolves the signing key a message must verify under: dealer
// messages against the dealer set, receiver messages against the committee.
func (r *Runner) senderKey(m wire.ACSS) ([]byte, bool) {
	switch m.Type {
	case wire.TypeDeal, wire.TypeShareOpen:
		if m.Dealer < 1 || m.Dealer > len(r.cfg.Dealers) || m.From != m.Dealer {
			return nil, false
		}
		return r.cfg.Dealers[m.Dealer-1].SigPub, true
	case wire.TypeVote, wire.TypeComplaint, wire.TypeRecover:
		mem, ok := r.cfg.Committee.Member(m.From)
		if !ok {
			return nil, false
		}
		return mem.SigPub, true
	}
	return nil, false
}

// OnMessage is the single inbound entry point. Messages outside this round,
// with unknown senders or bad signatures are dropped silently; duplicates
// are idempotent.
func (r *Runner) OnMessage(ctx context.Context, m wire.ACSS) {
	if m.SessionID != r.cfg.SessionID || m.Epoch != r.cfg.Epoch || m.SourceEpoch != r.cfg.SourceEpoch {
		return
	}
	if m.Dealer < 1 || m.Dealer > len(r.cfg.Dealers) {
		return
	}
	key, ok := r.senderKey(m)
	if !ok || !verifySig(m, key) {
		metrics.Inc("acss_msgs_total", map[string]string{"type": "bad_sig"})
		return
	}
	metrics.Inc("acss_msgs_total", map[string]string{"type": m.Type})

	switch m.Type {
	case wire.TypeDeal:
		r.onDeal(ctx, m)
	case wire.TypeVote:
		r.onVote(ctx, m)
	case wire.TypeComplaint:
		r.onComplaint(ctx, m)
	case wire.TypeShareOpen:
		r.onShareOpen(ctx, m)
	case wire.TypeRecover:
		r.onRecover(ctx, m)
	}
}

// checkDealShape validates the public outline of a deal before any curve
// work: scheme, degree, and a complete recipient set.
func (r *Runner) checkDealShape(m wire.ACSS) error {
	c := m.Commitment
	if c == nil {
		return ErrInvalidParams
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Scheme != r.cfg.Scheme {
		return ErrInconsistentCommitment
	}
	if r.cfg.HighThreshold {
		if c.Dim != r.cfg.Committee.D+1 {
			return ErrInconsistentCommitment
		}
	} else if c.Dim != 0 {
		return ErrInconsistentCommitment
	}
	if c.Degree() != r.cfg.Committee.D {
		return ErrInconsistentCommitment
	}
	if len(m.Shares) != r.cfg.Committee.N {
		return ErrInvalidParams
	}
	seen := make(map[int]struct{}, len(m.Shares))
	for _, s := range m.Shares {
		if s.Index < 1 || s.Index > r.cfg.Committee.N {
			return ErrInvalidParams
		}
		if _, dup := seen[s.Index]; dup {
			return ErrInvalidParams
		}
		seen[s.Index] = struct{}{}
	}
	return nil
}

func (r *Runner) onDeal(ctx context.Context, m wire.ACSS) {
	if m.Dealer == r.cfg.DealerIndex {
		return // own deal, applied locally at Deal time
	}
	if err := r.checkDealShape(m); err != nil {
		r.castVote(ctx, m.Dealer, wire.VoteReject, "malformed_deal")
		return
	}

	r.mu.Lock()
	in := r.instLocked(m.Dealer)
	if in.state != StatePending {
		r.mu.Unlock()
		return
	}
	if in.commitment != nil {
		equal := in.commitment.Equal(m.Commitment)
		// A crash between pinning and voting leaves the share unprocessed;
		// the redelivered identical deal must run the full path again.
		reprocess := equal && r.cfg.SelfIndex > 0 && !in.voted && in.share == nil
		r.mu.Unlock()
		if !equal {
			// A second, different deal from the same dealer is public
			// equivocation evidence.
			logger.ErrorJ("acss_deal", map[string]any{"dealer": m.Dealer, "result": "equivocation"})
			r.castVote(ctx, m.Dealer, wire.VoteReject, "equivocation")
			return
		}
		if !reprocess {
			return
		}
	} else {
		in.commitment = m.Commitment
		r.persistLocked()
		r.mu.Unlock()
	}

	// Verify every recipient's proof. Anyone can do this without
	// decrypting, so a deal carrying even one bad share is rejected by the
	// whole committee, not just its victim.
	for _, s := range m.Shares {
		mem, ok := r.cfg.Committee.Member(s.Index)
		if !ok {
			r.castVote(ctx, m.Dealer, wire.VoteReject, "invalid_proof")
			return
		}
		pk, err := core.PointFromBytes(mem.EncPub)
		if err != nil {
			r.castVote(ctx, m.Dealer, wire.VoteReject, "invalid_proof")
			return
		}
		evalPt, err := m.Commitment.Eval(s.Index)
		if err != nil {
			r.castVote(ctx, m.Dealer, wire.VoteReject, "invalid_proof")
			return
		}
		info := shareContext(r.cfg.SessionID, r.cfg.Epoch, r.cfg.SourceEpoch, m.Dealer, s.Index)
		if err := s.Proof.Verify(s.Ct, evalPt, pk, info); err != nil {
			logger.ErrorJ("acss_deal", map[string]any{"dealer": m.Dealer, "index": s.Index, "result": "invalid_proof"})
			r.castVote(ctx, m.Dealer, wire.VoteReject, "invalid_proof")
			return
		}
	}

	if r.cfg.SelfIndex == 0 {
		return // dealer-only observer, no vote
	}

	// Our own share: decrypt and check the opening. A decryption failure is
	// local evidence only, so it raises a complaint rather than a reject.
	var own *wire.EncShare
	for i := range m.Shares {
		if m.Shares[i].Index == r.cfg.SelfIndex {
			own = &m.Shares[i]
			break
		}
	}
	info := shareContext(r.cfg.SessionID, r.cfg.Epoch, r.cfg.SourceEpoch, m.Dealer, r.cfg.SelfIndex)
	payload, err := hegamal.Decrypt(r.enc.SK, own.Ct, info)
	if err != nil {
		r.raiseComplaint(ctx, m.Dealer, "decrypt_failed")
		return
	}
	value, blind, row, err := decodePayload(m.Commitment, payload)
	if err != nil {
		r.raiseComplaint(ctx, m.Dealer, "bad_payload")
		return
	}
	if row != nil {
		err = m.Commitment.VerifyRow(r.cfg.SelfIndex, row)
	} else {
		err = m.Commitment.VerifyEval(r.cfg.SelfIndex, value, blind)
	}
	if err != nil {
		r.raiseComplaint(ctx, m.Dealer, "share_mismatch")
		return
	}

	r.adoptShare(ctx, m.Dealer, value, blind, row)
	r.castVote(ctx, m.Dealer, wire.VoteOk, "")
}

// adoptShare records a verified share and reports it if the instance already
// finalized Valid while we were still recovering it.
func (r *Runner) adoptShare(ctx context.Context, dealer int, value fr.Element, blind *fr.Element, row *poly.Polynomial) {
	r.mu.Lock()
	in := r.instLocked(dealer)
	if in.share != nil {
		r.mu.Unlock()
		return
	}
	in.share = &Share{
		Epoch:  r.cfg.Epoch,
		Dealer: dealer,
		Index:  r.cfg.SelfIndex,
		Value:  value,
		Blind:  blind,
		Row:    row,
	}
	late := in.state == StateValid
	ev := r.finalEventLocked(in)
	r.persistLocked()
	r.mu.Unlock()
	if late {
		r.emit(ctx, ev)
	}
}

// evidenceReason reports whether a reject reason rests on material every
// party can verify for itself, as opposed to local decryption trouble.
func evidenceReason(reason string) bool {
	return reason == "equivocation" || reason == "bad_open"
}

func (r *Runner) castVote(ctx context.Context, dealer int, vote, reason string) {
	r.mu.Lock()
	in := r.instLocked(dealer)
	// Public evidence against the dealer downgrades an earlier ok vote; every
	// other re-vote is suppressed.
	override := in.voted && in.vote == wire.VoteOk && vote == wire.VoteReject && evidenceReason(reason)
	if (in.voted && !override) || in.state != StatePending || r.cfg.SelfIndex == 0 {
		r.mu.Unlock()
		return
	}
	var digest []byte
	if in.commitment != nil {
		digest = in.commitment.Digest()
	}
	in.voted = true
	in.vote = vote
	in.reason = reason
	in.votes[r.cfg.SelfIndex] = voteRecord{vote: vote, digest: digest}
	msg := wire.ACSS{
		SessionID:    r.cfg.SessionID,
		Epoch:        r.cfg.Epoch,
		SourceEpoch:  r.cfg.SourceEpoch,
		Type:         wire.TypeVote,
		Dealer:       dealer,
		From:         r.cfg.SelfIndex,
		Vote:         vote,
		Reason:       reason,
		CommitDigest: digest,
	}
	signed, err := r.signMessage(msg)
	if err != nil {
		r.mu.Unlock()
		return
	}
	in.voteMsg = &signed
	r.persistLocked()
	r.mu.Unlock()

	metrics.Inc("acss_votes_total", map[string]string{"vote": vote})
	logger.InfoJ("acss_vote", map[string]any{"dealer": dealer, "vote": vote, "reason": reason})
	if err := r.tr.BroadcastACSS(ctx, signed); err != nil {
		logger.ErrorJ("acss_vote", map[string]any{"dealer": dealer, "err": err.Error()})
	}
	r.maybeFinalize(ctx, dealer)
}

func (r *Runner) raiseComplaint(ctx context.Context, dealer int, reason string) {
	r.mu.Lock()
	in := r.instLocked(dealer)
	if in.cplMsg != nil || in.state != StatePending || r.cfg.SelfIndex == 0 {
		r.mu.Unlock()
		return
	}
	msg := wire.ACSS{
		SessionID:   r.cfg.SessionID,
		Epoch:       r.cfg.Epoch,
		SourceEpoch: r.cfg.SourceEpoch,
		Type:        wire.TypeComplaint,
		Dealer:      dealer,
		From:        r.cfg.SelfIndex,
		Reason:      reason,
	}
	signed, err := r.signMessage(msg)
	if err != nil {
		r.mu.Unlock()
		return
	}
	in.cplMsg = &signed
	in.complaints[r.cfg.SelfIndex] = struct{}{}
	r.persistLocked()
	r.mu.Unlock()

	metrics.Inc("acss_complaints_total", map[string]string{"reason": reason})
	logger.InfoJ("acss_complaint", map[string]any{"dealer": dealer, "reason": reason})
	if err := r.tr.BroadcastACSS(ctx, signed); err != nil {
		logger.ErrorJ("acss_complaint", map[string]any{"dealer": dealer, "err": err.Error()})
	}
}

func (r *Runner) onVote(ctx context.Context, m wire.ACSS) {
	if m.From == r.cfg.SelfIndex {
		return
	}
	if m.Vote != wire.VoteOk && m.Vote != wire.VoteReject {
		return
	}
	r.mu.Lock()
	in := r.instLocked(m.Dealer)
	if in.state != StatePending {
		r.mu.Unlock()
		return
	}
	if _, banned := in.equivocators[m.From]; banned {
		r.mu.Unlock()
		return
	}
	if prev, ok := in.votes[m.From]; ok {
		switch {
		case prev.vote == m.Vote && (m.Vote == wire.VoteReject || bytes.Equal(prev.digest, m.CommitDigest)):
			r.mu.Unlock()
			return
		case prev.vote == wire.VoteOk && m.Vote == wire.VoteReject:
			// Evidence against the dealer can surface after an honest ok;
			// the downgrade replaces the earlier vote.
			in.votes[m.From] = voteRecord{vote: m.Vote, digest: m.CommitDigest}
			r.persistLocked()
			r.mu.Unlock()
			r.maybeFinalize(ctx, m.Dealer)
			return
		default:
			// Two oks for different commitments, or a reject flipping back
			// to ok: discard the sender entirely.
			in.equivocators[m.From] = struct{}{}
			delete(in.votes, m.From)
			r.persistLocked()
			r.mu.Unlock()
			logger.ErrorJ("acss_vote", map[string]any{"dealer": m.Dealer, "from": m.From, "result": "equivocation"})
			return
		}
	}
	in.votes[m.From] = voteRecord{vote: m.Vote, digest: m.CommitDigest}
	r.persistLocked()
	r.mu.Unlock()
	r.maybeFinalize(ctx, m.Dealer)
}

func (r *Runner) onComplaint(ctx context.Context, m wire.ACSS) {
	if m.From == r.cfg.SelfIndex {
		return
	}
	r.mu.Lock()
	in := r.instLocked(m.Dealer)
	_, dup := in.complaints[m.From]
	in.complaints[m.From] = struct{}{}
	amDealer := m.Dealer == r.cfg.DealerIndex && (in.dealPoly != nil || in.dealBi != nil)
	var row *poly.Polynomial
	if in.share != nil {
		row = in.share.Row
	}
	cachedOpen := in.openMsgs[m.From]
	cachedRecover := in.recoverMsgs[m.From]
	if !dup {
		r.persistLocked()
	}
	r.mu.Unlock()

	if amDealer {
		if cachedOpen != nil {
			_ = r.tr.BroadcastACSS(ctx, *cachedOpen)
		} else {
			r.broadcastShareOpen(ctx, m.Dealer, m.From)
		}
	}
	// Under a bivariate sharing every holder of a verified row serves the
	// complainant its cross evaluation; d+1 of those rebuild the row even
	// with the dealer gone.
	if row != nil && m.From != r.cfg.SelfIndex && r.cfg.SelfIndex > 0 {
		if cachedRecover != nil {
			_ = r.tr.BroadcastACSS(ctx, *cachedRecover)
		} else {
			r.sendRecover(ctx, m.Dealer, m.From, row)
		}
	}
}

// broadcastShareOpen publishes the complainant's share in the clear. The
// value was already public knowledge in committed form, so opening it leaks
// nothing beyond what the complaint forced.
func (r *Runner) broadcastShareOpen(ctx context.Context, dealer, to int) {
	r.mu.Lock()
	in := r.instLocked(dealer)
	msg := wire.ACSS{
		SessionID:   r.cfg.SessionID,
		Epoch:       r.cfg.Epoch,
		SourceEpoch: r.cfg.SourceEpoch,
		Type:        wire.TypeShareOpen,
		Dealer:      dealer,
		From:        dealer,
		To:          to,
	}
	switch {
	case in.dealBi != nil:
		row := in.dealBi.Row(to)
		msg.Share = encodePayload(fr.Element{}, nil, row)
	case in.dealPoly != nil:
		msg.Share = core.ScalarToBytes(in.dealPoly.EvalAt(to))
		if in.blindPoly != nil {
			msg.Blind = core.ScalarToBytes(in.blindPoly.EvalAt(to))
		}
	default:
		r.mu.Unlock()
		return
	}
	signed, err := r.signMessage(msg)
	if err != nil {
		r.mu.Unlock()
		return
	}
	if in.openMsgs == nil {
		in.openMsgs = map[int]*wire.ACSS{}
	}
	in.openMsgs[to] = &signed
	r.mu.Unlock()

	logger.InfoJ("acss_share_open", map[string]any{"dealer": dealer, "to": to})
	if err := r.tr.BroadcastACSS(ctx, signed); err != nil {
		logger.ErrorJ("acss_share_open", map[string]any{"dealer": dealer, "to": to, "err": err.Error()})
	}
}

func (r *Runner) onShareOpen(ctx context.Context, m wire.ACSS) {
	if m.Dealer == r.cfg.DealerIndex {
		return
	}
	if m.To < 1 || m.To > r.cfg.Committee.N {
		return
	}
	r.mu.Lock()
	in := r.instLocked(m.Dealer)
	c := in.commitment
	r.mu.Unlock()
	if c == nil {
		return // no pinned deal yet; the rebroadcast loop will retry ordering
	}

	var (
		value fr.Element
		blind *fr.Element
		row   *poly.Polynomial
		err   error
	)
	if c.Dim > 0 {
		var coeffs []fr.Element
		coeffs, err = splitScalars(m.Share, c.Dim)
		if err == nil {
			row = poly.FromCoeffs(coeffs)
			value = row.Coeffs()[0]
			err = c.VerifyRow(m.To, row)
		}
	} else {
		value, err = core.ScalarFromBytes(m.Share)
		if err == nil && c.Scheme == commit.SchemePedersen {
			var b fr.Element
			if b, err = core.ScalarFromBytes(m.Blind); err == nil {
				blind = &b
			}
		}
		if err == nil {
			err = c.VerifyEval(m.To, value, blind)
		}
	}
	if err != nil {
		// A dealer opening a share that contradicts its own commitment is
		// public evidence.
		logger.ErrorJ("acss_share_open", map[string]any{"dealer": m.Dealer, "to": m.To, "result": "mismatch"})
		r.castVote(ctx, m.Dealer, wire.VoteReject, "bad_open")
		return
	}
	if m.To == r.cfg.SelfIndex {
		r.adoptShare(ctx, m.Dealer, value, blind, row)
		r.castVote(ctx, m.Dealer, wire.VoteOk, "")
	}
}

// sendRecover seals our row's evaluation at the complainant's index to the
// complainant. Broadcast on the shared topic; confidentiality comes from the
// encryption, not the routing.
func (r *Runner) sendRecover(ctx context.Context, dealer, to int, row *poly.Polynomial) {
	mem, ok := r.cfg.Committee.Member(to)
	if !ok {
		return
	}
	pk, err := core.PointFromBytes(mem.EncPub)
	if err != nil {
		return
	}
	v := row.EvalAt(to)
	info := recoverContext(r.cfg.SessionID, r.cfg.Epoch, r.cfg.SourceEpoch, dealer, r.cfg.SelfIndex, to)
	ct, _, err := hegamal.Encrypt(pk, core.ScalarToBytes(v), info)
	if err != nil {
		return
	}
	msg := wire.ACSS{
		SessionID:   r.cfg.SessionID,
		Epoch:       r.cfg.Epoch,
		SourceEpoch: r.cfg.SourceEpoch,
		Type:        wire.TypeRecover,
		Dealer:      dealer,
		From:        r.cfg.SelfIndex,
		To:          to,
		Recover:     &ct,
	}
	signed, err := r.signMessage(msg)
	if err != nil {
		return
	}
	r.mu.Lock()
	in := r.instLocked(dealer)
	if in.recoverMsgs == nil {
		in.recoverMsgs = map[int]*wire.ACSS{}
	}
	in.recoverMsgs[to] = &signed
	r.mu.Unlock()

	logger.InfoJ("acss_recover", map[string]any{"dealer": dealer, "to": to, "op": "send"})
	if err := r.tr.BroadcastACSS(ctx, signed); err != nil {
		logger.ErrorJ("acss_recover", map[string]any{"dealer": dealer, "to": to, "err": err.Error()})
	}
}

func (r *Runner) onRecover(ctx context.Context, m wire.ACSS) {
	if m.To != r.cfg.SelfIndex || m.From == r.cfg.SelfIndex || m.Recover == nil {
		return
	}
	r.mu.Lock()
	in := r.instLocked(m.Dealer)
	c := in.commitment
	haveShare := in.share != nil
	_, seen := in.recovered[m.From]
	r.mu.Unlock()
	if c == nil || c.Dim == 0 || haveShare || seen {
		return
	}

	info := recoverContext(r.cfg.SessionID, r.cfg.Epoch, r.cfg.SourceEpoch, m.Dealer, m.From, r.cfg.SelfIndex)
	payload, err := hegamal.Decrypt(r.enc.SK, *m.Recover, info)
	if err != nil {
		return
	}
	v, err := core.ScalarFromBytes(payload)
	if err != nil {
		return
	}
	if err := c.VerifyCross(r.cfg.SelfIndex, m.From, v); err != nil {
		logger.ErrorJ("acss_recover", map[string]any{"dealer": m.Dealer, "from": m.From, "result": "mismatch"})
		return
	}

	r.mu.Lock()
	in = r.instLocked(m.Dealer)
	if in.share != nil {
		r.mu.Unlock()
		return
	}
	in.recovered[m.From] = v
	points := make([]poly.Point, 0, len(in.recovered))
	for j, y := range in.recovered {
		points = append(points, poly.Point{X: j, Y: y})
	}
	r.persistLocked()
	r.mu.Unlock()

	logger.InfoJ("acss_recover", map[string]any{"dealer": m.Dealer, "from": m.From, "op": "accept", "have": len(points)})
	if len(points) < r.cfg.Committee.D+1 {
		return
	}
	// d+1 verified cross evaluations determine the row uniquely; by symmetry
	// B(self, j) values interpolate to f_self.
	sort.Slice(points, func(a, b int) bool { return points[a].X < points[b].X })
	row, err := poly.Interpolate(points[:r.cfg.Committee.D+1])
	if err != nil {
		return
	}
	if err := c.VerifyRow(r.cfg.SelfIndex, row); err != nil {
		return
	}
	r.adoptShare(ctx, m.Dealer, row.Coeffs()[0], nil, row)
	r.castVote(ctx, m.Dealer, wire.VoteOk, "")
}

// maybeFinalize applies the agreement rule to the current tallies and, on a
// decision, marks the instance terminal and emits the event. Terminal states
// never change afterwards.
func (r *Runner) maybeFinalize(ctx context.Context, dealer int) {
	r.mu.Lock()
	in := r.instLocked(dealer)
	if in.state != StatePending {
		r.mu.Unlock()
		return
	}
	var ownDigest []byte
	if in.commitment != nil {
		ownDigest = in.commitment.Digest()
	}
	ok, reject := in.tally(ownDigest)
	st, decided := r.agree.Decide(ok, reject)
	if !decided {
		r.mu.Unlock()
		return
	}
	in.state = st
	ev := r.finalEventLocked(in)
	r.persistLocked()
	r.mu.Unlock()

	metrics.Inc("acss_instances_total", map[string]string{"result": string(st)})
	logger.InfoJ("acss_finalize", map[string]any{
		"session": r.cfg.SessionID, "epoch": r.cfg.Epoch, "dealer": dealer,
		"state": string(st), "ok": ok, "reject": reject,
	})
	r.emit(ctx, ev)
}

func (r *Runner) finalEventLocked(in *instance) FinalEvent {
	ev := FinalEvent{
		SessionID:   r.cfg.SessionID,
		Epoch:       r.cfg.Epoch,
		SourceEpoch: r.cfg.SourceEpoch,
		Dealer:      in.dealer,
		State:       in.state,
	}
	if in.share != nil {
		cp := *in.share
		ev.Share = &cp
	}
	return ev
}

func (r *Runner) emit(ctx context.Context, ev FinalEvent) {
	if r.bus != nil {
		r.bus.Publish(ctx, bus.Event{
			Kind:   bus.KindShareFinalized,
			Epoch:  ev.Epoch,
			Dealer: ev.Dealer,
			Body:   ev,
		})
	}
	if r.onFinal != nil {
		r.onFinal(ev)
	}
}

// InstanceState reports the current state of one dealer's instance.
func (r *Runner) InstanceState(dealer int) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.instances[dealer]
	if !ok {
		return StatePending, false
	}
	return in.state, true
}

// ShareFor returns a copy of our verified share from one dealer's instance.
func (r *Runner) ShareFor(dealer int) (*Share, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.instances[dealer]
	if !ok || in.share == nil {
		return nil, false
	}
	cp := *in.share
	return &cp, true
}

// CommitmentFor returns the pinned commitment of one dealer's instance.
func (r *Runner) CommitmentFor(dealer int) (*commit.Commitment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.instances[dealer]
	if !ok || in.commitment == nil {
		return nil, false
	}
	return in.commitment, true
}

// ValidDealers lists, in ascending order, the dealers whose instances have
// finalized Valid.
func (r *Runner) ValidDealers() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for dealer, in := range r.instances {
		if in.state == StateValid {
			out = append(out, dealer)
		}
	}
	sort.Ints(out)
	return out
}

func splitScalars(b []byte, n int) ([]fr.Element, error) {
	if len(b) != n*core.ScalarBytes {
		return nil, ErrInvalidShare
	}
	out := make([]fr.Element, n)
	for i := 0; i < n; i++ {
		v, err := core.ScalarFromBytes(b[i*core.ScalarBytes : (i+1)*core.ScalarBytes])
		if err != nil {
			return nil, ErrInvalidShare
		}
		out[i] = v
	}
	return out, nil
}
