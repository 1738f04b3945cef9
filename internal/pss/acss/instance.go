package acss

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/poly"
	"github.com/threshnet/dpss/internal/transport/wire"
)

// State is the lifecycle of one sharing instance. Valid and Invalid are
// terminal; once entered they never change.
type State string

const (
	StatePending State = "pending"
	StateValid   State = "valid"
	StateInvalid State = "invalid"
)

// voteRecord is one sender's vote together with the digest of the commitment
// it acknowledged.
type voteRecord struct {
	vote   string
	digest []byte
}

// instance tracks one dealer's sharing within the round. All fields are
// guarded by the runner mutex.
type instance struct {
	dealer int

	// commitment is pinned from the first deal seen; a later conflicting
	// deal is equivocation evidence against the dealer.
	commitment *commit.Commitment

	votes        map[int]voteRecord
	equivocators map[int]struct{}
	complaints   map[int]struct{}

	// recovered holds verified cross evaluations B(self, j) by sender j,
	// collected while rebuilding a missing bivariate row.
	recovered map[int]fr.Element

	voted  bool
	vote   string
	reason string
	state  State

	share *Share

	// Dealer-side secrets, set only on the instance this party deals.
	dealPoly  *poly.Polynomial
	blindPoly *poly.Polynomial
	dealBi    *poly.Bivariate

	// Signed messages kept for periodic rebroadcast.
	dealMsg *wire.ACSS
	voteMsg *wire.ACSS
	cplMsg  *wire.ACSS

	// Cached signed responses to complaints, keyed by complainant. Rebuilt
	// on demand after a restart, so not persisted.
	openMsgs    map[int]*wire.ACSS
	recoverMsgs map[int]*wire.ACSS
}

func newInstance(dealer int) *instance {
	return &instance{
		dealer:       dealer,
		votes:        map[int]voteRecord{},
		equivocators: map[int]struct{}{},
		complaints:   map[int]struct{}{},
		recovered:    map[int]fr.Element{},
		state:        StatePending,
	}
}

// tally counts ok votes only when they acknowledge the commitment this party
// pinned, so a dealer serving different deals to different subsets cannot
// pool their acknowledgements into one Valid quorum. Rejects count regardless
// of digest.
func (in *instance) tally(ownDigest []byte) (ok, reject int) {
	for _, v := range in.votes {
		switch v.vote {
		case wire.VoteOk:
			if len(ownDigest) > 0 && bytes.Equal(v.digest, ownDigest) {
				ok++
			}
		case wire.VoteReject:
			reject++
		}
	}
	return
}

// shareContext binds a ciphertext and its proof to one (session, epoch,
// dealer, recipient) slot so transcripts cannot be replayed across instances.
func shareContext(sessionID string, epoch, srcEpoch uint64, dealer, index int) []byte {
	b := make([]byte, 0, len(sessionID)+8+8+4+4)
	b = append(b, sessionID...)
	b = binary.BigEndian.AppendUint64(b, epoch)
	b = binary.BigEndian.AppendUint64(b, srcEpoch)
	b = binary.BigEndian.AppendUint32(b, uint32(dealer))
	b = binary.BigEndian.AppendUint32(b, uint32(index))
	return b
}

// recoverContext binds a recovery ciphertext to its (sender, recipient) pair.
func recoverContext(sessionID string, epoch, srcEpoch uint64, dealer, from, to int) []byte {
	b := shareContext(sessionID, epoch, srcEpoch, dealer, from)
	b = binary.BigEndian.AppendUint32(b, uint32(to))
	return b
}

// encodePayload serializes the plaintext a dealer seals for one recipient:
// the share value, the Pedersen blinding when present, or the full row
// coefficients for a bivariate sharing.
func encodePayload(value fr.Element, blind *fr.Element, row *poly.Polynomial) []byte {
	if row != nil {
		out := make([]byte, 0, (row.Degree()+1)*core.ScalarBytes)
		for _, c := range row.Coeffs() {
			out = append(out, core.ScalarToBytes(c)...)
		}
		return out
	}
	out := core.ScalarToBytes(value)
	if blind != nil {
		out = append(out, core.ScalarToBytes(*blind)...)
	}
	return out
}

// decodePayload parses a recipient plaintext against the pinned commitment:
// Dim scalars for a bivariate row, two for Pedersen, one for Feldman.
func decodePayload(c *commit.Commitment, payload []byte) (value fr.Element, blind *fr.Element, row *poly.Polynomial, err error) {
	if c.Dim > 0 {
		if len(payload) != c.Dim*core.ScalarBytes {
			return fr.Element{}, nil, nil, ErrInvalidShare
		}
		coeffs := make([]fr.Element, c.Dim)
		for j := range coeffs {
			coeffs[j], err = core.ScalarFromBytes(payload[j*core.ScalarBytes : (j+1)*core.ScalarBytes])
			if err != nil {
				return fr.Element{}, nil, nil, ErrInvalidShare
			}
		}
		row = poly.FromCoeffs(coeffs)
		return row.Coeffs()[0], nil, row, nil
	}
	want := core.ScalarBytes
	if c.Scheme == commit.SchemePedersen {
		want = 2 * core.ScalarBytes
	}
	if len(payload) != want {
		return fr.Element{}, nil, nil, ErrInvalidShare
	}
	if value, err = core.ScalarFromBytes(payload[:core.ScalarBytes]); err != nil {
		return fr.Element{}, nil, nil, ErrInvalidShare
	}
	if c.Scheme == commit.SchemePedersen {
		b, err := core.ScalarFromBytes(payload[core.ScalarBytes:])
		if err != nil {
			return fr.Element{}, nil, nil, ErrInvalidShare
		}
		blind = &b
	}
	return value, blind, nil, nil
}

func (in *instance) snapshot() instanceSnapshot {
	snap := instanceSnapshot{
		Commitment: in.commitment,
		Voted:      in.voted,
		Vote:       in.vote,
		Reason:     in.reason,
		State:      string(in.state),
		DealMsg:    in.dealMsg,
		VoteMsg:    in.voteMsg,
		CplMsg:     in.cplMsg,
	}
	if len(in.votes) > 0 {
		snap.Votes = make(map[int]voteSnapshot, len(in.votes))
		for k, v := range in.votes {
			snap.Votes[k] = voteSnapshot{Vote: v.vote, Digest: v.digest}
		}
	}
	snap.Equivocators = sortedKeys(in.equivocators)
	snap.Complaints = sortedKeys(in.complaints)
	if len(in.recovered) > 0 {
		snap.Recovered = make(map[int][]byte, len(in.recovered))
		for k, v := range in.recovered {
			snap.Recovered[k] = core.ScalarToBytes(v)
		}
	}
	if in.share != nil {
		snap.ShareValue = core.ScalarToBytes(in.share.Value)
		if in.share.Blind != nil {
			snap.ShareBlind = core.ScalarToBytes(*in.share.Blind)
		}
		if in.share.Row != nil {
			snap.ShareRow = coeffsToBytes(in.share.Row.Coeffs())
		}
	}
	if in.dealPoly != nil {
		snap.DealCoeffs = coeffsToBytes(in.dealPoly.Coeffs())
	}
	if in.blindPoly != nil {
		snap.DealBlindCoeffs = coeffsToBytes(in.blindPoly.Coeffs())
	}
	if in.dealBi != nil {
		for _, r := range in.dealBi.Coeffs() {
			snap.DealBiCoeffs = append(snap.DealBiCoeffs, coeffsToBytes(r)...)
		}
	}
	return snap
}

func restoreInstance(dealer, selfIndex int, epoch uint64, snap instanceSnapshot) (*instance, error) {
	in := newInstance(dealer)
	in.commitment = snap.Commitment
	in.voted = snap.Voted
	in.vote = snap.Vote
	in.reason = snap.Reason
	if snap.State != "" {
		in.state = State(snap.State)
	}
	in.dealMsg = snap.DealMsg
	in.voteMsg = snap.VoteMsg
	in.cplMsg = snap.CplMsg
	for k, v := range snap.Votes {
		in.votes[k] = voteRecord{vote: v.Vote, digest: v.Digest}
	}
	for _, k := range snap.Equivocators {
		in.equivocators[k] = struct{}{}
	}
	for _, k := range snap.Complaints {
		in.complaints[k] = struct{}{}
	}
	for k, b := range snap.Recovered {
		v, err := core.ScalarFromBytes(b)
		if err != nil {
			return nil, err
		}
		in.recovered[k] = v
	}
	if len(snap.ShareValue) > 0 {
		v, err := core.ScalarFromBytes(snap.ShareValue)
		if err != nil {
			return nil, err
		}
		sh := &Share{Epoch: epoch, Dealer: dealer, Index: selfIndex, Value: v}
		if len(snap.ShareBlind) > 0 {
			b, err := core.ScalarFromBytes(snap.ShareBlind)
			if err != nil {
				return nil, err
			}
			sh.Blind = &b
		}
		if len(snap.ShareRow) > 0 {
			cs, err := bytesToCoeffs(snap.ShareRow)
			if err != nil {
				return nil, err
			}
			sh.Row = poly.FromCoeffs(cs)
		}
		in.share = sh
	}
	if len(snap.DealCoeffs) > 0 {
		cs, err := bytesToCoeffs(snap.DealCoeffs)
		if err != nil {
			return nil, err
		}
		in.dealPoly = poly.FromCoeffs(cs)
	}
	if len(snap.DealBlindCoeffs) > 0 {
		cs, err := bytesToCoeffs(snap.DealBlindCoeffs)
		if err != nil {
			return nil, err
		}
		in.blindPoly = poly.FromCoeffs(cs)
	}
	if len(snap.DealBiCoeffs) > 0 {
		flat, err := bytesToCoeffs(snap.DealBiCoeffs)
		if err != nil {
			return nil, err
		}
		dim := 1
		for dim*dim < len(flat) {
			dim++
		}
		if dim*dim != len(flat) {
			return nil, ErrInvalidParams
		}
		grid := make([][]fr.Element, dim)
		for j := range grid {
			grid[j] = flat[j*dim : (j+1)*dim]
		}
		in.dealBi = poly.BivariateFromCoeffs(grid)
	}
	return in, nil
}

func coeffsToBytes(in []fr.Element) [][]byte {
	out := make([][]byte, 0, len(in))
	for _, c := range in {
		out = append(out, core.ScalarToBytes(c))
	}
	return out
}

func bytesToCoeffs(in [][]byte) ([]fr.Element, error) {
	out := make([]fr.Element, len(in))
	for i, b := range in {
		c, err := core.ScalarFromBytes(b)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func sortedKeys(m map[int]struct{}) []int {
	if len(m) == 0 {
		return nil
	}
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
