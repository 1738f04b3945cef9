package acss

import (
	"context"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/hegamal"
	"github.com/threshnet/dpss/internal/pss/poly"
	"github.com/threshnet/dpss/internal/transport/wire"
	"github.com/threshnet/dpss/pkg/logger"
)

// Deal shares a secret into this round: sample the sharing polynomial,
// commit, seal one share per committee member with a consistency proof, and
// broadcast the deal. If this party is also a receiver its own share is
// applied locally without a round trip.
//
// Calling Deal after a restart rebroadcasts the persisted deal instead of
// sampling a new polynomial; redealing with fresh randomness would be
// self-equivocation.
func (r *Runner) Deal(ctx context.Context, secret fr.Element) error {
	if r.cfg.DealerIndex == 0 {
		return fmt.Errorf("%w: not a dealer in this round", ErrInvalidParams)
	}

	r.mu.Lock()
	in := r.instLocked(r.cfg.DealerIndex)
	if in.dealMsg != nil {
		signed := *in.dealMsg
		r.mu.Unlock()
		return r.tr.BroadcastACSS(ctx, signed)
	}
	r.mu.Unlock()

	d := r.cfg.Committee.D
	var (
		p     *poly.Polynomial
		blind *poly.Polynomial
		bi    *poly.Bivariate
		c     *commit.Commitment
		err   error
	)
	if r.cfg.HighThreshold {
		if bi, err = poly.NewRandomBivariate(d, secret); err != nil {
			return err
		}
		if c, err = commit.CommitBivariate(bi); err != nil {
			return err
		}
	} else {
		if p, err = poly.NewRandom(d, secret); err != nil {
			return err
		}
		if c, blind, err = commit.Commit(r.cfg.Scheme, p); err != nil {
			return err
		}
	}

	shares := make([]wire.EncShare, 0, r.cfg.Committee.N)
	for i := 1; i <= r.cfg.Committee.N; i++ {
		mem, ok := r.cfg.Committee.Member(i)
		if !ok {
			return fmt.Errorf("%w: missing member %d", ErrInvalidParams, i)
		}
		pk, err := core.PointFromBytes(mem.EncPub)
		if err != nil {
			return fmt.Errorf("member %d enc key: %w", i, err)
		}

		var (
			value    fr.Element
			blindVal *fr.Element
			payload  []byte
		)
		if bi != nil {
			row := bi.Row(i)
			value = row.Coeffs()[0]
			payload = encodePayload(fr.Element{}, nil, row)
		} else {
			value = p.EvalAt(i)
			if blind != nil {
				bv := blind.EvalAt(i)
				blindVal = &bv
			}
			payload = encodePayload(value, blindVal, nil)
		}

		info := shareContext(r.cfg.SessionID, r.cfg.Epoch, r.cfg.SourceEpoch, r.cfg.DealerIndex, i)
		ct, rr, err := hegamal.Encrypt(pk, payload, info)
		if err != nil {
			return err
		}
		evalPt, err := c.Eval(i)
		if err != nil {
			return err
		}
		proof, err := hegamal.Prove(rr, value, blindVal, ct, evalPt, pk, info)
		if err != nil {
			return err
		}
		shares = append(shares, wire.EncShare{Index: i, Ct: ct, Proof: proof})
	}

	msg := wire.ACSS{
		SessionID:   r.cfg.SessionID,
		Epoch:       r.cfg.Epoch,
		SourceEpoch: r.cfg.SourceEpoch,
		Type:        wire.TypeDeal,
		Dealer:      r.cfg.DealerIndex,
		From:        r.cfg.DealerIndex,
		Commitment:  c,
		Shares:      shares,
	}
	signed, err := r.signMessage(msg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	in = r.instLocked(r.cfg.DealerIndex)
	if in.dealMsg != nil {
		// lost the race against a concurrent Deal
		cached := *in.dealMsg
		r.mu.Unlock()
		return r.tr.BroadcastACSS(ctx, cached)
	}
	in.commitment = c
	in.dealPoly = p
	in.blindPoly = blind
	in.dealBi = bi
	in.dealMsg = &signed
	r.persistLocked()
	r.mu.Unlock()

	logger.InfoJ("acss_deal", map[string]any{
		"session": r.cfg.SessionID, "epoch": r.cfg.Epoch, "dealer": r.cfg.DealerIndex,
		"scheme": c.Scheme, "high_threshold": bi != nil, "op": "send",
	})
	if err := r.tr.BroadcastACSS(ctx, signed); err != nil {
		return err
	}

	// Our own share never crosses the wire.
	if r.cfg.SelfIndex > 0 {
		var (
			value    fr.Element
			blindVal *fr.Element
			row      *poly.Polynomial
		)
		if bi != nil {
			row = bi.Row(r.cfg.SelfIndex)
			value = row.Coeffs()[0]
		} else {
			value = p.EvalAt(r.cfg.SelfIndex)
			if blind != nil {
				bv := blind.EvalAt(r.cfg.SelfIndex)
				blindVal = &bv
			}
		}
		r.adoptShare(ctx, r.cfg.DealerIndex, value, blindVal, row)
		r.castVote(ctx, r.cfg.DealerIndex, wire.VoteOk, "")
	}
	return nil
}
