// Package recon recovers a shared secret from collected shares. With
// exactly d+1 shares it interpolates directly; with more it runs a
// Berlekamp-Welch decode that tolerates wrong shares, and with a commitment
// at hand it can discard bad shares before interpolating at all.
package recon

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/poly"
)

var (
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrDecodeFailed       = errors.New("share decode failed")
)

// Share is one party's contribution to a reconstruction.
type Share struct {
	Index int
	Value fr.Element

	// Blind accompanies Pedersen-committed shares in ReconstructVerified.
	Blind *fr.Element
}

func toPoints(shares []Share) []poly.Point {
	pts := make([]poly.Point, len(shares))
	for i, s := range shares {
		pts[i] = poly.Point{X: s.Index, Y: s.Value}
	}
	return pts
}

// Reconstruct recovers f(0) for a degree-d sharing. Exactly d+1 shares
// interpolate directly; a single wrong share then silently corrupts the
// result, which is the caller's trade-off to make. More than d+1 shares go
// through robust decoding, correcting up to (len(shares)-d-1)/2 wrong
// values.
func Reconstruct(shares []Share, d int) (fr.Element, error) {
	if d < 0 || len(shares) < d+1 {
		return fr.Element{}, ErrInsufficientShares
	}
	pts := toPoints(shares)
	if len(shares) == d+1 {
		return poly.InterpolateAtZero(pts)
	}
	p, err := poly.Decode(pts, d)
	if err != nil {
		return fr.Element{}, ErrDecodeFailed
	}
	return p.Coeffs()[0], nil
}

// ReconstructVerified checks every share against the sharing's commitment
// first and interpolates from the survivors. Wrong shares are identified
// rather than merely tolerated, so any d+1 honest shares suffice.
func ReconstructVerified(shares []Share, c *commit.Commitment, d int) (fr.Element, []int, error) {
	var good []Share
	var rejected []int
	for _, s := range shares {
		if err := c.VerifyEval(s.Index, s.Value, s.Blind); err != nil {
			rejected = append(rejected, s.Index)
			continue
		}
		good = append(good, s)
	}
	if len(good) < d+1 {
		return fr.Element{}, rejected, ErrInsufficientShares
	}
	v, err := poly.InterpolateAtZero(toPoints(good[:d+1]))
	if err != nil {
		return fr.Element{}, rejected, err
	}
	return v, rejected, nil
}
