package acss

import (
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/poly"
)

// Share is a party's secret evaluation for one epoch. It is usable only
// within its epoch and must never leave the party except as ciphertext.
// Blind is set under Pedersen commitments; Row under bivariate sharings
// (Value is then the row's constant term, the effective Shamir share).
type Share struct {
	Epoch  uint64
	Dealer int
	Index  int
	Value  fr.Element
	Blind  *fr.Element
	Row    *poly.Polynomial
}
