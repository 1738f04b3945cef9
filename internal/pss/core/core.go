// Package core wraps the BLS12-381 scalar field and G1 group from
// gnark-crypto with the few operations the sharing protocols need:
// random scalars, party-index scalars, compressed point codecs and
// hash-to-scalar for Fiat-Shamir transcripts.
package core

import (
	"errors"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

var (
	ErrInvalidPoint  = errors.New("invalid point")
	ErrInvalidScalar = errors.New("invalid scalar")
)

// ScalarBytes is the serialized size of an fr element.
const ScalarBytes = fr.Bytes

// PointBytes is the compressed size of a G1 point.
const PointBytes = bls12381.SizeOfG1AffineCompressed

var g1Gen bls12381.G1Affine

func init() {
	_, _, g1Gen, _ = bls12381.Generators()
}

// Base returns the fixed G1 generator.
func Base() bls12381.G1Affine { return g1Gen }

// RandomScalar draws a uniform field element from crypto/rand.
func RandomScalar() (fr.Element, error) {
	var s fr.Element
	if _, err := s.SetRandom(); err != nil {
		return fr.Element{}, err
	}
	return s, nil
}

// IndexScalar maps a party index (1..n) into the field.
func IndexScalar(i int) fr.Element {
	var s fr.Element
	s.SetInt64(int64(i))
	return s
}

// ScalarToBytes serializes a scalar big-endian, fixed width.
func ScalarToBytes(s fr.Element) []byte {
	b := s.Bytes()
	return b[:]
}

// ScalarFromBytes rejects inputs of the wrong width; values are reduced mod r.
func ScalarFromBytes(b []byte) (fr.Element, error) {
	if len(b) != ScalarBytes {
		return fr.Element{}, ErrInvalidScalar
	}
	var s fr.Element
	s.SetBytes(b)
	return s, nil
}

// MulBase returns s*G.
func MulBase(s fr.Element) bls12381.G1Affine {
	var k big.Int
	s.BigInt(&k)
	var p bls12381.G1Affine
	p.ScalarMultiplication(&g1Gen, &k)
	return p
}

// Mul returns s*P.
func Mul(p bls12381.G1Affine, s fr.Element) bls12381.G1Affine {
	var k big.Int
	s.BigInt(&k)
	var out bls12381.G1Affine
	out.ScalarMultiplication(&p, &k)
	return out
}

// Add returns a+b.
func Add(a, b bls12381.G1Affine) bls12381.G1Affine {
	var out bls12381.G1Affine
	out.Add(&a, &b)
	return out
}

// PointToBytes compresses a G1 point.
func PointToBytes(p bls12381.G1Affine) []byte {
	b := p.Bytes()
	return b[:]
}

// PointFromBytes decompresses and subgroup-checks a G1 point.
func PointFromBytes(b []byte) (bls12381.G1Affine, error) {
	if len(b) != PointBytes {
		return bls12381.G1Affine{}, ErrInvalidPoint
	}
	var p bls12381.G1Affine
	if _, err := p.SetBytes(b); err != nil {
		return bls12381.G1Affine{}, ErrInvalidPoint
	}
	return p, nil
}

// HashToPoint derives an independent generator from a domain tag.
func HashToPoint(dst string) (bls12381.G1Affine, error) {
	return bls12381.HashToG1([]byte(dst), []byte("DPSS-G1-GEN"))
}

// HashToScalar maps transcript bytes into the field under a domain tag.
func HashToScalar(dst string, msg []byte) (fr.Element, error) {
	out, err := fr.Hash(msg, []byte(dst), 1)
	if err != nil {
		return fr.Element{}, err
	}
	return out[0], nil
}
