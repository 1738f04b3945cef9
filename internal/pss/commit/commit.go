// Package commit binds a polynomial to a public vector of group elements so
// that evaluations can be checked without revealing coefficients. Two schemes
// are supported: Feldman (C_j = a_j*G, computational hiding) and Pedersen
// (C_j = a_j*G + b_j*H, unconditional hiding with a blinding polynomial).
package commit

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/poly"
)

const (
	SchemeFeldman  = "feldman"
	SchemePedersen = "pedersen"
)

var (
	ErrInvalidParams     = errors.New("invalid params")
	ErrInvalidPoint      = errors.New("invalid point")
	ErrUnknownScheme     = errors.New("unknown commitment scheme")
	ErrEvalMismatch      = errors.New("evaluation does not match commitment")
	ErrSchemeUnsupported = errors.New("operation unsupported for scheme")
)

// pedersenH is the second generator for Pedersen commitments, derived by
// hashing so no party knows its discrete log.
var pedersenH bls12381.G1Affine

func init() {
	h, err := core.HashToPoint("DPSS/PEDERSEN/H/v1")
	if err != nil {
		panic(err)
	}
	pedersenH = h
}

// PedersenBase returns the auxiliary generator H.
func PedersenBase() bls12381.G1Affine { return pedersenH }

// Commitment is the public record attached to a sharing instance. Points are
// compressed G1 elements. For univariate sharings Dim is 0 and Points holds
// degree+1 entries; for symmetric bivariate sharings Dim = degree+1 and
// Points holds the Dim x Dim coefficient grid row-major.
type Commitment struct {
	Scheme string   `json:"scheme"`
	Dim    int      `json:"dim,omitempty"`
	Points [][]byte `json:"points"`
}

// Degree returns the committed polynomial degree.
func (c *Commitment) Degree() int {
	if c.Dim > 0 {
		return c.Dim - 1
	}
	return len(c.Points) - 1
}

func (c *Commitment) validate() error {
	switch c.Scheme {
	case SchemeFeldman, SchemePedersen:
	default:
		return ErrUnknownScheme
	}
	if len(c.Points) == 0 {
		return ErrInvalidParams
	}
	if c.Dim > 0 {
		if c.Scheme != SchemeFeldman {
			return ErrSchemeUnsupported
		}
		if len(c.Points) != c.Dim*c.Dim {
			return ErrInvalidParams
		}
	}
	for _, b := range c.Points {
		if len(b) != core.PointBytes {
			return ErrInvalidPoint
		}
	}
	return nil
}

// Validate decodes every point once; call on untrusted input before use.
func (c *Commitment) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	for _, b := range c.Points {
		if _, err := core.PointFromBytes(b); err != nil {
			return err
		}
	}
	return nil
}

// Equal compares commitments byte-wise; used for equivocation detection.
func (c *Commitment) Equal(o *Commitment) bool {
	if o == nil || c.Scheme != o.Scheme || c.Dim != o.Dim || len(c.Points) != len(o.Points) {
		return false
	}
	for i := range c.Points {
		if string(c.Points[i]) != string(o.Points[i]) {
			return false
		}
	}
	return true
}

// Digest is a stable identifier for the commitment, carried in votes so that
// acknowledgements of different deals can never pool into one tally.
func (c *Commitment) Digest() []byte {
	h := sha256.New()
	h.Write([]byte(c.Scheme))
	var dim [4]byte
	binary.BigEndian.PutUint32(dim[:], uint32(c.Dim))
	h.Write(dim[:])
	for _, p := range c.Points {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Commit commits to p. For Pedersen a fresh blinding polynomial of the same
// degree is sampled and returned; for Feldman it is nil.
func Commit(scheme string, p *poly.Polynomial) (*Commitment, *poly.Polynomial, error) {
	switch scheme {
	case SchemeFeldman:
		pts := make([][]byte, 0, p.Degree()+1)
		for _, a := range p.Coeffs() {
			pts = append(pts, core.PointToBytes(core.MulBase(a)))
		}
		return &Commitment{Scheme: SchemeFeldman, Points: pts}, nil, nil
	case SchemePedersen:
		zero := fr.Element{}
		blind, err := poly.NewRandom(p.Degree(), zero)
		if err != nil {
			return nil, nil, err
		}
		// Blinding constant term is random too.
		b0, err := core.RandomScalar()
		if err != nil {
			return nil, nil, err
		}
		blind.Coeffs()[0] = b0
		pts := make([][]byte, 0, p.Degree()+1)
		for j, a := range p.Coeffs() {
			pt := core.Add(core.MulBase(a), core.Mul(pedersenH, blind.Coeffs()[j]))
			pts = append(pts, core.PointToBytes(pt))
		}
		return &Commitment{Scheme: SchemePedersen, Points: pts}, blind, nil
	default:
		return nil, nil, ErrUnknownScheme
	}
}

// CommitBivariate commits to a symmetric bivariate grid (Feldman only).
func CommitBivariate(bv *poly.Bivariate) (*Commitment, error) {
	dim := bv.Degree() + 1
	pts := make([][]byte, 0, dim*dim)
	for _, row := range bv.Coeffs() {
		for _, a := range row {
			pts = append(pts, core.PointToBytes(core.MulBase(a)))
		}
	}
	return &Commitment{Scheme: SchemeFeldman, Dim: dim, Points: pts}, nil
}

// Eval returns the public point the share at index must open to:
// sum C_j * x^j for univariate, sum C_0k * x^k (the row constant term) for
// bivariate.
func (c *Commitment) Eval(index int) (bls12381.G1Affine, error) {
	if err := c.validate(); err != nil {
		return bls12381.G1Affine{}, err
	}
	if index <= 0 {
		return bls12381.G1Affine{}, ErrInvalidParams
	}
	if c.Dim > 0 {
		return c.rowCoeffPoint(0, index)
	}
	return evalPoints(c.Points, index)
}

// rowCoeffPoint returns the commitment to coefficient j of row polynomial
// f_i(x) = B(x, i), i.e. sum_k C_jk * i^k.
func (c *Commitment) rowCoeffPoint(j, i int) (bls12381.G1Affine, error) {
	if c.Dim == 0 || j < 0 || j >= c.Dim {
		return bls12381.G1Affine{}, ErrInvalidParams
	}
	row := c.Points[j*c.Dim : (j+1)*c.Dim]
	return evalPoints(row, i)
}

// CrossPoint returns the commitment to B(i, j), used to verify recovery
// evaluations in the bivariate variant.
func (c *Commitment) CrossPoint(i, j int) (bls12381.G1Affine, error) {
	if c.Dim == 0 {
		return bls12381.G1Affine{}, ErrSchemeUnsupported
	}
	if i <= 0 || j <= 0 {
		return bls12381.G1Affine{}, ErrInvalidParams
	}
	xi := core.IndexScalar(i)
	var acc bls12381.G1Affine
	first := true
	var pow fr.Element
	pow.SetOne()
	for a := 0; a < c.Dim; a++ {
		rowPt, err := c.rowCoeffPoint(a, j)
		if err != nil {
			return bls12381.G1Affine{}, err
		}
		term := core.Mul(rowPt, pow)
		if first {
			acc = term
			first = false
		} else {
			acc = core.Add(acc, term)
		}
		pow.Mul(&pow, &xi)
	}
	return acc, nil
}

func evalPoints(pts [][]byte, index int) (bls12381.G1Affine, error) {
	x := core.IndexScalar(index)
	var acc bls12381.G1Affine
	var pow fr.Element
	pow.SetOne()
	for j, b := range pts {
		p, err := core.PointFromBytes(b)
		if err != nil {
			return bls12381.G1Affine{}, err
		}
		term := core.Mul(p, pow)
		if j == 0 {
			acc = term
		} else {
			acc = core.Add(acc, term)
		}
		pow.Mul(&pow, &x)
	}
	return acc, nil
}

// VerifyEval checks a decrypted share (value, and blind under Pedersen)
// against the commitment at the owner's index.
func (c *Commitment) VerifyEval(index int, value fr.Element, blind *fr.Element) error {
	want, err := c.Eval(index)
	if err != nil {
		return err
	}
	got := core.MulBase(value)
	if c.Scheme == SchemePedersen {
		if blind == nil {
			return ErrInvalidParams
		}
		got = core.Add(got, core.Mul(pedersenH, *blind))
	}
	if !got.Equal(&want) {
		return ErrEvalMismatch
	}
	return nil
}

// VerifyRow checks a full decrypted row polynomial against a bivariate
// commitment matrix.
func (c *Commitment) VerifyRow(index int, row *poly.Polynomial) error {
	if c.Dim == 0 {
		return ErrSchemeUnsupported
	}
	if row.Degree() != c.Dim-1 {
		return ErrEvalMismatch
	}
	for j, a := range row.Coeffs() {
		want, err := c.rowCoeffPoint(j, index)
		if err != nil {
			return err
		}
		got := core.MulBase(a)
		if !got.Equal(&want) {
			return ErrEvalMismatch
		}
	}
	return nil
}

// VerifyCross checks a single recovery evaluation v = B(i, j) reported by
// party j for party i.
func (c *Commitment) VerifyCross(i, j int, v fr.Element) error {
	want, err := c.CrossPoint(i, j)
	if err != nil {
		return err
	}
	got := core.MulBase(v)
	if !got.Equal(&want) {
		return ErrEvalMismatch
	}
	return nil
}
