// Package poly implements polynomial arithmetic over the BLS12-381 scalar
// field: sampling, Horner evaluation, symmetric bivariate grids for
// high-threshold sharings, Lagrange weights and interpolation.
package poly

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/core"
)

var (
	ErrInvalidParams  = errors.New("invalid params")
	ErrDuplicateIndex = errors.New("duplicate index")
)

// Polynomial is a univariate polynomial; coeffs[j] multiplies x^j.
type Polynomial struct {
	coeffs []fr.Element
}

// FromCoeffs takes ownership of coeffs.
func FromCoeffs(coeffs []fr.Element) *Polynomial {
	return &Polynomial{coeffs: coeffs}
}

// NewRandom samples a degree-`degree` polynomial with the given constant term.
func NewRandom(degree int, constant fr.Element) (*Polynomial, error) {
	if degree < 0 {
		return nil, ErrInvalidParams
	}
	coeffs := make([]fr.Element, degree+1)
	coeffs[0] = constant
	for j := 1; j <= degree; j++ {
		c, err := core.RandomScalar()
		if err != nil {
			return nil, err
		}
		coeffs[j] = c
	}
	return &Polynomial{coeffs: coeffs}, nil
}

func (p *Polynomial) Degree() int          { return len(p.coeffs) - 1 }
func (p *Polynomial) Coeffs() []fr.Element { return p.coeffs }

// Eval evaluates at x by Horner's rule.
func (p *Polynomial) Eval(x fr.Element) fr.Element {
	var acc fr.Element
	for j := len(p.coeffs) - 1; j >= 0; j-- {
		acc.Mul(&acc, &x)
		acc.Add(&acc, &p.coeffs[j])
	}
	return acc
}

// EvalAt evaluates at a party index.
func (p *Polynomial) EvalAt(i int) fr.Element {
	return p.Eval(core.IndexScalar(i))
}

// Bivariate is a symmetric bivariate polynomial B(x,y) = sum b[j][k] x^j y^k
// with b[j][k] == b[k][j]. Degree is the same in both variables.
type Bivariate struct {
	b [][]fr.Element
}

// BivariateFromCoeffs takes ownership of a square coefficient grid.
func BivariateFromCoeffs(b [][]fr.Element) *Bivariate {
	return &Bivariate{b: b}
}

// NewRandomBivariate samples a symmetric degree-`degree` grid with
// B(0,0) = constant.
func NewRandomBivariate(degree int, constant fr.Element) (*Bivariate, error) {
	if degree < 0 {
		return nil, ErrInvalidParams
	}
	n := degree + 1
	b := make([][]fr.Element, n)
	for j := range b {
		b[j] = make([]fr.Element, n)
	}
	b[0][0] = constant
	for j := 0; j < n; j++ {
		for k := j; k < n; k++ {
			if j == 0 && k == 0 {
				continue
			}
			c, err := core.RandomScalar()
			if err != nil {
				return nil, err
			}
			b[j][k] = c
			b[k][j] = c
		}
	}
	return &Bivariate{b: b}, nil
}

func (bv *Bivariate) Degree() int            { return len(bv.b) - 1 }
func (bv *Bivariate) Coeffs() [][]fr.Element { return bv.b }

// Row returns f_i(x) = B(x, i), the univariate projection dealt to party i.
func (bv *Bivariate) Row(i int) *Polynomial {
	y := core.IndexScalar(i)
	n := len(bv.b)
	coeffs := make([]fr.Element, n)
	for j := 0; j < n; j++ {
		var acc, pow fr.Element
		pow.SetOne()
		for k := 0; k < n; k++ {
			var term fr.Element
			term.Mul(&bv.b[j][k], &pow)
			acc.Add(&acc, &term)
			pow.Mul(&pow, &y)
		}
		coeffs[j] = acc
	}
	return &Polynomial{coeffs: coeffs}
}

// Point is a polynomial evaluation owned by party X.
type Point struct {
	X int
	Y fr.Element
}

func checkDistinct(points []Point) error {
	seen := make(map[int]struct{}, len(points))
	for _, pt := range points {
		if pt.X <= 0 {
			return ErrInvalidParams
		}
		if _, ok := seen[pt.X]; ok {
			return ErrDuplicateIndex
		}
		seen[pt.X] = struct{}{}
	}
	return nil
}

// LagrangeAtZero returns the weight lambda_i(0) for each index, such that
// f(0) = sum lambda_i(0) * f(i) for any polynomial of degree < len(indices).
func LagrangeAtZero(indices []int) (map[int]fr.Element, error) {
	if len(indices) == 0 {
		return nil, ErrInvalidParams
	}
	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i <= 0 {
			return nil, ErrInvalidParams
		}
		if _, ok := seen[i]; ok {
			return nil, ErrDuplicateIndex
		}
		seen[i] = struct{}{}
	}
	out := make(map[int]fr.Element, len(indices))
	for _, i := range indices {
		xi := core.IndexScalar(i)
		var num, den fr.Element
		num.SetOne()
		den.SetOne()
		for _, j := range indices {
			if j == i {
				continue
			}
			xj := core.IndexScalar(j)
			var neg, diff fr.Element
			neg.Neg(&xj)
			num.Mul(&num, &neg)
			diff.Sub(&xi, &xj)
			den.Mul(&den, &diff)
		}
		den.Inverse(&den)
		var w fr.Element
		w.Mul(&num, &den)
		out[i] = w
	}
	return out, nil
}

// InterpolateAtZero recovers f(0) from exactly deg+1 points.
func InterpolateAtZero(points []Point) (fr.Element, error) {
	if err := checkDistinct(points); err != nil {
		return fr.Element{}, err
	}
	indices := make([]int, len(points))
	for i, pt := range points {
		indices[i] = pt.X
	}
	weights, err := LagrangeAtZero(indices)
	if err != nil {
		return fr.Element{}, err
	}
	var acc fr.Element
	for _, pt := range points {
		w := weights[pt.X]
		var term fr.Element
		term.Mul(&pt.Y, &w)
		acc.Add(&acc, &term)
	}
	return acc, nil
}

// Interpolate recovers the full coefficient vector of the unique polynomial
// of degree < len(points) through the given points.
func Interpolate(points []Point) (*Polynomial, error) {
	if err := checkDistinct(points); err != nil {
		return nil, err
	}
	n := len(points)
	coeffs := make([]fr.Element, n)
	// Accumulate y_i * prod_{j!=i} (x - x_j)/(x_i - x_j) coefficient-wise.
	for i := 0; i < n; i++ {
		basis := []fr.Element{{}}
		basis[0].SetOne()
		var den fr.Element
		den.SetOne()
		xi := core.IndexScalar(points[i].X)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			xj := core.IndexScalar(points[j].X)
			// basis *= (x - x_j)
			next := make([]fr.Element, len(basis)+1)
			var negXj fr.Element
			negXj.Neg(&xj)
			for k := range basis {
				var t fr.Element
				t.Mul(&basis[k], &negXj)
				next[k].Add(&next[k], &t)
				next[k+1].Add(&next[k+1], &basis[k])
			}
			basis = next
			var diff fr.Element
			diff.Sub(&xi, &xj)
			den.Mul(&den, &diff)
		}
		den.Inverse(&den)
		var scale fr.Element
		scale.Mul(&points[i].Y, &den)
		for k := range basis {
			var t fr.Element
			t.Mul(&basis[k], &scale)
			coeffs[k].Add(&coeffs[k], &t)
		}
	}
	return &Polynomial{coeffs: coeffs}, nil
}
