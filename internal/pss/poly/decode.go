package poly

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/threshnet/dpss/internal/pss/core"
)

// ErrDecodeFailed means the point set is not within the correctable error
// bound of any degree-d polynomial.
var ErrDecodeFailed = errors.New("robust decode failed")

// Decode recovers the unique degree <= d polynomial through the points when
// at most floor((len(points)-d-1)/2) of them are wrong (Berlekamp-Welch).
// With no redundancy it degrades to plain interpolation.
func Decode(points []Point, d int) (*Polynomial, error) {
	if d < 0 || len(points) < d+1 {
		return nil, ErrInvalidParams
	}
	if err := checkDistinct(points); err != nil {
		return nil, err
	}
	maxErrs := (len(points) - d - 1) / 2
	for e := maxErrs; e >= 0; e-- {
		if f, ok := tryDecode(points, d, e); ok {
			return f, nil
		}
	}
	return nil, ErrDecodeFailed
}

// tryDecode solves Q(x_i) = y_i * E(x_i) with E monic of degree e and
// deg Q <= d+e, then divides Q by E.
func tryDecode(points []Point, d, e int) (*Polynomial, bool) {
	m := len(points)
	nq := d + e + 1 // unknown Q coefficients
	nu := nq + e    // plus e unknown E coefficients (monic leading term fixed)

	A := make([][]fr.Element, m)
	b := make([]fr.Element, m)
	for i, pt := range points {
		row := make([]fr.Element, nu)
		x := core.IndexScalar(pt.X)
		var pow fr.Element
		pow.SetOne()
		for j := 0; j < nq; j++ {
			row[j] = pow
			pow.Mul(&pow, &x)
		}
		pow.SetOne()
		for k := 0; k < e; k++ {
			var t fr.Element
			t.Mul(&pt.Y, &pow)
			row[nq+k].Neg(&t)
			pow.Mul(&pow, &x)
		}
		// rhs = y_i * x_i^e; pow now holds x_i^e
		b[i].Mul(&pt.Y, &pow)
		A[i] = row
	}

	sol, ok := solveLinear(A, b)
	if !ok {
		return nil, false
	}

	q := trimZeros(sol[:nq])
	ec := make([]fr.Element, e+1)
	copy(ec, sol[nq:])
	ec[e].SetOne()

	f, ok := divideExact(q, ec)
	if !ok {
		return nil, false
	}
	if len(f) > d+1 {
		return nil, false
	}
	out := &Polynomial{coeffs: padTo(f, d+1)}

	wrong := 0
	for _, pt := range points {
		got := out.EvalAt(pt.X)
		if !got.Equal(&pt.Y) {
			wrong++
		}
	}
	if wrong > e {
		return nil, false
	}
	return out, true
}

// solveLinear runs Gaussian elimination over fr. Free variables are set to
// zero; returns false when the system is inconsistent.
func solveLinear(A [][]fr.Element, b []fr.Element) ([]fr.Element, bool) {
	m := len(A)
	if m == 0 {
		return nil, false
	}
	n := len(A[0])
	pivotCol := make([]int, 0, n)
	row := 0
	for col := 0; col < n && row < m; col++ {
		pivot := -1
		for i := row; i < m; i++ {
			if !A[i][col].IsZero() {
				pivot = i
				break
			}
		}
		if pivot < 0 {
			continue
		}
		A[row], A[pivot] = A[pivot], A[row]
		b[row], b[pivot] = b[pivot], b[row]
		var inv fr.Element
		inv.Inverse(&A[row][col])
		for j := col; j < n; j++ {
			A[row][j].Mul(&A[row][j], &inv)
		}
		b[row].Mul(&b[row], &inv)
		for i := 0; i < m; i++ {
			if i == row || A[i][col].IsZero() {
				continue
			}
			factor := A[i][col]
			for j := col; j < n; j++ {
				var t fr.Element
				t.Mul(&factor, &A[row][j])
				A[i][j].Sub(&A[i][j], &t)
			}
			var t fr.Element
			t.Mul(&factor, &b[row])
			b[i].Sub(&b[i], &t)
		}
		pivotCol = append(pivotCol, col)
		row++
	}
	// Remaining rows must be 0 = 0.
	for i := row; i < m; i++ {
		if !b[i].IsZero() {
			return nil, false
		}
	}
	// Back substitution; free variables stay zero.
	sol := make([]fr.Element, n)
	for r := len(pivotCol) - 1; r >= 0; r-- {
		col := pivotCol[r]
		val := b[r]
		for j := col + 1; j < len(sol); j++ {
			if A[r][j].IsZero() {
				continue
			}
			var t fr.Element
			t.Mul(&A[r][j], &sol[j])
			val.Sub(&val, &t)
		}
		sol[col] = val
	}
	return sol, true
}

// divideExact returns q/e when the division has zero remainder.
func divideExact(q, e []fr.Element) ([]fr.Element, bool) {
	q = trimZeros(q)
	e = trimZeros(e)
	if len(e) == 0 {
		return nil, false
	}
	if len(q) == 0 {
		return []fr.Element{}, true
	}
	if len(q) < len(e) {
		return nil, false
	}
	rem := make([]fr.Element, len(q))
	copy(rem, q)
	quot := make([]fr.Element, len(q)-len(e)+1)
	var leadInv fr.Element
	leadInv.Inverse(&e[len(e)-1])
	for i := len(quot) - 1; i >= 0; i-- {
		var c fr.Element
		c.Mul(&rem[i+len(e)-1], &leadInv)
		quot[i] = c
		if c.IsZero() {
			continue
		}
		for j := 0; j < len(e); j++ {
			var t fr.Element
			t.Mul(&c, &e[j])
			rem[i+j].Sub(&rem[i+j], &t)
		}
	}
	for _, r := range rem {
		if !r.IsZero() {
			return nil, false
		}
	}
	return trimZeros(quot), true
}

func trimZeros(c []fr.Element) []fr.Element {
	n := len(c)
	for n > 0 && c[n-1].IsZero() {
		n--
	}
	return c[:n]
}

func padTo(c []fr.Element, n int) []fr.Element {
	if len(c) >= n {
		return c
	}
	out := make([]fr.Element, n)
	copy(out, c)
	return out
}
