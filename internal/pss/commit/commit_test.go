package commit

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/stretchr/testify/require"

	"github.com/threshnet/dpss/internal/pss/poly"
)

func scalar(v int64) fr.Element {
	var s fr.Element
	s.SetInt64(v)
	return s
}

func TestFeldmanVerifyEval(t *testing.T) {
	p, err := poly.NewRandom(2, scalar(42))
	require.NoError(t, err)
	c, blind, err := Commit(SchemeFeldman, p)
	require.NoError(t, err)
	require.Nil(t, blind)
	require.NoError(t, c.Validate())
	require.Equal(t, 2, c.Degree())

	for i := 1; i <= 4; i++ {
		require.NoError(t, c.VerifyEval(i, p.EvalAt(i), nil))
	}

	wrong := scalar(1)
	require.ErrorIs(t, c.VerifyEval(1, wrong, nil), ErrEvalMismatch)
}

func TestPedersenVerifyEval(t *testing.T) {
	p, err := poly.NewRandom(2, scalar(7))
	require.NoError(t, err)
	c, blind, err := Commit(SchemePedersen, p)
	require.NoError(t, err)
	require.NotNil(t, blind)
	require.Equal(t, p.Degree(), blind.Degree())

	for i := 1; i <= 4; i++ {
		b := blind.EvalAt(i)
		require.NoError(t, c.VerifyEval(i, p.EvalAt(i), &b))
	}

	// Value alone is not an opening under Pedersen.
	v := p.EvalAt(1)
	require.Error(t, c.VerifyEval(1, v, nil))
	bad := scalar(3)
	require.ErrorIs(t, c.VerifyEval(1, v, &bad), ErrEvalMismatch)
}

func TestBivariateRowAndCross(t *testing.T) {
	bv, err := poly.NewRandomBivariate(2, scalar(1000))
	require.NoError(t, err)
	c, err := CommitBivariate(bv)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.Equal(t, 3, c.Dim)
	require.Equal(t, 2, c.Degree())

	for i := 1; i <= 4; i++ {
		row := bv.Row(i)
		require.NoError(t, c.VerifyRow(i, row))
		// Row constant term is the effective share.
		require.NoError(t, c.VerifyEval(i, row.Coeffs()[0], nil))
		for j := 1; j <= 4; j++ {
			require.NoError(t, c.VerifyCross(j, i, row.EvalAt(j)))
		}
	}

	badRow := poly.FromCoeffs([]fr.Element{scalar(1), scalar(2), scalar(3)})
	require.ErrorIs(t, c.VerifyRow(1, badRow), ErrEvalMismatch)
	require.ErrorIs(t, c.VerifyCross(1, 2, scalar(9)), ErrEvalMismatch)
}

func TestCommitmentEqualAndValidate(t *testing.T) {
	p, err := poly.NewRandom(1, scalar(3))
	require.NoError(t, err)
	c1, _, err := Commit(SchemeFeldman, p)
	require.NoError(t, err)
	c2, _, err := Commit(SchemeFeldman, p)
	require.NoError(t, err)
	require.True(t, c1.Equal(c2))

	q, err := poly.NewRandom(1, scalar(4))
	require.NoError(t, err)
	c3, _, err := Commit(SchemeFeldman, q)
	require.NoError(t, err)
	require.False(t, c1.Equal(c3))
	require.False(t, c1.Equal(nil))

	bad := &Commitment{Scheme: "nope", Points: c1.Points}
	require.ErrorIs(t, bad.Validate(), ErrUnknownScheme)
	trunc := &Commitment{Scheme: SchemeFeldman, Points: [][]byte{{1, 2, 3}}}
	require.ErrorIs(t, trunc.Validate(), ErrInvalidPoint)
}
