package hegamal

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/stretchr/testify/require"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/poly"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := []byte("thirty-two bytes of share please")
	info := []byte("session|epoch|dealer|index")
	ct, _, err := Encrypt(kp.PK, payload, info)
	require.NoError(t, err)

	got, err := Decrypt(kp.SK, ct, info)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	ct, _, err := Encrypt(kp.PK, []byte("secret"), []byte("ctx"))
	require.NoError(t, err)

	_, err = Decrypt(other.SK, ct, []byte("ctx"))
	require.Error(t, err)
}

func TestDecryptWrongContextFails(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	ct, _, err := Encrypt(kp.PK, []byte("secret"), []byte("ctx-a"))
	require.NoError(t, err)
	_, err = Decrypt(kp.SK, ct, []byte("ctx-b"))
	require.Error(t, err)
}

func TestKeyPairFromBytes(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	back, err := KeyPairFromBytes(core.ScalarToBytes(kp.SK))
	require.NoError(t, err)
	require.True(t, back.PK.Equal(&kp.PK))
}

func TestProofVerifyFeldman(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	var secret fr.Element
	secret.SetInt64(42)
	p, err := poly.NewRandom(2, secret)
	require.NoError(t, err)
	c, _, err := commit.Commit(commit.SchemeFeldman, p)
	require.NoError(t, err)

	const index = 3
	value := p.EvalAt(index)
	info := []byte("round-context")
	ct, r, err := Encrypt(kp.PK, core.ScalarToBytes(value), info)
	require.NoError(t, err)

	evalPt, err := c.Eval(index)
	require.NoError(t, err)
	proof, err := Prove(r, value, nil, ct, evalPt, kp.PK, info)
	require.NoError(t, err)
	require.Empty(t, proof.Z3)
	require.NoError(t, proof.Verify(ct, evalPt, kp.PK, info))
}

func TestProofVerifyPedersen(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	var secret fr.Element
	secret.SetInt64(99)
	p, err := poly.NewRandom(2, secret)
	require.NoError(t, err)
	c, blindPoly, err := commit.Commit(commit.SchemePedersen, p)
	require.NoError(t, err)

	const index = 2
	value := p.EvalAt(index)
	blind := blindPoly.EvalAt(index)
	info := []byte("round-context")
	payload := append(core.ScalarToBytes(value), core.ScalarToBytes(blind)...)
	ct, r, err := Encrypt(kp.PK, payload, info)
	require.NoError(t, err)

	evalPt, err := c.Eval(index)
	require.NoError(t, err)
	proof, err := Prove(r, value, &blind, ct, evalPt, kp.PK, info)
	require.NoError(t, err)
	require.NotEmpty(t, proof.Z3)
	require.NoError(t, proof.Verify(ct, evalPt, kp.PK, info))
}

func TestProofRejectsTampering(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	var secret fr.Element
	secret.SetInt64(7)
	p, err := poly.NewRandom(1, secret)
	require.NoError(t, err)
	c, _, err := commit.Commit(commit.SchemeFeldman, p)
	require.NoError(t, err)

	const index = 1
	value := p.EvalAt(index)
	info := []byte("ctx")
	ct, r, err := Encrypt(kp.PK, core.ScalarToBytes(value), info)
	require.NoError(t, err)
	evalPt, err := c.Eval(index)
	require.NoError(t, err)
	proof, err := Prove(r, value, nil, ct, evalPt, kp.PK, info)
	require.NoError(t, err)

	// Ciphertext tampering is caught because the challenge binds the bytes.
	bad := ct
	bad.Data = append([]byte(nil), ct.Data...)
	bad.Data[0] ^= 0x01
	require.ErrorIs(t, proof.Verify(bad, evalPt, kp.PK, info), ErrInvalidProof)

	// Wrong evaluation point.
	otherPt, err := c.Eval(index + 1)
	require.NoError(t, err)
	require.ErrorIs(t, proof.Verify(ct, otherPt, kp.PK, info), ErrInvalidProof)

	// Wrong context.
	require.ErrorIs(t, proof.Verify(ct, evalPt, kp.PK, []byte("other")), ErrInvalidProof)

	// A proof built for a value the commitment does not open to.
	wrongVal := p.EvalAt(index + 1)
	ct2, r2, err := Encrypt(kp.PK, core.ScalarToBytes(wrongVal), info)
	require.NoError(t, err)
	proof2, err := Prove(r2, wrongVal, nil, ct2, evalPt, kp.PK, info)
	require.NoError(t, err)
	require.ErrorIs(t, proof2.Verify(ct2, evalPt, kp.PK, info), ErrInvalidProof)
}
