// Package hegamal implements hashed ElGamal hybrid encryption for share
// delivery: c1 = r*G, a symmetric key derived from r*PK via HKDF-SHA256,
// and an AES-256-GCM sealed payload. A Fiat-Shamir sigma proof binds a
// ciphertext to the commitment evaluation the plaintext must open to.
package hegamal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"golang.org/x/crypto/hkdf"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/core"
)

var (
	ErrCrypto       = errors.New("hegamal crypto error")
	ErrInvalidProof = errors.New("invalid share proof")
)

const (
	kdfTag   = "DPSS/HEGAMAL/KDF/v1"
	proofTag = "DPSS/HEGAMAL/PROOF/v1"
	keySize  = 32
)

// KeyPair is a party's long-term encryption key pair. The secret scalar never
// leaves the owning party.
type KeyPair struct {
	SK fr.Element
	PK bls12381.G1Affine
}

func GenerateKeyPair() (KeyPair, error) {
	sk, err := core.RandomScalar()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{SK: sk, PK: core.MulBase(sk)}, nil
}

// KeyPairFromBytes rebuilds a key pair from a stored secret scalar.
func KeyPairFromBytes(sk []byte) (KeyPair, error) {
	s, err := core.ScalarFromBytes(sk)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{SK: s, PK: core.MulBase(s)}, nil
}

// Ciphertext is a sealed share payload. C1 is the ephemeral compressed G1
// point, Data is AES-GCM output over the serialized scalars.
type Ciphertext struct {
	C1    []byte `json:"c1"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

func deriveKey(shared bls12381.G1Affine, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, core.PointToBytes(shared), []byte(kdfTag), info)
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals payload to pk. The returned scalar is the ephemeral
// randomness r, needed by the dealer to produce the consistency proof.
func Encrypt(pk bls12381.G1Affine, payload, info []byte) (Ciphertext, fr.Element, error) {
	r, err := core.RandomScalar()
	if err != nil {
		return Ciphertext{}, fr.Element{}, err
	}
	c1 := core.MulBase(r)
	key, err := deriveKey(core.Mul(pk, r), info)
	if err != nil {
		return Ciphertext{}, fr.Element{}, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return Ciphertext{}, fr.Element{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Ciphertext{}, fr.Element{}, err
	}
	ct := Ciphertext{
		C1:    core.PointToBytes(c1),
		Nonce: nonce,
		Data:  gcm.Seal(nil, nonce, payload, info),
	}
	return ct, r, nil
}

// Decrypt opens a ciphertext with the recipient's secret scalar.
func Decrypt(sk fr.Element, ct Ciphertext, info []byte) ([]byte, error) {
	c1, err := core.PointFromBytes(ct.C1)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(core.Mul(c1, sk), info)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ct.Nonce) != gcm.NonceSize() {
		return nil, ErrCrypto
	}
	return gcm.Open(nil, ct.Nonce, ct.Data, info)
}

// Proof is a two-leg Schnorr transcript: knowledge of the encryption
// randomness r behind C1, and of an opening (value, blind) of the commitment
// evaluation point the recipient's plaintext must match. Z3 is present only
// under Pedersen commitments.
type Proof struct {
	T1 []byte `json:"t1"`
	T2 []byte `json:"t2"`
	Z1 []byte `json:"z1"`
	Z2 []byte `json:"z2"`
	Z3 []byte `json:"z3,omitempty"`
}

func challenge(ct Ciphertext, evalPt, pk bls12381.G1Affine, t1, t2 bls12381.G1Affine, info []byte) (fr.Element, error) {
	msg := make([]byte, 0, 5*core.PointBytes+len(ct.Nonce)+len(ct.Data)+len(info))
	msg = append(msg, ct.C1...)
	msg = append(msg, ct.Nonce...)
	msg = append(msg, ct.Data...)
	msg = append(msg, core.PointToBytes(evalPt)...)
	msg = append(msg, core.PointToBytes(pk)...)
	msg = append(msg, core.PointToBytes(t1)...)
	msg = append(msg, core.PointToBytes(t2)...)
	msg = append(msg, info...)
	return core.HashToScalar(proofTag, msg)
}

// Prove builds the consistency proof for a freshly encrypted share.
// blind is nil under Feldman commitments.
func Prove(r, value fr.Element, blind *fr.Element, ct Ciphertext, evalPt, pk bls12381.G1Affine, info []byte) (Proof, error) {
	k1, err := core.RandomScalar()
	if err != nil {
		return Proof{}, err
	}
	k2, err := core.RandomScalar()
	if err != nil {
		return Proof{}, err
	}
	t1 := core.MulBase(k1)
	t2 := core.MulBase(k2)
	var k3 fr.Element
	if blind != nil {
		if k3, err = core.RandomScalar(); err != nil {
			return Proof{}, err
		}
		t2 = core.Add(t2, core.Mul(commit.PedersenBase(), k3))
	}
	e, err := challenge(ct, evalPt, pk, t1, t2, info)
	if err != nil {
		return Proof{}, err
	}
	var z1, z2 fr.Element
	z1.Mul(&e, &r)
	z1.Add(&z1, &k1)
	z2.Mul(&e, &value)
	z2.Add(&z2, &k2)
	p := Proof{
		T1: core.PointToBytes(t1),
		T2: core.PointToBytes(t2),
		Z1: core.ScalarToBytes(z1),
		Z2: core.ScalarToBytes(z2),
	}
	if blind != nil {
		var z3 fr.Element
		z3.Mul(&e, blind)
		z3.Add(&z3, &k3)
		p.Z3 = core.ScalarToBytes(z3)
	}
	return p, nil
}

// Verify checks the proof against a ciphertext, the commitment evaluation
// point for the recipient's index, and the recipient's public key. It is
// publicly verifiable: any party can run it without decrypting.
func (p Proof) Verify(ct Ciphertext, evalPt, pk bls12381.G1Affine, info []byte) error {
	t1, err := core.PointFromBytes(p.T1)
	if err != nil {
		return ErrInvalidProof
	}
	t2, err := core.PointFromBytes(p.T2)
	if err != nil {
		return ErrInvalidProof
	}
	c1, err := core.PointFromBytes(ct.C1)
	if err != nil {
		return ErrInvalidProof
	}
	z1, err := core.ScalarFromBytes(p.Z1)
	if err != nil {
		return ErrInvalidProof
	}
	z2, err := core.ScalarFromBytes(p.Z2)
	if err != nil {
		return ErrInvalidProof
	}
	e, err := challenge(ct, evalPt, pk, t1, t2, info)
	if err != nil {
		return ErrInvalidProof
	}
	// z1*G == T1 + e*C1
	lhs := core.MulBase(z1)
	rhs := core.Add(t1, core.Mul(c1, e))
	if !lhs.Equal(&rhs) {
		return ErrInvalidProof
	}
	// z2*G (+ z3*H) == T2 + e*A
	lhs = core.MulBase(z2)
	if len(p.Z3) > 0 {
		z3, err := core.ScalarFromBytes(p.Z3)
		if err != nil {
			return ErrInvalidProof
		}
		lhs = core.Add(lhs, core.Mul(commit.PedersenBase(), z3))
	}
	rhs = core.Add(t2, core.Mul(evalPt, e))
	if !lhs.Equal(&rhs) {
		return ErrInvalidProof
	}
	return nil
}
