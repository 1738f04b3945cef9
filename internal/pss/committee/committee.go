// Package committee models the party set holding shares for one epoch and
// validates the threshold parameters the protocols rely on.
package committee

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"os"
)

var (
	ErrInvalidCommittee = errors.New("invalid committee")
	ErrUnknownMember    = errors.New("unknown committee member")
)

// Member is the public identity of one party: its index within the
// committee, an ed25519 key authenticating its wire messages, and a
// compressed-G1 hashed-ElGamal key its shares are encrypted to.
type Member struct {
	Index  int    `json:"index"`
	SigPub []byte `json:"sig_pub"`
	EncPub []byte `json:"enc_pub"`
}

// Committee is the ordered party set for one epoch.
// N is the size, T the fault/reconstruction threshold, D the privacy
// threshold; shares live on degree-D polynomials.
type Committee struct {
	Epoch   uint64   `json:"epoch"`
	N       int      `json:"n"`
	T       int      `json:"t"`
	D       int      `json:"d"`
	Members []Member `json:"members"`
}

// Validate enforces the asynchronous BFT bounds: n >= 3t+1 and
// t <= d <= n-t-1, plus well-formed member records.
func (c Committee) Validate() error {
	if c.N <= 0 || len(c.Members) != c.N {
		return errors.New("committee size mismatch")
	}
	if c.T <= 0 || c.N < 3*c.T+1 {
		return errors.New("n must be at least 3t+1")
	}
	if c.D < c.T || c.D > c.N-c.T-1 {
		return errors.New("d must satisfy t <= d <= n-t-1")
	}
	seen := map[int]struct{}{}
	for _, m := range c.Members {
		if m.Index <= 0 || m.Index > c.N {
			return errors.New("invalid member index")
		}
		if _, ok := seen[m.Index]; ok {
			return errors.New("duplicate member index")
		}
		if len(m.SigPub) != ed25519.PublicKeySize {
			return errors.New("invalid member sig_pub")
		}
		if len(m.EncPub) != 48 {
			return errors.New("invalid member enc_pub")
		}
		seen[m.Index] = struct{}{}
	}
	return nil
}

// Member looks up a party by index.
func (c Committee) Member(index int) (Member, bool) {
	for _, m := range c.Members {
		if m.Index == index {
			return m, true
		}
	}
	return Member{}, false
}

// OkQuorum is the vote count finalizing an instance Valid.
func (c Committee) OkQuorum() int { return c.N - c.T }

// RejectQuorum is the vote count finalizing an instance Invalid: t+1
// rejects include at least one honest party holding public evidence.
func (c Committee) RejectQuorum() int { return c.T + 1 }

// Load reads and validates a committee description from a JSON file.
func Load(path string) (Committee, error) {
	if path == "" {
		return Committee{}, errors.New("empty committee path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Committee{}, err
	}
	var c Committee
	if err := json.Unmarshal(b, &c); err != nil {
		return Committee{}, err
	}
	if err := c.Validate(); err != nil {
		return Committee{}, err
	}
	return c, nil
}
