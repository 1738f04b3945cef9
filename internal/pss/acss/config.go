package acss

import (
	"crypto/ed25519"
	"fmt"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/committee"
)

// Config describes one party's view of a single sharing round: the receiving
// committee, the authorized dealer set, and which roles this party plays.
// A party may be dealer only (DealerIndex>0, SelfIndex=0), receiver only,
// or both, which is the normal case for an initial sharing.
type Config struct {
	SessionID string

	// Epoch is the epoch of the shares this round produces. SourceEpoch is
	// zero for an initial sharing and names the consumed epoch for a reshare.
	Epoch       uint64
	SourceEpoch uint64

	// Committee is the receiving committee. Dealers are the parties allowed
	// to deal in this round; empty means the committee members themselves.
	Committee committee.Committee
	Dealers   []committee.Member

	// SelfIndex is this party's receiver index in Committee (0 = not a
	// receiver). DealerIndex is this party's index in Dealers (0 = not a
	// dealer).
	SelfIndex   int
	DealerIndex int

	// SigPriv signs outgoing messages. EncPriv is the 32-byte decryption
	// scalar matching the committee entry's EncPub; required for receivers.
	SigPriv ed25519.PrivateKey
	EncPriv []byte

	// Scheme selects the commitment scheme. HighThreshold deals a symmetric
	// bivariate polynomial so missing shares are recoverable from peers.
	Scheme        string
	HighThreshold bool

	// SessionDir, when set, enables crash-resume persistence of the
	// in-progress round.
	SessionDir string
}

func (c *Config) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidParams)
	}
	if err := c.Committee.Validate(); err != nil {
		return fmt.Errorf("committee: %w", err)
	}
	if len(c.Dealers) == 0 {
		c.Dealers = c.Committee.Members
	}
	for i, d := range c.Dealers {
		if d.Index != i+1 {
			return fmt.Errorf("%w: dealer %d has index %d", ErrInvalidParams, i+1, d.Index)
		}
		if len(d.SigPub) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: dealer %d sig pub", ErrInvalidParams, d.Index)
		}
	}
	if c.Scheme == "" {
		c.Scheme = commit.SchemeFeldman
	}
	if c.Scheme != commit.SchemeFeldman && c.Scheme != commit.SchemePedersen {
		return fmt.Errorf("%w: scheme %q", ErrInvalidParams, c.Scheme)
	}
	if c.HighThreshold && c.Scheme != commit.SchemeFeldman {
		return fmt.Errorf("%w: high-threshold dealing requires feldman commitments", ErrInvalidParams)
	}
	if c.SelfIndex < 0 || c.SelfIndex > c.Committee.N {
		return fmt.Errorf("%w: self index %d", ErrInvalidParams, c.SelfIndex)
	}
	if c.DealerIndex < 0 || c.DealerIndex > len(c.Dealers) {
		return fmt.Errorf("%w: dealer index %d", ErrInvalidParams, c.DealerIndex)
	}
	if c.SelfIndex == 0 && c.DealerIndex == 0 {
		return fmt.Errorf("%w: party has no role", ErrInvalidParams)
	}
	if len(c.SigPriv) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: signing key", ErrInvalidParams)
	}
	if c.SelfIndex > 0 && len(c.EncPriv) != 32 {
		return fmt.Errorf("%w: receivers need a 32-byte decryption key", ErrInvalidParams)
	}
	return nil
}
