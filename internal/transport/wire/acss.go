package wire

import (
	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/hegamal"
)

// TopicACSS carries every sharing-protocol message: initial ACSS deals and
// votes as well as reshare instances (distinguished by SourceEpoch).
const TopicACSS = "dpss/acss/v1"

// Message types.
const (
	TypeDeal      = "deal"
	TypeVote      = "vote"
	TypeComplaint = "complaint"
	TypeShareOpen = "share_open"
	TypeRecover   = "recover"
)

// Vote values.
const (
	VoteOk     = "ok"
	VoteReject = "reject"
)

// EncShare is one recipient's sealed share inside a deal, with the
// publicly verifiable consistency proof.
type EncShare struct {
	Index int                `json:"index"`
	Ct    hegamal.Ciphertext `json:"ct"`
	Proof hegamal.Proof      `json:"proof"`
}

// ACSS is the wire format for sharing-instance messages. JSON encoding uses
// lower_snake_case keys and base64 for []byte fields. Sig authenticates the
// unsigned message JSON under the sender's ed25519 key.
//
// Instances are keyed (epoch, dealer). SourceEpoch is zero for an initial
// sharing and set to the outgoing epoch on reshare instances. Votes carry the
// digest of the commitment the voter accepted; Share and Blind hold a
// share_open's public opening.
type ACSS struct {
	SessionID    string              `json:"session_id"`
	Epoch        uint64              `json:"epoch"`
	SourceEpoch  uint64              `json:"source_epoch,omitempty"`
	Type         string              `json:"type"`
	Dealer       int                 `json:"dealer"`
	From         int                 `json:"from"`
	To           int                 `json:"to,omitempty"`
	Commitment   *commit.Commitment  `json:"commitment,omitempty"`
	Shares       []EncShare          `json:"shares,omitempty"`
	Vote         string              `json:"vote,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	CommitDigest []byte              `json:"commit_digest,omitempty"`
	Share        []byte              `json:"share,omitempty"`
	Blind        []byte              `json:"blind,omitempty"`
	Recover      *hegamal.Ciphertext `json:"recover,omitempty"`
	TraceID      string              `json:"trace_id,omitempty"`
	Sig          []byte              `json:"sig,omitempty"`
}
