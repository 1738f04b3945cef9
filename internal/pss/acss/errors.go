package acss

import "errors"

var (
	ErrInvalidParams          = errors.New("invalid params")
	ErrInvalidProof           = errors.New("invalid proof")
	ErrInvalidShare           = errors.New("invalid share")
	ErrInconsistentCommitment = errors.New("inconsistent commitment")
	ErrEquivocation           = errors.New("equivocation detected")
	ErrNotFinalized           = errors.New("instance not finalized")
	ErrCrypto                 = errors.New("acss crypto error")
	ErrNotFound               = errors.New("not found")
)
