package acss

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/transport/wire"
)

// SessionStore persists an in-progress sharing round so a party can resume
// after restart without redealing or changing its vote.
type SessionStore struct {
	dir string
	mu  sync.Mutex
}

func NewSessionStore(dir string) *SessionStore { return &SessionStore{dir: dir} }

var ErrSessionNotFound = errors.New("acss session not found")

const (
	magicSession   uint32 = 0x44505348 // 'DPSH'
	versionSession uint16 = 1
)

// voteSnapshot mirrors voteRecord for persistence.
type voteSnapshot struct {
	Vote   string `json:"vote"`
	Digest []byte `json:"digest,omitempty"`
}

type instanceSnapshot struct {
	Commitment *commit.Commitment `json:"commitment,omitempty"`

	Votes        map[int]voteSnapshot `json:"votes,omitempty"`
	Equivocators []int                `json:"equivocators,omitempty"`
	Complaints   []int                `json:"complaints,omitempty"`

	// Verified recovery evaluations by sender index (32B scalars).
	Recovered map[int][]byte `json:"recovered,omitempty"`

	Voted  bool   `json:"voted,omitempty"`
	Vote   string `json:"vote,omitempty"`
	Reason string `json:"reason,omitempty"`
	State  string `json:"state,omitempty"`

	ShareValue []byte   `json:"share_value,omitempty"`
	ShareBlind []byte   `json:"share_blind,omitempty"`
	ShareRow   [][]byte `json:"share_row,omitempty"`

	// Dealer-side polynomials (32B scalars; bivariate grid row-major).
	DealCoeffs      [][]byte `json:"deal_coeffs,omitempty"`
	DealBlindCoeffs [][]byte `json:"deal_blind_coeffs,omitempty"`
	DealBiCoeffs    [][]byte `json:"deal_bi_coeffs,omitempty"`

	// Signed messages kept for rebroadcast.
	DealMsg *wire.ACSS `json:"deal_msg,omitempty"`
	VoteMsg *wire.ACSS `json:"vote_msg,omitempty"`
	CplMsg  *wire.ACSS `json:"cpl_msg,omitempty"`
}

type sessionState struct {
	Epoch       uint64                   `json:"epoch"`
	SourceEpoch uint64                   `json:"source_epoch,omitempty"`
	Instances   map[int]instanceSnapshot `json:"instances,omitempty"`
}

func (s *SessionStore) pathFor(sessionID string) string {
	return filepath.Join(s.dir, "acss_session_"+sessionID+".dat")
}

func writeSession(path string, st sessionState) error {
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	var hdr [4 + 2 + 2 + 4 + 4]byte
	off := 0
	binary.BigEndian.PutUint32(hdr[off:], magicSession)
	off += 4
	binary.BigEndian.PutUint16(hdr[off:], versionSession)
	off += 2
	binary.BigEndian.PutUint16(hdr[off:], 0)
	off += 2
	binary.BigEndian.PutUint32(hdr[off:], uint32(len(body)))
	off += 4
	binary.BigEndian.PutUint32(hdr[off:], crc32.ChecksumIEEE(body))

	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// keep previous as .bak if present
	if _, statErr := os.Stat(path); statErr == nil {
		_ = os.Rename(path, path+".bak")
	}
	return os.Rename(tmp, path)
}

func readSession(path string) (sessionState, error) {
	f, err := os.Open(path)
	if err != nil {
		return sessionState{}, err
	}
	defer f.Close()
	var hdr [4 + 2 + 2 + 4 + 4]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return sessionState{}, err
	}
	off := 0
	if binary.BigEndian.Uint32(hdr[off:]) != magicSession {
		return sessionState{}, errors.New("bad magic")
	}
	off += 4
	_ = binary.BigEndian.Uint16(hdr[off:])
	off += 2
	off += 2
	l := binary.BigEndian.Uint32(hdr[off:])
	off += 4
	want := binary.BigEndian.Uint32(hdr[off:])
	body := make([]byte, int(l))
	if _, err := io.ReadFull(f, body); err != nil {
		return sessionState{}, err
	}
	if crc32.ChecksumIEEE(body) != want {
		return sessionState{}, errors.New("crc mismatch")
	}
	var st sessionState
	if err := json.Unmarshal(body, &st); err != nil {
		return sessionState{}, err
	}
	return st, nil
}

func (s *SessionStore) Save(sessionID string, st sessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeSession(s.pathFor(sessionID), st)
}

func (s *SessionStore) Load(sessionID string) (sessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pathFor(sessionID)
	if st, err := readSession(p); err == nil {
		return st, nil
	}
	if st, err := readSession(p + ".bak"); err == nil {
		return st, nil
	}
	return sessionState{}, ErrSessionNotFound
}

// Delete removes a completed session file and its backup.
func (s *SessionStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pathFor(sessionID)
	err1 := os.Remove(p)
	err2 := os.Remove(p + ".bak")
	if err1 != nil && !os.IsNotExist(err1) {
		return err1
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return err2
	}
	return nil
}
