package acss

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/pkg/logger"
	"github.com/threshnet/dpss/pkg/metrics"
)

// ShareRecord is the on-disk form of a finalized epoch share: the combined
// share scalar plus the public commitment needed to verify it later.
type ShareRecord struct {
	Epoch  uint64 `json:"epoch"`
	Index  int    `json:"index"`
	Scheme string `json:"scheme"`

	// Value is the 32-byte share scalar; Blind its Pedersen blinding when
	// the scheme carries one.
	Value []byte `json:"value"`
	Blind []byte `json:"blind,omitempty"`

	// Row holds the bivariate row coefficients for high-threshold shares.
	Row [][]byte `json:"row,omitempty"`

	Commitment *commit.Commitment `json:"commitment,omitempty"`
}

// KeyStore persists epoch shares under a directory, one file per epoch,
// using atomic writes (tmp+fsync+rename) with a .bak fallback. Encryption
// with AES-256-GCM is optional and off by default; zeroize requests a
// best-effort wipe of plaintext buffers after use.
type KeyStore struct {
	mu      sync.Mutex
	dir     string
	aead    cipher.AEAD
	encrypt bool
	zeroize bool
}

func NewKeyStore(dir string) *KeyStore { return &KeyStore{dir: dir} }

// NewKeyStoreEncrypted enables encryption with the given 32-byte key. An
// ill-sized key falls back to plaintext storage.
func NewKeyStoreEncrypted(dir string, key []byte, zeroize bool) *KeyStore {
	ks := &KeyStore{dir: dir}
	if len(key) != 32 {
		return ks
	}
	if a, err := newAESGCM(key); err == nil {
		ks.aead = a
		ks.encrypt = true
		ks.zeroize = zeroize
	}
	zero(key)
	return ks
}

// NewKeyStoreFromEnv builds a KeyStore configured from the environment.
// DPSS_KEYSTORE_ENCRYPT=1 enables encryption; the key comes from
// DPSS_KEYSTORE_KEY (64 hex chars) or DPSS_KEYSTORE_KEY_FILE (raw 32
// bytes); DPSS_ZEROIZE=1 wipes plaintext buffers after use.
func NewKeyStoreFromEnv(dir string) *KeyStore {
	if os.Getenv("DPSS_KEYSTORE_ENCRYPT") == "1" {
		var key []byte
		if hexStr := os.Getenv("DPSS_KEYSTORE_KEY"); hexStr != "" {
			if b, err := hex.DecodeString(hexStr); err == nil {
				key = b
			}
		} else if f := os.Getenv("DPSS_KEYSTORE_KEY_FILE"); f != "" {
			if b, err := os.ReadFile(f); err == nil {
				key = b
			}
		}
		zeroize := os.Getenv("DPSS_ZEROIZE") == "1"
		return NewKeyStoreEncrypted(dir, key, zeroize)
	}
	return NewKeyStore(dir)
}

const (
	magicShare  uint32 = 0x44505353 // 'DPSS'
	versionV1   uint16 = 1
	flagEncrypt uint16 = 1 << 0
)

// Disk layout:
// [magic u32][version u16][flags u16][length u32][crc32 u32][payload ...]
// payload = JSON-encoded ShareRecord, or nonce(12B)||ciphertext when encrypted.

func (s *KeyStore) pathFor(epoch uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("share_epoch_%d.dat", epoch))
}

func (s *KeyStore) writeAtomic(path string, rec ShareRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		_ = f.Close()
		return err
	}

	flags := uint16(0)
	body := payload
	if s.encrypt && s.aead != nil {
		nonce := make([]byte, 12)
		if _, err := rand.Read(nonce); err != nil {
			_ = f.Close()
			zero(payload)
			return err
		}
		sealed := s.aead.Seal(nil, nonce, payload, nil)
		body = make([]byte, 0, len(nonce)+len(sealed))
		body = append(body, nonce...)
		body = append(body, sealed...)
		flags |= flagEncrypt
		if s.zeroize {
			zero(payload)
		}
	}

	var hdr [4 + 2 + 2 + 4 + 4]byte
	off := 0
	binary.BigEndian.PutUint32(hdr[off:], magicShare)
	off += 4
	binary.BigEndian.PutUint16(hdr[off:], versionV1)
	off += 2
	binary.BigEndian.PutUint16(hdr[off:], flags)
	off += 2
	binary.BigEndian.PutUint32(hdr[off:], uint32(len(body)))
	off += 4
	binary.BigEndian.PutUint32(hdr[off:], crc32.ChecksumIEEE(body))

	if _, err = f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err = f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if d, err2 := os.Open(dir); err2 == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".bak")
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	if d, err2 := os.Open(dir); err2 == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (s *KeyStore) readFile(path string) (ShareRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return ShareRecord{}, err
	}
	defer f.Close()
	var hdr [4 + 2 + 2 + 4 + 4]byte
	if _, err = io.ReadFull(f, hdr[:]); err != nil {
		return ShareRecord{}, err
	}
	off := 0
	if binary.BigEndian.Uint32(hdr[off:]) != magicShare {
		return ShareRecord{}, errors.New("bad magic")
	}
	off += 4
	_ = binary.BigEndian.Uint16(hdr[off:]) // version
	off += 2
	flags := binary.BigEndian.Uint16(hdr[off:])
	off += 2
	length := binary.BigEndian.Uint32(hdr[off:])
	off += 4
	want := binary.BigEndian.Uint32(hdr[off:])
	if length == 0 {
		return ShareRecord{}, errors.New("bad length")
	}
	body := make([]byte, int(length))
	if _, err = io.ReadFull(f, body); err != nil {
		return ShareRecord{}, err
	}
	if got := crc32.ChecksumIEEE(body); got != want {
		return ShareRecord{}, errors.New("crc mismatch")
	}

	var plain []byte
	if (flags & flagEncrypt) != 0 {
		if s.aead == nil {
			return ShareRecord{}, errors.New("encrypted but no key")
		}
		if len(body) < 12 {
			return ShareRecord{}, errors.New("bad nonce")
		}
		p, err := s.aead.Open(nil, body[:12], body[12:], nil)
		if err != nil {
			return ShareRecord{}, err
		}
		plain = p
	} else {
		plain = body
	}

	var rec ShareRecord
	err = json.Unmarshal(plain, &rec)
	if s.zeroize && len(plain) > 0 {
		zero(plain)
	}
	if err != nil {
		return ShareRecord{}, err
	}
	return rec, nil
}

// SaveShare persists one epoch's share record.
func (s *KeyStore) SaveShare(_ context.Context, rec ShareRecord) error {
	begin := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeAtomic(s.pathFor(rec.Epoch), rec); err != nil {
		metrics.Inc("pss_persist_errors_total", nil)
		logger.ErrorJ("pss_storage", map[string]any{"op": "persist", "epoch": rec.Epoch, "result": "error", "err": err.Error()})
		return err
	}
	ms := float64(time.Since(begin).Milliseconds())
	metrics.ObserveSummary("pss_persist_ms", nil, ms)
	logger.InfoJ("pss_storage", map[string]any{"op": "persist", "epoch": rec.Epoch, "result": "ok", "latency_ms": ms})
	return nil
}

// LoadShare reads one epoch's record, falling back to .bak when the primary
// file is corrupted.
func (s *KeyStore) LoadShare(_ context.Context, epoch uint64) (ShareRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pathFor(epoch)
	if rec, err := s.readFile(p); err == nil {
		metrics.Inc("pss_recovery_total", map[string]string{"result": "ok"})
		return rec, nil
	}
	if rec, err := s.readFile(p + ".bak"); err == nil {
		metrics.Inc("pss_recovery_total", map[string]string{"result": "fallback"})
		logger.InfoJ("pss_storage", map[string]any{"op": "recovery", "epoch": epoch, "result": "fallback"})
		return rec, nil
	}
	metrics.Inc("pss_recovery_total", map[string]string{"result": "fail"})
	return ShareRecord{}, ErrNotFound
}

// DeleteShare removes an epoch's record and its backup. Resharing calls it
// once the successor epoch is durable; an old share plus a new share from an
// overlapping committee must never coexist on disk.
func (s *KeyStore) DeleteShare(_ context.Context, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pathFor(epoch)
	err1 := os.Remove(p)
	err2 := os.Remove(p + ".bak")
	if err1 != nil && !os.IsNotExist(err1) {
		return err1
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return err2
	}
	logger.InfoJ("pss_storage", map[string]any{"op": "delete", "epoch": epoch, "result": "ok"})
	return nil
}

func (s *KeyStore) Close() error { return nil }

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// zero wipes a buffer (best effort, not guaranteed against copies).
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
