package acss

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/poly"
)

func testRecord(t *testing.T, epoch uint64) ShareRecord {
	t.Helper()
	p, err := poly.NewRandom(2, scalar(42))
	if err != nil {
		t.Fatalf("poly: %v", err)
	}
	c, _, err := commit.Commit(commit.SchemeFeldman, p)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return ShareRecord{
		Epoch:      epoch,
		Index:      2,
		Scheme:     commit.SchemeFeldman,
		Value:      make([]byte, 32),
		Commitment: c,
	}
}

func TestKeyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	ks := NewKeyStore(t.TempDir())

	rec := testRecord(t, 1)
	if err := ks.SaveShare(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := ks.LoadShare(ctx, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Epoch != 1 || got.Index != 2 || !got.Commitment.Equal(rec.Commitment) {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := ks.LoadShare(ctx, 9); err != ErrNotFound {
		t.Fatalf("missing epoch: got %v, want ErrNotFound", err)
	}
}

func TestKeyStoreBakFallback(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ks := NewKeyStore(dir)

	if err := ks.SaveShare(ctx, testRecord(t, 3)); err != nil {
		t.Fatalf("save1: %v", err)
	}
	if err := ks.SaveShare(ctx, testRecord(t, 3)); err != nil {
		t.Fatalf("save2: %v", err)
	}
	// Corrupt the primary; the .bak from the second save's rename chain must
	// still load.
	path := filepath.Join(dir, "share_epoch_3.dat")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := ks.LoadShare(ctx, 3); err != nil {
		t.Fatalf("fallback load: %v", err)
	}
}

func TestKeyStoreDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ks := NewKeyStore(dir)

	if err := ks.SaveShare(ctx, testRecord(t, 5)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := ks.SaveShare(ctx, testRecord(t, 5)); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if err := ks.DeleteShare(ctx, 5); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ks.LoadShare(ctx, 5); err != ErrNotFound {
		t.Fatalf("deleted epoch must not load, got %v", err)
	}
	// Deleting again is a no-op.
	if err := ks.DeleteShare(ctx, 5); err != nil {
		t.Fatalf("re-delete: %v", err)
	}
}

func TestKeyStoreEncryptedFromEnv(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("DPSS_KEYSTORE_ENCRYPT", "1")
	t.Setenv("DPSS_KEYSTORE_KEY", hex.EncodeToString(key))

	ks := NewKeyStoreFromEnv(dir)
	rec := testRecord(t, 7)
	if err := ks.SaveShare(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Same key decrypts.
	ks2 := NewKeyStoreFromEnv(dir)
	got, err := ks2.LoadShare(ctx, 7)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Index != rec.Index {
		t.Fatalf("record mismatch")
	}

	// Without the key the file must be unreadable.
	t.Setenv("DPSS_KEYSTORE_ENCRYPT", "")
	t.Setenv("DPSS_KEYSTORE_KEY", "")
	ks3 := NewKeyStore(dir)
	if _, err := ks3.LoadShare(ctx, 7); err == nil {
		t.Fatalf("encrypted record must not load without key")
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir)

	st := sessionState{
		Epoch: 2,
		Instances: map[int]instanceSnapshot{
			1: {State: string(StateValid), Voted: true, Vote: "ok"},
		},
	}
	if err := s.Save("sess", st); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load("sess")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Epoch != 2 || got.Instances[1].State != string(StateValid) {
		t.Fatalf("unexpected state: %+v", got)
	}

	if _, err := s.Load("other"); err != ErrSessionNotFound {
		t.Fatalf("missing session: got %v", err)
	}
	if err := s.Delete("sess"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load("sess"); err != ErrSessionNotFound {
		t.Fatalf("deleted session must not load")
	}
}
