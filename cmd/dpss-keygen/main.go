package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/threshnet/dpss/internal/pss/committee"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/hegamal"
)

// nodeSecrets is a member's private bootstrap material: the signing key for
// wire messages and the decryption scalar its shares are sealed to.
type nodeSecrets struct {
	Index   int    `json:"index"`
	SigPriv []byte `json:"sig_priv"`
	EncPriv []byte `json:"enc_priv"`
}

func main() {
	var (
		n     int
		t     int
		d     int
		epoch uint64
		out   string
	)
	flag.IntVar(&n, "n", 4, "Committee size")
	flag.IntVar(&t, "t", 1, "Fault threshold (requires n >= 3t+1)")
	flag.IntVar(&d, "d", 0, "Privacy threshold (default t, allowed up to n-t-1)")
	flag.Uint64Var(&epoch, "epoch", 1, "Committee epoch")
	flag.StringVar(&out, "out", "dpss-keys", "Output directory")
	flag.Parse()

	if d == 0 {
		d = t
	}
	c := committee.Committee{Epoch: epoch, N: n, T: t, D: d}
	secrets := make([]nodeSecrets, 0, n)
	for i := 1; i <= n; i++ {
		sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fatal(err.Error())
		}
		kp, err := hegamal.GenerateKeyPair()
		if err != nil {
			fatal(err.Error())
		}
		c.Members = append(c.Members, committee.Member{
			Index:  i,
			SigPub: sigPub,
			EncPub: core.PointToBytes(kp.PK),
		})
		secrets = append(secrets, nodeSecrets{
			Index:   i,
			SigPriv: sigPriv,
			EncPriv: core.ScalarToBytes(kp.SK),
		})
	}
	if err := c.Validate(); err != nil {
		fatal(err.Error())
	}

	if err := os.MkdirAll(out, 0o700); err != nil {
		fatal(err.Error())
	}
	if err := writeJSON(filepath.Join(out, "committee.json"), c); err != nil {
		fatal(err.Error())
	}
	for _, s := range secrets {
		path := filepath.Join(out, fmt.Sprintf("node-%d.json", s.Index))
		if err := writeJSON(path, s); err != nil {
			fatal(err.Error())
		}
	}
	fmt.Printf("wrote committee.json and %d node configs to %s\n", n, out)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
