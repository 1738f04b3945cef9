// Command dpss-recon reassembles a secret from share keystores. It is an
// operator tool for recovery drills and for consuming a sharing at the end of
// its life; normal protocol operation never needs the secret in one place.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/threshnet/dpss/internal/pss/acss"
	"github.com/threshnet/dpss/internal/pss/commit"
	"github.com/threshnet/dpss/internal/pss/committee"
	"github.com/threshnet/dpss/internal/pss/core"
	"github.com/threshnet/dpss/internal/pss/recon"
	"github.com/threshnet/dpss/pkg/logger"
)

func main() {
	var (
		committeePath string
		epoch         uint64
		stores        string
	)
	flag.StringVar(&committeePath, "committee", "", "Path to the committee JSON")
	flag.Uint64Var(&epoch, "epoch", 0, "Epoch of the sharing to reconstruct")
	flag.StringVar(&stores, "stores", "", "Comma-separated keystore directories holding the shares")
	flag.Parse()

	if committeePath == "" || stores == "" {
		fatal("usage", fmt.Errorf("-committee and -stores are required"))
	}
	comm, err := committee.Load(committeePath)
	if err != nil {
		fatal("load committee", err)
	}
	if epoch == 0 {
		epoch = comm.Epoch
	}

	ctx := context.Background()
	var shares []recon.Share
	var c *commit.Commitment
	for _, dir := range strings.Split(stores, ",") {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		rec, err := acss.NewKeyStoreFromEnv(dir).LoadShare(ctx, epoch)
		if err != nil {
			logger.ErrorJ("recon_load", map[string]any{"dir": dir, "epoch": epoch, "err": err.Error()})
			continue
		}
		v, err := core.ScalarFromBytes(rec.Value)
		if err != nil {
			logger.ErrorJ("recon_load", map[string]any{"dir": dir, "err": err.Error()})
			continue
		}
		sh := recon.Share{Index: rec.Index, Value: v}
		if len(rec.Blind) > 0 {
			b, err := core.ScalarFromBytes(rec.Blind)
			if err != nil {
				logger.ErrorJ("recon_load", map[string]any{"dir": dir, "err": err.Error()})
				continue
			}
			sh.Blind = &b
		}
		shares = append(shares, sh)
		if c == nil && rec.Commitment != nil {
			c = rec.Commitment
		}
	}

	if c != nil {
		secret, rejected, err := recon.ReconstructVerified(shares, c, comm.D)
		if err != nil {
			fatal("reconstruct", err)
		}
		if len(rejected) > 0 {
			logger.ErrorJ("recon_rejected", map[string]any{"indices": rejected})
		}
		fmt.Println(hex.EncodeToString(core.ScalarToBytes(secret)))
		return
	}
	secret, err := recon.Reconstruct(shares, comm.D)
	if err != nil {
		fatal("reconstruct", err)
	}
	fmt.Println(hex.EncodeToString(core.ScalarToBytes(secret)))
}

func fatal(op string, err error) {
	logger.ErrorJ("recon_fatal", map[string]any{"op": op, "err": err.Error()})
	os.Exit(1)
}
