package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"smart-harvester/internal/keystore"
)

// InitKey bootstraps the signing identity: generates an account key, encrypts
// it at rest, and optionally requests faucet funding for the new address.
func (a *App) InitKey(ctx context.Context, opts InitKeyOptions) error {
	var symmetricKey []byte
	var err error

	if opts.GenerateKey {
		symmetricKey, err = generateAndPrintKey()
	} else {
		symmetricKey, err = a.loadSymmetricKey()
	}
	if err != nil {
		return err
	}

	store := a.newKeystore()
	addr, err := store.Init(symmetricKey)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "signing identity created\naddress: %s\nkeystore: %s\n",
		addr.Hex(), a.Config.Keystore.Path)

	if opts.Fund {
		if a.Config.Chain.FaucetURL == "" {
			return errors.New("chain.faucet_url not configured; cannot request funding")
		}
		if err := requestFaucet(ctx, a.Config.Chain.FaucetURL, addr.Hex()); err != nil {
			return fmt.Errorf("faucet request failed: %w", err)
		}
		fmt.Fprintln(os.Stdout, "faucet funding requested")
	}

	return nil
}

// generateAndPrintKey emits the fresh symmetric key on stdout exactly once.
// The operator must store it; it is never written to disk or logs.
func generateAndPrintKey() ([]byte, error) {
	key, err := keystore.GenerateSymmetricKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stdout, "keystore key (base64, store it securely, it will not be shown again):\n%s\n",
		base64.StdEncoding.EncodeToString(key))
	return key, nil
}

func requestFaucet(ctx context.Context, faucetURL, address string) error {
	payload, err := json.Marshal(map[string]string{"address": address})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, faucetURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("faucet returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
