package keystore

import (
	"crypto/ecdsa"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func tempStore(t *testing.T) (*Store, []byte) {
	t.Helper()
	key, err := GenerateSymmetricKey()
	if err != nil {
		t.Fatalf("generate symmetric key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.key")
	return New(path, noopLogger()), key
}

func TestInitAndAddress(t *testing.T) {
	store, key := tempStore(t)

	addr, err := store.Init(key)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	got, err := store.Address()
	if err != nil {
		t.Fatalf("address lookup failed: %v", err)
	}
	if got != addr {
		t.Fatalf("stored address %s does not match created %s", got, addr)
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	store, key := tempStore(t)

	if _, err := store.Init(key); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if _, err := store.Init(key); err == nil {
		t.Fatal("second init must refuse to overwrite the identity")
	}
}

func TestWithSigningKeyRoundtrip(t *testing.T) {
	store, key := tempStore(t)

	addr, err := store.Init(key)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	var derived common.Address
	err = store.WithSigningKey(key, func(priv *ecdsa.PrivateKey) error {
		derived = crypto.PubkeyToAddress(priv.PublicKey)
		return nil
	})
	if err != nil {
		t.Fatalf("signing scope failed: %v", err)
	}
	if derived != addr {
		t.Fatalf("decrypted key derives %s, stored address is %s", derived, addr)
	}
}

func TestWithSigningKeyWrongKey(t *testing.T) {
	store, key := tempStore(t)

	if _, err := store.Init(key); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	wrong, err := GenerateSymmetricKey()
	if err != nil {
		t.Fatalf("generate wrong key: %v", err)
	}

	err = store.WithSigningKey(wrong, func(priv *ecdsa.PrivateKey) error {
		t.Fatal("callback must not run when decryption fails")
		return nil
	})
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected decryption error, got %v", err)
	}
}

func TestWithSigningKeyZeroisesAfterScope(t *testing.T) {
	store, key := tempStore(t)

	if _, err := store.Init(key); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	var leaked *ecdsa.PrivateKey
	err := store.WithSigningKey(key, func(priv *ecdsa.PrivateKey) error {
		leaked = priv
		return nil
	})
	if err != nil {
		t.Fatalf("signing scope failed: %v", err)
	}

	for _, word := range leaked.D.Bits() {
		if word != 0 {
			t.Fatal("private scalar must be zeroised once the scope returns")
		}
	}
}

func TestInvalidKeyLength(t *testing.T) {
	store, _ := tempStore(t)

	if _, err := store.Init(make([]byte, 16)); !errors.Is(err, ErrInvalidKeyLength) {
		t.Fatalf("expected invalid key length, got %v", err)
	}
	if err := store.WithSigningKey(make([]byte, 16), func(*ecdsa.PrivateKey) error { return nil }); !errors.Is(err, ErrInvalidKeyLength) {
		t.Fatalf("expected invalid key length, got %v", err)
	}
}

func TestNotInitialised(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "missing.key"), noopLogger())

	if _, err := store.Address(); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected not-initialised error, got %v", err)
	}

	key, _ := GenerateSymmetricKey()
	if err := store.WithSigningKey(key, func(*ecdsa.PrivateKey) error { return nil }); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected not-initialised error, got %v", err)
	}
}

func TestIdentityFilePermissions(t *testing.T) {
	store, key := tempStore(t)

	if _, err := store.Init(key); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	info, err := os.Stat(store.path)
	if err != nil {
		t.Fatalf("stat identity file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("identity file permissions %o, want 600", perm)
	}
}
