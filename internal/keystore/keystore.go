package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

var (
	// ErrDecryption indicates the symmetric key does not match the stored blob.
	// The engine treats this as fatal: every future signing attempt would fail
	// the same way.
	ErrDecryption = errors.New("keystore: decryption failed")

	// ErrInvalidKeyLength indicates the symmetric key is not 32 bytes (AES-256).
	ErrInvalidKeyLength = errors.New("keystore: symmetric key must be exactly 32 bytes")

	// ErrNotInitialised indicates no encrypted identity exists at the configured path.
	ErrNotInitialised = errors.New("keystore: signing identity not initialised")
)

// Store owns the account's signing identity: the account address and the
// private key encrypted at rest under a locally held symmetric key.
type Store struct {
	path   string
	logger zerolog.Logger
}

// New constructs a Store over the encrypted blob at path.
func New(path string, logger zerolog.Logger) *Store {
	return &Store{path: path, logger: logger.With().Str("component", "keystore").Logger()}
}

type identityFile struct {
	Address   string
	Encrypted string
}

// Address returns the stored account address without decrypting anything.
func (s *Store) Address() (common.Address, error) {
	blob, err := s.readBlob()
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(blob.Address) {
		return common.Address{}, fmt.Errorf("keystore: invalid stored address %q", blob.Address)
	}
	return common.HexToAddress(blob.Address), nil
}

// WithSigningKey decrypts the private key and passes it to fn. The decrypted
// key is scoped to the call and zeroised on every exit path, including when
// fn returns an error.
func (s *Store) WithSigningKey(symmetricKey []byte, fn func(key *ecdsa.PrivateKey) error) error {
	if len(symmetricKey) != 32 {
		return ErrInvalidKeyLength
	}

	blob, err := s.readBlob()
	if err != nil {
		return err
	}

	keyHex, err := decrypt(blob.Encrypted, symmetricKey)
	if err != nil {
		return err
	}

	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return fmt.Errorf("%w: stored key is not a valid secp256k1 key", ErrDecryption)
	}
	defer zeroKey(priv)

	return fn(priv)
}

// Init generates a fresh identity, encrypts it under symmetricKey, and writes
// the blob. It refuses to overwrite an existing identity.
func (s *Store) Init(symmetricKey []byte) (common.Address, error) {
	if len(symmetricKey) != 32 {
		return common.Address{}, ErrInvalidKeyLength
	}
	if _, err := os.Stat(s.path); err == nil {
		return common.Address{}, fmt.Errorf("keystore: %s already exists", s.path)
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("keystore: generate key: %w", err)
	}
	defer zeroKey(priv)

	addr := crypto.PubkeyToAddress(priv.PublicKey)
	keyHex := fmt.Sprintf("%x", crypto.FromECDSA(priv))

	encrypted, err := encrypt(keyHex, symmetricKey)
	if err != nil {
		return common.Address{}, err
	}

	payload := addr.Hex() + "\n" + encrypted + "\n"
	if err := os.WriteFile(s.path, []byte(payload), 0o600); err != nil {
		return common.Address{}, fmt.Errorf("keystore: write %s: %w", s.path, err)
	}

	s.logger.Info().Str("address", addr.Hex()).Str("path", s.path).Msg("signing identity created")
	return addr, nil
}

// GenerateSymmetricKey produces a random 32-byte key for AES-256-GCM.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Store) readBlob() (identityFile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return identityFile{}, ErrNotInitialised
		}
		return identityFile{}, fmt.Errorf("keystore: read %s: %w", s.path, err)
	}

	var blob identityFile
	if _, err := fmt.Sscanf(string(raw), "%s\n%s", &blob.Address, &blob.Encrypted); err != nil {
		return identityFile{}, fmt.Errorf("keystore: malformed identity file %s", s.path)
	}
	return blob, nil
}

func encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// GCM appends the authentication tag; nonce is prefixed for Open.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(ciphertextBase64 string, key []byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid blob encoding", ErrDecryption)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: blob too short", ErrDecryption)
	}

	nonce, data := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication error", ErrDecryption)
	}
	return string(plaintext), nil
}

func zeroKey(priv *ecdsa.PrivateKey) {
	if priv == nil || priv.D == nil {
		return
	}
	b := priv.D.Bits()
	for i := range b {
		b[i] = 0
	}
}
