// Package keywrap implements the wrapping-key derivation and DEK
// wrap/unwrap primitive for the vault.
//
// A wrapping key is derived from a secret (passphrase or recovery code) with
// Argon2id and used only to encrypt the vault's data encryption key (DEK)
// with AES-256-GCM. The DEK itself never touches durable storage in
// plaintext, and the same DEK may carry any number of independent wrappings.
package keywrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"vault-service/internal/domain"
)

// Argon2id defaults following OWASP recommendations. Persisted per blob via
// domain.KDFParams so changing these never strands an old wrapping.
const (
	Argon2Time    = 3
	Argon2Memory  = 64 * 1024 // KiB
	Argon2Threads = 4

	KeyLen   = 32
	SaltLen  = 16
	NonceLen = 12

	DEKLen = 32
)

// ErrInvalidKey is returned for every unwrap failure: wrong secret, corrupt
// blob, truncated blob. One sentinel, so callers cannot build an oracle out
// of the failure shape.
var ErrInvalidKey = errors.New("keywrap: invalid key")

var (
	costTime    uint32 = Argon2Time
	costMemory  uint32 = Argon2Memory
	costThreads uint8  = Argon2Threads
)

// SetCost overrides the Argon2id cost used for new wrappings. Existing blobs
// keep the params they were written with, so lowering cost never strands old
// data.
func SetCost(time, memoryKiB uint32, threads uint8) {
	if time > 0 {
		costTime = time
	}
	if memoryKiB > 0 {
		costMemory = memoryKiB
	}
	if threads > 0 {
		costThreads = threads
	}
}

// NewParams returns fresh Argon2id parameters with a random salt.
func NewParams() (*domain.KDFParams, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keywrap: generate salt: %w", err)
	}
	return &domain.KDFParams{
		Algorithm: "argon2id",
		Salt:      salt,
		Time:      costTime,
		MemoryKiB: costMemory,
		Threads:   costThreads,
		KeyLen:    KeyLen,
	}, nil
}

// NewDEK generates a random 256-bit data encryption key.
func NewDEK() ([]byte, error) {
	dek := make([]byte, DEKLen)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("keywrap: generate dek: %w", err)
	}
	return dek, nil
}

// DeriveWrappingKey stretches a secret into a 32-byte wrapping key. This is
// deliberately slow (tens to hundreds of milliseconds); callers treat every
// operation that derives a key as blocking and rate-limit-worthy.
func DeriveWrappingKey(secret []byte, params *domain.KDFParams) ([]byte, error) {
	if params == nil || params.Algorithm != "argon2id" {
		return nil, fmt.Errorf("keywrap: unsupported kdf params")
	}
	if len(params.Salt) < SaltLen {
		return nil, fmt.Errorf("keywrap: salt too short")
	}
	key := argon2.IDKey(secret, params.Salt, params.Time, params.MemoryKiB, params.Threads, params.KeyLen)
	return key, nil
}

// Wrap encrypts the DEK under a wrapping key. The random GCM nonce is
// prefixed to the returned blob.
func Wrap(dek, wrappingKey []byte) ([]byte, error) {
	if len(wrappingKey) != KeyLen {
		return nil, fmt.Errorf("keywrap: wrapping key must be %d bytes", KeyLen)
	}
	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		return nil, fmt.Errorf("keywrap: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keywrap: new gcm: %w", err)
	}
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keywrap: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, dek, nil), nil
}

// Unwrap decrypts a wrapped DEK. Any failure, wrong key or corrupted blob,
// returns ErrInvalidKey with no further detail.
func Unwrap(blob, wrappingKey []byte) ([]byte, error) {
	if len(wrappingKey) != KeyLen {
		return nil, ErrInvalidKey
	}
	if len(blob) < NonceLen+1 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrInvalidKey
	}
	dek, err := gcm.Open(nil, blob[:NonceLen], blob[NonceLen:], nil)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return dek, nil
}

// Wipe zeroes sensitive byte slices once they leave scope.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
