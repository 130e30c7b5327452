package vaultservice

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
)

const (
	// RecoveryCodeGroups x RecoveryCodeGroupLen base32 characters,
	// hyphen-separated: "F7Q2M-9KX4A".
	RecoveryCodeGroups   = 2
	RecoveryCodeGroupLen = 5

	codeSaltLen = 16

	// Crockford-style alphabet without the lookalikes 0/O/1/I/L/U.
	codeAlphabet = "23456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// GenerateRecoveryCode returns one random human-readable code.
func GenerateRecoveryCode() (string, error) {
	total := RecoveryCodeGroups * RecoveryCodeGroupLen
	raw := make([]byte, total)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate recovery code: %w", err)
	}

	var b strings.Builder
	for i := 0; i < total; i++ {
		if i > 0 && i%RecoveryCodeGroupLen == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(codeAlphabet[int(raw[i])%len(codeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeRecoveryCode uppercases and strips separators so "f7q2m 9kx4a"
// and "F7Q2M-9KX4A" redeem the same code.
func NormalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

func newCodeSalt() ([]byte, error) {
	salt := make([]byte, codeSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate code salt: %w", err)
	}
	return salt, nil
}

// hashRecoveryCode is the salted lookup hash stored in place of the
// plaintext. Distinct from the Argon2id derivation that wraps the DEK; this
// only has to support constant-time matching.
func hashRecoveryCode(salt []byte, normalizedCode string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(normalizedCode))
	return h.Sum(nil)
}

func codeHashEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
