package vaultservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRecoveryCodeFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateRecoveryCode()
		require.NoError(t, err)
		assert.Regexp(t, `^[2-9A-HJKMNP-TV-Z]{5}-[2-9A-HJKMNP-TV-Z]{5}$`, code)
		seen[code] = true
	}
	// 100 draws from a 30^10 space colliding would point at a broken RNG.
	assert.Len(t, seen, 100)
}

func TestNormalizeRecoveryCode(t *testing.T) {
	cases := map[string]string{
		"F7Q2M-9KX4A":   "F7Q2M9KX4A",
		"f7q2m-9kx4a":   "F7Q2M9KX4A",
		" f7q2m 9kx4a ": "F7Q2M9KX4A",
		"F7Q2M9KX4A":    "F7Q2M9KX4A",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRecoveryCode(in), "input %q", in)
	}
}

func TestHashRecoveryCode(t *testing.T) {
	salt, err := newCodeSalt()
	require.NoError(t, err)

	h1 := hashRecoveryCode(salt, "F7Q2M9KX4A")
	h2 := hashRecoveryCode(salt, "F7Q2M9KX4A")
	assert.True(t, codeHashEqual(h1, h2))

	h3 := hashRecoveryCode(salt, "F7Q2M9KX4B")
	assert.False(t, codeHashEqual(h1, h3))

	otherSalt, err := newCodeSalt()
	require.NoError(t, err)
	h4 := hashRecoveryCode(otherSalt, "F7Q2M9KX4A")
	assert.False(t, codeHashEqual(h1, h4), "same code under a different salt must not match")
}
