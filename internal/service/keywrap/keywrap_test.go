package keywrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests shrink the KDF cost so the suite stays fast; production params go
// through the same code path.

func TestWrapUnwrapRoundTrip(t *testing.T) {
	params, err := NewParams()
	require.NoError(t, err)
	params.Time = 1
	params.MemoryKiB = 8 * 1024

	dek, err := NewDEK()
	require.NoError(t, err)
	require.Len(t, dek, DEKLen)

	key, err := DeriveWrappingKey([]byte("correct horse battery staple"), params)
	require.NoError(t, err)

	blob, err := Wrap(dek, key)
	require.NoError(t, err)
	require.NotEqual(t, dek, blob)

	got, err := Unwrap(blob, key)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestUnwrapWrongKeyFails(t *testing.T) {
	params, err := NewParams()
	require.NoError(t, err)
	params.Time = 1
	params.MemoryKiB = 8 * 1024

	dek, err := NewDEK()
	require.NoError(t, err)

	rightKey, err := DeriveWrappingKey([]byte("right"), params)
	require.NoError(t, err)
	wrongKey, err := DeriveWrappingKey([]byte("wrong"), params)
	require.NoError(t, err)

	blob, err := Wrap(dek, rightKey)
	require.NoError(t, err)

	got, err := Unwrap(blob, wrongKey)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Nil(t, got)
}

func TestUnwrapCorruptBlobFails(t *testing.T) {
	params, err := NewParams()
	require.NoError(t, err)
	params.Time = 1
	params.MemoryKiB = 8 * 1024

	dek, err := NewDEK()
	require.NoError(t, err)
	key, err := DeriveWrappingKey([]byte("secret"), params)
	require.NoError(t, err)

	blob, err := Wrap(dek, key)
	require.NoError(t, err)

	// Flip one ciphertext bit: same sentinel as a wrong key.
	blob[len(blob)-1] ^= 0x01
	_, err = Unwrap(blob, key)
	assert.ErrorIs(t, err, ErrInvalidKey)

	// Truncated blob.
	_, err = Unwrap(blob[:NonceLen], key)
	assert.ErrorIs(t, err, ErrInvalidKey)

	// Empty blob.
	_, err = Unwrap(nil, key)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDeriveWrappingKeyDeterministic(t *testing.T) {
	params, err := NewParams()
	require.NoError(t, err)
	params.Time = 1
	params.MemoryKiB = 8 * 1024

	k1, err := DeriveWrappingKey([]byte("pw"), params)
	require.NoError(t, err)
	k2, err := DeriveWrappingKey([]byte("pw"), params)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	other, err := NewParams()
	require.NoError(t, err)
	other.Time = 1
	other.MemoryKiB = 8 * 1024
	k3, err := DeriveWrappingKey([]byte("pw"), other)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "different salts must yield different keys")
}

func TestDeriveWrappingKeyRejectsBadParams(t *testing.T) {
	_, err := DeriveWrappingKey([]byte("pw"), nil)
	assert.Error(t, err)

	params, err := NewParams()
	require.NoError(t, err)
	params.Algorithm = "pbkdf2"
	_, err = DeriveWrappingKey([]byte("pw"), params)
	assert.Error(t, err)

	params.Algorithm = "argon2id"
	params.Salt = []byte{1, 2, 3}
	_, err = DeriveWrappingKey([]byte("pw"), params)
	assert.Error(t, err)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)
}
