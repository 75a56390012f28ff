package crypto

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func TestVault_RoundTrip(t *testing.T) {
	v, err := NewVault(map[int][]byte{1: key(1)})
	require.NoError(t, err)

	sealed, err := v.Encrypt("api-secret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "ENC[v1]:"))

	plain, err := v.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-secret", plain)
}

func TestVault_Rotation(t *testing.T) {
	old, err := NewVault(map[int][]byte{1: key(1)})
	require.NoError(t, err)
	sealedV1, err := old.Encrypt("legacy")
	require.NoError(t, err)

	rotated, err := NewVault(map[int][]byte{1: key(1), 2: key(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, rotated.CurrentVersion())

	plain, err := rotated.Decrypt(sealedV1)
	require.NoError(t, err)
	assert.Equal(t, "legacy", plain)

	sealedV2, err := rotated.Encrypt("fresh")
	require.NoError(t, err)
	_, err = old.Decrypt(sealedV2)
	assert.ErrorIs(t, err, ErrUnknownKeyVersion)
}

func TestVault_Errors(t *testing.T) {
	_, err := NewVault(map[int][]byte{1: []byte("short")})
	assert.ErrorIs(t, err, ErrInvalidKey)

	v, err := NewVaultFromBase64(base64.StdEncoding.EncodeToString(key(7)))
	require.NoError(t, err)

	_, err = v.Decrypt("plaintext")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	other, err := NewVault(map[int][]byte{1: key(8)})
	require.NoError(t, err)
	sealed, err := other.Encrypt("x")
	require.NoError(t, err)
	_, err = v.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
