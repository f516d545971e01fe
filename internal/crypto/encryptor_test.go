package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretboxEncryptorRoundtrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	enc, err := NewSecretboxEncryptor(key)
	require.NoError(t, err)

	plaintext := []byte(`{"token":"abc","user":{"id":"1"}}`)
	sealed, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "abc")

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSecretboxEncryptorUniqueNonce(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, KeySize)
	enc, err := NewSecretboxEncryptor(key)
	require.NoError(t, err)

	a, err := enc.Encrypt([]byte("same message"))
	require.NoError(t, err)
	b, err := enc.Encrypt([]byte("same message"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSecretboxEncryptorRejectsBadInput(t *testing.T) {
	key := bytes.Repeat([]byte{0x02}, KeySize)
	enc, err := NewSecretboxEncryptor(key)
	require.NoError(t, err)

	t.Run("wrong key size", func(t *testing.T) {
		_, err := NewSecretboxEncryptor([]byte("short"))
		assert.Error(t, err)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := enc.Decrypt("!!not-base64!!")
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := enc.Decrypt("AAAA")
		assert.Error(t, err)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		sealed, err := enc.Encrypt([]byte("payload"))
		require.NoError(t, err)
		tampered := []byte(sealed)
		tampered[len(tampered)-5] ^= 'x'
		_, err = enc.Decrypt(string(tampered))
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		sealed, err := enc.Encrypt([]byte("payload"))
		require.NoError(t, err)
		other, err := NewSecretboxEncryptor(bytes.Repeat([]byte{0x03}, KeySize))
		require.NoError(t, err)
		_, err = other.Decrypt(sealed)
		assert.Error(t, err)
	})
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken()
	require.NoError(t, err)
	b, err := GenerateSecureToken()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}
