package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required length of an encryption key in bytes.
const KeySize = 32

// Encryptor encrypts and decrypts small payloads before they leave the
// process, used for credentials stored in shared remote backends.
type Encryptor interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// SecretboxEncryptor implements Encryptor with NaCl secretbox
// (XSalsa20-Poly1305), a random nonce per message.
type SecretboxEncryptor struct {
	key [KeySize]byte
}

// NewSecretboxEncryptor creates an encryptor from a raw 32-byte key.
func NewSecretboxEncryptor(key []byte) (*SecretboxEncryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	e := &SecretboxEncryptor{}
	copy(e.key[:], key)
	return e, nil
}

// Encrypt seals plaintext and returns base64(nonce || box).
func (e *SecretboxEncryptor) Encrypt(plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &e.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or truncated input fails.
func (e *SecretboxEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < 24 {
		return nil, fmt.Errorf("ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &e.key)
	if !ok {
		return nil, fmt.Errorf("failed to decrypt: invalid key or corrupted data")
	}
	return plaintext, nil
}
