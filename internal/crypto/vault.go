// Package crypto encrypts exchange credentials at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrUnknownKeyVersion = errors.New("ciphertext key version not loaded")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Vault seals secrets with AES-256-GCM into "ENC[vN]:base64(nonce|ciphertext)".
// Older key versions stay available for decryption after rotation.
type Vault struct {
	current int
	aeads   map[int]cipher.AEAD
}

// NewVault builds a vault from versioned raw keys. The highest version
// encrypts; every version decrypts.
func NewVault(keys map[int][]byte) (*Vault, error) {
	if len(keys) == 0 {
		return nil, ErrInvalidKey
	}
	v := &Vault{aeads: make(map[int]cipher.AEAD, len(keys))}
	for version, key := range keys {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key v%d: %w", version, ErrInvalidKey)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher v%d: %w", version, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("create GCM v%d: %w", version, err)
		}
		v.aeads[version] = gcm
		if version > v.current {
			v.current = version
		}
	}
	return v, nil
}

// NewVaultFromBase64 builds a single-version vault from a base64 key.
func NewVaultFromBase64(keyB64 string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return NewVault(map[int][]byte{1: key})
}

// Encrypt seals plaintext with the current key version.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	gcm := v.aeads[v.current]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:%s", v.current, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decrypt opens a value produced by Encrypt with any loaded key version.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	version, payload, err := parseEnvelope(ciphertext)
	if err != nil {
		return "", err
	}
	gcm, ok := v.aeads[version]
	if !ok {
		return "", fmt.Errorf("v%d: %w", version, ErrUnknownKeyVersion)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	plain, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// CurrentVersion returns the key version used for new ciphertexts.
func (v *Vault) CurrentVersion() int {
	return v.current
}

func parseEnvelope(s string) (int, string, error) {
	if !strings.HasPrefix(s, "ENC[v") {
		return 0, "", ErrInvalidCiphertext
	}
	end := strings.Index(s, "]:")
	if end == -1 {
		return 0, "", ErrInvalidCiphertext
	}
	var version int
	if _, err := fmt.Sscanf(s[:end+1], "ENC[v%d]", &version); err != nil {
		return 0, "", ErrInvalidCiphertext
	}
	return version, s[end+2:], nil
}
