// Package crypto implements the key vault used to protect custodial
// wallet private keys at rest. Keys are stored AES-GCM encrypted and
// decrypted only at signing time.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const keyDerivationIterations = 600_000

// KeyVault encrypts and decrypts wallet signing keys with a master key
type KeyVault struct {
	masterKey string
}

// NewKeyVault creates a key vault from the configured master key
func NewKeyVault(masterKey string) (*KeyVault, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key must not be empty")
	}
	return &KeyVault{masterKey: masterKey}, nil
}

// Encrypt encrypts a signing key, returning salt+nonce+ciphertext as hex
func (v *KeyVault) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to create salt: %w", err)
	}

	gcm, err := v.newGCM(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to create nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(append(salt, ciphertext...)), nil
}

// Decrypt decrypts a hex-encoded encrypted signing key
func (v *KeyVault) Decrypt(encryptedHex string) (string, error) {
	data, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(data) < 16 {
		return "", fmt.Errorf("ciphertext too short")
	}

	salt, rest := data[:16], data[16:]
	gcm, err := v.newGCM(salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (v *KeyVault) newGCM(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(v.masterKey), salt, keyDerivationIterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}

// DecodeKeyMaterial converts a decrypted hex key string into raw signing
// bytes
func DecodeKeyMaterial(key string) ([]byte, error) {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("key material is not hex: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("key material is empty")
	}
	return raw, nil
}

// GenerateRandomString returns a hex string of the given byte length,
// used for order id suffixes
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random string: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
