package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyVaultRoundTrip(t *testing.T) {
	vault, err := NewKeyVault("test-master-key")
	require.NoError(t, err)

	const secret = "9c3f1e5a7b2d4c6e8f0a1b3c5d7e9f0a"
	encrypted, err := vault.Encrypt(secret)
	require.NoError(t, err)
	assert.NotEqual(t, secret, encrypted)

	decrypted, err := vault.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, secret, decrypted)
}

func TestKeyVaultEncryptionIsSalted(t *testing.T) {
	vault, err := NewKeyVault("test-master-key")
	require.NoError(t, err)

	a, err := vault.Encrypt("same-plaintext")
	require.NoError(t, err)
	b, err := vault.Encrypt("same-plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestKeyVaultRejectsWrongMasterKey(t *testing.T) {
	vault, err := NewKeyVault("master-key-one")
	require.NoError(t, err)
	encrypted, err := vault.Encrypt("secret")
	require.NoError(t, err)

	other, err := NewKeyVault("master-key-two")
	require.NoError(t, err)
	_, err = other.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestKeyVaultRequiresMasterKey(t *testing.T) {
	_, err := NewKeyVault("")
	assert.Error(t, err)
}

func TestDecodeKeyMaterial(t *testing.T) {
	raw, err := DecodeKeyMaterial("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, raw)

	_, err = DecodeKeyMaterial("")
	assert.Error(t, err)

	_, err = DecodeKeyMaterial("not-hex")
	assert.Error(t, err)
}

func TestGenerateRandomString(t *testing.T) {
	s, err := GenerateRandomString(12)
	require.NoError(t, err)
	assert.Len(t, s, 24)

	s2, err := GenerateRandomString(12)
	require.NoError(t, err)
	assert.NotEqual(t, s, s2)
}
