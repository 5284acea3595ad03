package tron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidAddress(t *testing.T) {
	// The mainnet USDT contract address
	assert.True(t, ValidAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"))

	assert.False(t, ValidAddress(""))
	assert.False(t, ValidAddress("not-base58-0OIl"))
	// Valid base58 but one character flipped breaks the checksum
	assert.False(t, ValidAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u"))
	// Ethereum format is not a Tron address
	assert.False(t, ValidAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"))
}

func TestAddressHexRoundTrip(t *testing.T) {
	hexAddr, err := AddressToHex("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	require.NoError(t, err)
	assert.Equal(t, "41a614f803b6fd780986a42c78ec9c7f77e6ded13c", hexAddr)

	back, err := HexToAddress(hexAddr)
	require.NoError(t, err)
	assert.Equal(t, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", back)
}

func TestAddressToHexRejectsBadInput(t *testing.T) {
	_, err := AddressToHex("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u")
	assert.Error(t, err)

	_, err = HexToAddress("a614f803b6fd780986a42c78ec9c7f77e6ded13c")
	assert.Error(t, err)
}

func TestAddressFromPrivateKeyMatchesEthereumDerivation(t *testing.T) {
	// Tron addresses are the Ethereum account hash behind a 0x41 prefix,
	// so the generator-point key must map onto the known account bytes.
	key := make([]byte, 32)
	key[31] = 1

	address := AddressFromPrivateKey(key)
	assert.True(t, ValidAddress(address))

	hexAddr, err := AddressToHex(address)
	require.NoError(t, err)
	assert.Equal(t, "417e5f4552091a69125d5dfcb7b8c2659029395bdf", hexAddr)
}
