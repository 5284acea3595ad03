package ethereum

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeccak256KnownVectors(t *testing.T) {
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(keccak256(nil)),
	)
	assert.Equal(t,
		"4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45",
		hex.EncodeToString(keccak256([]byte("abc"))),
	)
}

func TestRLPEncoding(t *testing.T) {
	// Canonical examples from the RLP definition
	assert.Equal(t, []byte{0x83, 'd', 'o', 'g'}, rlpEncodeBytes([]byte("dog")))
	assert.Equal(t, []byte{0x80}, rlpEncodeBytes(nil))
	assert.Equal(t, []byte{0x0f}, rlpEncodeBytes([]byte{0x0f}))
	assert.Equal(t,
		[]byte{0xc8, 0x83, 'c', 'a', 't', 0x83, 'd', 'o', 'g'},
		rlpEncodeList(rlpEncodeBytes([]byte("cat")), rlpEncodeBytes([]byte("dog"))),
	)

	// Zero encodes as the empty string, not as 0x00
	assert.Equal(t, []byte{0x80}, rlpBig(big.NewInt(0)))
	assert.Equal(t, []byte{0x82, 0x04, 0x00}, rlpBig(big.NewInt(1024)))
}

func TestAddressFromPrivateKey(t *testing.T) {
	// The secp256k1 generator point's address is a fixed value
	key := make([]byte, 32)
	key[31] = 1
	assert.Equal(t, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", AddressFromPrivateKey(key))
}

func TestERC20TransferData(t *testing.T) {
	data := ERC20TransferData("0xdAC17F958D2ee523a2206206994597C13D831ec7", big.NewInt(1_000_000))
	encoded := hex.EncodeToString(data)

	assert.True(t, strings.HasPrefix(encoded, "a9059cbb"))
	assert.Len(t, data, 4+32+32)
	assert.Contains(t, encoded, "dac17f958d2ee523a2206206994597c13d831ec7")
	assert.True(t, strings.HasSuffix(encoded, "00000000000000000000000000000000000000000000000000000000000f4240"))
}

func TestLegacyTxSignProducesValidEnvelope(t *testing.T) {
	key := make([]byte, 32)
	key[31] = 1

	tx := &LegacyTx{
		Nonce:    9,
		GasPrice: big.NewInt(20_000_000_000),
		Gas:      21000,
		To:       "0x3535353535353535353535353535353535353535",
		Value:    big.NewInt(1_000_000_000_000_000_000),
	}

	rawHex, txHash, err := tx.Sign(key, big.NewInt(1))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rawHex, "0x"))
	assert.True(t, strings.HasPrefix(txHash, "0x"))
	assert.Len(t, txHash, 2+64)

	// EIP-155 on mainnet puts v at 37 or 38; both appear in the envelope tail
	raw, err := hex.DecodeString(strings.TrimPrefix(rawHex, "0x"))
	require.NoError(t, err)
	assert.Equal(t, byte(0xf8), raw[0])

	// Signing is deterministic (RFC 6979), so the same input gives the same hash
	rawHex2, txHash2, err := tx.Sign(key, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, rawHex, rawHex2)
	assert.Equal(t, txHash, txHash2)
}

func TestLegacyTxSignRejectsBadAddress(t *testing.T) {
	key := make([]byte, 32)
	key[31] = 1

	tx := &LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(1),
		Gas:      21000,
		To:       "not-an-address",
		Value:    big.NewInt(1),
	}
	_, _, err := tx.Sign(key, big.NewInt(1))
	assert.Error(t, err)
}
