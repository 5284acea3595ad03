package ethereum

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// rlpEncodeBytes encodes one byte string.
func rlpEncodeBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	return append(rlpLength(len(b), 0x80), b...)
}

// rlpEncodeList encodes a list of already-encoded items.
func rlpEncodeList(items ...[]byte) []byte {
	var payload []byte
	for _, item := range items {
		payload = append(payload, item...)
	}
	return append(rlpLength(len(payload), 0xc0), payload...)
}

func rlpLength(n int, offset byte) []byte {
	if n < 56 {
		return []byte{offset + byte(n)}
	}
	size := big.NewInt(int64(n)).Bytes()
	return append([]byte{offset + 55 + byte(len(size))}, size...)
}

// rlpBig encodes a big integer as a minimal byte string.
func rlpBig(n *big.Int) []byte {
	if n == nil || n.Sign() == 0 {
		return rlpEncodeBytes(nil)
	}
	return rlpEncodeBytes(n.Bytes())
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// LegacyTx is a pre-typed Ethereum transaction signed under EIP-155.
type LegacyTx struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       string
	Value    *big.Int
	Data     []byte
}

// Sign produces the raw hex transaction and its hash.
func (tx *LegacyTx) Sign(privateKey []byte, chainID *big.Int) (rawHex string, txHash string, err error) {
	to, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(tx.To), "0x"))
	if err != nil || len(to) != 20 {
		return "", "", fmt.Errorf("invalid destination address %q", tx.To)
	}

	unsigned := rlpEncodeList(
		rlpBig(new(big.Int).SetUint64(tx.Nonce)),
		rlpBig(tx.GasPrice),
		rlpBig(new(big.Int).SetUint64(tx.Gas)),
		rlpEncodeBytes(to),
		rlpBig(tx.Value),
		rlpEncodeBytes(tx.Data),
		rlpBig(chainID),
		rlpBig(nil),
		rlpBig(nil),
	)

	key := secp256k1.PrivKeyFromBytes(privateKey)
	compact := secpecdsa.SignCompact(key, keccak256(unsigned), false)

	// SignCompact returns [recovery+27, r, s]; EIP-155 wants
	// v = recovery + 35 + 2*chainID.
	recovery := int64(compact[0]) - 27
	r := new(big.Int).SetBytes(compact[1:33])
	s := new(big.Int).SetBytes(compact[33:65])
	v := new(big.Int).Add(
		big.NewInt(recovery+35),
		new(big.Int).Mul(chainID, big.NewInt(2)),
	)

	signed := rlpEncodeList(
		rlpBig(new(big.Int).SetUint64(tx.Nonce)),
		rlpBig(tx.GasPrice),
		rlpBig(new(big.Int).SetUint64(tx.Gas)),
		rlpEncodeBytes(to),
		rlpBig(tx.Value),
		rlpEncodeBytes(tx.Data),
		rlpBig(v),
		rlpBig(r),
		rlpBig(s),
	)

	return "0x" + hex.EncodeToString(signed), "0x" + hex.EncodeToString(keccak256(signed)), nil
}

// AddressFromPrivateKey derives the 0x address of a secp256k1 key.
func AddressFromPrivateKey(privateKey []byte) string {
	key := secp256k1.PrivKeyFromBytes(privateKey)
	pub := key.PubKey().SerializeUncompressed()
	// Drop the 0x04 prefix, keccak the 64-byte point, keep the last 20 bytes.
	return "0x" + hex.EncodeToString(keccak256(pub[1:])[12:])
}

// ERC20TransferData builds the calldata for transfer(to, amount).
func ERC20TransferData(to string, amount *big.Int) []byte {
	data, _ := hex.DecodeString("a9059cbb")
	data = append(data, make([]byte, 12)...)
	toBytes, _ := hex.DecodeString(strings.TrimPrefix(strings.ToLower(to), "0x"))
	data = append(data, toBytes...)

	amountWord := make([]byte, 32)
	amount.FillBytes(amountWord)
	return append(data, amountWord...)
}
