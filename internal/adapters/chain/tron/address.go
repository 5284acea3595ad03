package tron

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// addressPrefix is the mainnet byte that precedes the 20-byte account hash.
const addressPrefix = 0x41

// ValidAddress checks base58check format, mainnet prefix and checksum.
func ValidAddress(address string) bool {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 25 || raw[0] != addressPrefix {
		return false
	}
	return bytes.Equal(checksum(raw[:21]), raw[21:25])
}

// AddressToHex converts a base58check address to its 41-prefixed hex form.
func AddressToHex(address string) (string, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return "", fmt.Errorf("decode address %q: %w", address, err)
	}
	if len(raw) != 25 || raw[0] != addressPrefix {
		return "", fmt.Errorf("invalid address %q", address)
	}
	if !bytes.Equal(checksum(raw[:21]), raw[21:25]) {
		return "", fmt.Errorf("bad checksum in address %q", address)
	}
	return hex.EncodeToString(raw[:21]), nil
}

// HexToAddress converts a 41-prefixed hex address to base58check.
func HexToAddress(hexAddr string) (string, error) {
	raw, err := hex.DecodeString(hexAddr)
	if err != nil {
		return "", fmt.Errorf("decode hex address %q: %w", hexAddr, err)
	}
	if len(raw) != 21 || raw[0] != addressPrefix {
		return "", fmt.Errorf("invalid hex address %q", hexAddr)
	}
	return base58.Encode(append(raw, checksum(raw)...)), nil
}

// AddressFromPrivateKey derives the base58check address of a secp256k1 key.
func AddressFromPrivateKey(privateKey []byte) string {
	key := secp256k1.PrivKeyFromBytes(privateKey)
	pub := key.PubKey().SerializeUncompressed()

	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	account := h.Sum(nil)[12:]

	raw := append([]byte{addressPrefix}, account...)
	return base58.Encode(append(raw, checksum(raw)...))
}

// checksum is the first four bytes of double sha256.
func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}
