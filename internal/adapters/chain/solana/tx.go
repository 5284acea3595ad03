package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program addresses.
const (
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// PublicKey is a 32-byte ed25519 public key.
type PublicKey [32]byte

// PublicKeyFromBase58 decodes a base58 address into a public key.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != 32 {
		return PublicKey{}, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}

// ToBase58 renders the key as a Solana address.
func (pk PublicKey) ToBase58() string {
	return base58.Encode(pk[:])
}

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Pubkey   PublicKey
	Signer   bool
	Writable bool
}

// Instruction is one program invocation within a transaction.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// NewTransferInstruction builds a system program lamport transfer.
func NewTransferInstruction(from, to PublicKey, lamports uint64) Instruction {
	program, _ := PublicKeyFromBase58(SystemProgramID)

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2) // SystemInstruction::Transfer
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: from, Signer: true, Writable: true},
			{Pubkey: to, Writable: true},
		},
		Data: data,
	}
}

// NewTokenTransferInstruction builds an SPL token transfer between token
// accounts, authorized by owner.
func NewTokenTransferInstruction(source, destination, owner PublicKey, amount uint64) Instruction {
	program, _ := PublicKeyFromBase58(TokenProgramID)

	data := make([]byte, 9)
	data[0] = 3 // TokenInstruction::Transfer
	binary.LittleEndian.PutUint64(data[1:9], amount)

	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: source, Writable: true},
			{Pubkey: destination, Writable: true},
			{Pubkey: owner, Signer: true},
		},
		Data: data,
	}
}

// NewCreateAssociatedTokenAccountInstruction builds the funded creation of
// owner's associated token account for mint.
func NewCreateAssociatedTokenAccountInstruction(payer, ata, owner, mint PublicKey) Instruction {
	program, _ := PublicKeyFromBase58(AssociatedTokenProgramID)
	systemProgram, _ := PublicKeyFromBase58(SystemProgramID)
	tokenProgram, _ := PublicKeyFromBase58(TokenProgramID)

	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: payer, Signer: true, Writable: true},
			{Pubkey: ata, Writable: true},
			{Pubkey: owner},
			{Pubkey: mint},
			{Pubkey: systemProgram},
			{Pubkey: tokenProgram},
		},
		Data: nil,
	}
}

// FindAssociatedTokenAddress derives the canonical associated token account
// for an owner and mint. The derivation walks bump seeds downward until the
// candidate falls off the ed25519 curve, matching the on-chain rule.
func FindAssociatedTokenAddress(owner, mint PublicKey) (PublicKey, error) {
	tokenProgram, _ := PublicKeyFromBase58(TokenProgramID)
	ataProgram, _ := PublicKeyFromBase58(AssociatedTokenProgramID)

	seeds := [][]byte{owner[:], tokenProgram[:], mint[:]}
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(ataProgram[:])
		h.Write([]byte("ProgramDerivedAddress"))

		candidate := h.Sum(nil)
		if !isOnCurve(candidate) {
			var pk PublicKey
			copy(pk[:], candidate)
			return pk, nil
		}
	}

	return PublicKey{}, fmt.Errorf("no valid program derived address for owner %s", owner.ToBase58())
}

func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// shortvec is Solana's compact-u16 length encoding.
func shortvec(n int) []byte {
	var out []byte
	for {
		if n < 0x80 {
			out = append(out, byte(n))
			return out
		}
		out = append(out, byte(n&0x7f)|0x80)
		n >>= 7
	}
}

// BuildTransaction compiles instructions into a single-signer legacy
// transaction, signs it, and returns the wire bytes plus the base58
// signature that doubles as the transaction hash.
func BuildTransaction(feePayer PublicKey, instructions []Instruction, recentBlockhash [32]byte, key ed25519.PrivateKey) ([]byte, string, error) {
	if len(instructions) == 0 {
		return nil, "", fmt.Errorf("no instructions")
	}

	// Account ordering: writable signers, readonly signers, writable
	// non-signers, readonly non-signers. Fee payer leads.
	seen := map[PublicKey]*AccountMeta{}
	order := []PublicKey{}

	upsert := func(m AccountMeta) {
		if existing, ok := seen[m.Pubkey]; ok {
			existing.Signer = existing.Signer || m.Signer
			existing.Writable = existing.Writable || m.Writable
			return
		}
		cp := m
		seen[m.Pubkey] = &cp
		order = append(order, m.Pubkey)
	}

	upsert(AccountMeta{Pubkey: feePayer, Signer: true, Writable: true})
	for _, ix := range instructions {
		for _, acc := range ix.Accounts {
			upsert(acc)
		}
		upsert(AccountMeta{Pubkey: ix.ProgramID})
	}

	var writableSigners, readonlySigners, writableOthers, readonlyOthers []PublicKey
	for _, pk := range order {
		m := seen[pk]
		switch {
		case m.Signer && m.Writable:
			writableSigners = append(writableSigners, pk)
		case m.Signer:
			readonlySigners = append(readonlySigners, pk)
		case m.Writable:
			writableOthers = append(writableOthers, pk)
		default:
			readonlyOthers = append(readonlyOthers, pk)
		}
	}

	keys := append(append(append(writableSigners, readonlySigners...), writableOthers...), readonlyOthers...)
	index := map[PublicKey]byte{}
	for i, pk := range keys {
		index[pk] = byte(i)
	}

	numSigners := len(writableSigners) + len(readonlySigners)
	if numSigners != 1 {
		return nil, "", fmt.Errorf("expected exactly one signer, got %d", numSigners)
	}

	var msg bytes.Buffer
	msg.WriteByte(byte(numSigners))
	msg.WriteByte(byte(len(readonlySigners)))
	msg.WriteByte(byte(len(readonlyOthers)))
	msg.Write(shortvec(len(keys)))
	for _, pk := range keys {
		msg.Write(pk[:])
	}
	msg.Write(recentBlockhash[:])
	msg.Write(shortvec(len(instructions)))
	for _, ix := range instructions {
		msg.WriteByte(index[ix.ProgramID])
		msg.Write(shortvec(len(ix.Accounts)))
		for _, acc := range ix.Accounts {
			msg.WriteByte(index[acc.Pubkey])
		}
		msg.Write(shortvec(len(ix.Data)))
		msg.Write(ix.Data)
	}

	signature := ed25519.Sign(key, msg.Bytes())

	var tx bytes.Buffer
	tx.Write(shortvec(1))
	tx.Write(signature)
	tx.Write(msg.Bytes())

	return tx.Bytes(), base58.Encode(signature), nil
}
