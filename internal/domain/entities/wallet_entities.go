package entities

import (
	"time"

	"github.com/google/uuid"
)

// Wallet maps a user to a custodial deposit address on one chain.
// The private key is stored encrypted; the core reads the address for
// monitoring and requests decryption only when signing a sweep.
type Wallet struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	UserID              uuid.UUID `db:"user_id" json:"user_id"`
	Blockchain          Chain     `db:"blockchain" json:"blockchain"`
	Network             string    `db:"network" json:"network"`
	Address             string    `db:"address" json:"address"`
	EncryptedPrivateKey string    `db:"encrypted_private_key" json:"-"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// MonitoredAddress is the poller's view of a wallet
type MonitoredAddress struct {
	UserID  uuid.UUID
	Address string
}
