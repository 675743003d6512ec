// Package wallet defines the custodial wallet record. Only ciphertext is
// ever persisted; plaintext keys and keystore passwords never reach a store.
package wallet

import "time"

// Wallet is a member's custodial ledger wallet.
type Wallet struct {
	ID                string
	MemberID          string
	Address           string
	EncryptedKeystore string // base64(nonce || ciphertext || tag)
	CreatedAt         time.Time
}
