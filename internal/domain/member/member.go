// Package member holds the identity projection the settlement layer reads.
// Authentication itself happens elsewhere; this layer only needs a stable
// member identifier and a payout wallet address.
package member

import "time"

// Member is the farm-operating identity.
type Member struct {
	ID            string
	WalletAddress string
	CreatedAt     time.Time
}
