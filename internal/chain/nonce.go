package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSequencer owns the next-nonce computation for one signer. All
// submissions from the shared administrative key flow through it: the mutex
// is held from the nonce fetch until the broadcast returns, so two racing
// settlements cannot sign with the same nonce.
type NonceSequencer struct {
	mu     sync.Mutex
	client *Client
	signer common.Address
}

// NewNonceSequencer creates a sequencer for the given signer address.
func NewNonceSequencer(client *Client, signer common.Address) *NonceSequencer {
	return &NonceSequencer{client: client, signer: signer}
}

// Do fetches the signer's pending nonce and runs fn with it while holding
// the sequencer lock. The nonce is fetched fresh on every call; nothing is
// cached across submissions.
func (n *NonceSequencer) Do(ctx context.Context, fn func(nonce uint64) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	nonce, err := n.client.PendingNonce(ctx, n.signer)
	if err != nil {
		return err
	}
	return fn(nonce)
}
