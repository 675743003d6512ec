package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agrilink-dev/settlement_layer/internal/metrics"
	"github.com/agrilink-dev/settlement_layer/pkg/logger"
)

// gasMarginPercent is the safety margin added to every gas estimate.
const gasMarginPercent = 20

// Sender signs, submits and confirms ledger transactions for a single
// administrative signer. Vault creation, release, mint and burn all share
// one Sender, so its nonce sequencer is the serialization point for the
// shared credential.
type Sender struct {
	client    *Client
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	sequencer *NonceSequencer

	gasFloor        uint64
	gasFallback     uint64
	confirmAttempts int
	pollInterval    time.Duration

	log *logger.Logger
}

// SenderConfig holds sender configuration.
type SenderConfig struct {
	Client  *Client
	Key     *ecdsa.PrivateKey
	ChainID *big.Int
	// GasFloor is the minimum gas limit applied after estimation.
	GasFloor uint64
	// GasFallback is the conservative fixed limit used when estimation
	// fails; estimation failure is not fatal.
	GasFallback     uint64
	ConfirmAttempts int
	PollInterval    time.Duration
	Logger          *logger.Logger
}

// NewSender creates a transaction sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("chain client required")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("signer key required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("positive chain id required")
	}

	if cfg.GasFloor == 0 {
		cfg.GasFloor = 90_000
	}
	if cfg.GasFallback == 0 {
		cfg.GasFallback = 500_000
	}
	if cfg.ConfirmAttempts == 0 {
		cfg.ConfirmAttempts = 40
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("chain-sender")
	}

	from := crypto.PubkeyToAddress(cfg.Key.PublicKey)
	return &Sender{
		client:          cfg.Client,
		key:             cfg.Key,
		from:            from,
		chainID:         cfg.ChainID,
		sequencer:       NewNonceSequencer(cfg.Client, from),
		gasFloor:        cfg.GasFloor,
		gasFallback:     cfg.GasFallback,
		confirmAttempts: cfg.ConfirmAttempts,
		pollInterval:    cfg.PollInterval,
		log:             cfg.Logger,
	}, nil
}

// From returns the signer address.
func (s *Sender) From() common.Address {
	return s.from
}

// Submit signs and broadcasts a state-changing call to the given contract.
// The nonce is fetched under the sequencer lock immediately before signing;
// any broadcast-level error is fatal and wrapped as ErrTxSubmit.
func (s *Sender) Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	var txHash common.Hash

	err := s.sequencer.Do(ctx, func(nonce uint64) error {
		gasPrice, err := s.client.GasPrice(ctx)
		if err != nil {
			return fmt.Errorf("fetch gas price: %w", err)
		}

		gasLimit := s.gasLimit(ctx, to, data)

		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    new(big.Int),
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		})

		signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
		if err != nil {
			return fmt.Errorf("sign transaction: %w", err)
		}

		raw, err := signed.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode transaction: %w", err)
		}

		hash, err := s.client.SendRawTransaction(ctx, raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTxSubmit, err)
		}

		txHash = hash
		s.log.WithField("tx", hash.Hex()).WithField("nonce", nonce).Debug("transaction broadcast")
		return nil
	})
	metrics.RecordLedgerSubmission("broadcast", err == nil)
	if err != nil {
		return common.Hash{}, err
	}
	return txHash, nil
}

// gasLimit estimates gas for the call, adds the safety margin and applies
// the configured floor. Estimation failure falls back to the fixed limit
// rather than aborting the submission.
func (s *Sender) gasLimit(ctx context.Context, to common.Address, data []byte) uint64 {
	estimate, err := s.client.EstimateGas(ctx, CallMsg{From: s.from, To: &to, Data: data})
	if err != nil {
		s.log.WithError(err).Warn("gas estimation failed, using fallback limit")
		return s.gasFallback
	}

	limit := estimate + estimate*gasMarginPercent/100
	if limit < s.gasFloor {
		limit = s.gasFloor
	}
	return limit
}

// Confirm polls for a mined receipt at the configured interval up to the
// configured attempt count. Exhausting the attempts yields OutcomeTimeout,
// which is indeterminate; a mined receipt with non-success status yields
// OutcomeReverted with the receipt's status code.
func (s *Sender) Confirm(ctx context.Context, txHash common.Hash) (Outcome, error) {
	for attempt := 0; attempt < s.confirmAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Outcome{}, ctx.Err()
			case <-time.After(s.pollInterval):
			}
		}

		receipt, err := s.client.TransactionReceipt(ctx, txHash)
		if err != nil {
			s.log.WithError(err).WithField("tx", txHash.Hex()).Debug("receipt poll failed")
			continue
		}
		if receipt == nil {
			continue
		}

		if receipt.Status != ReceiptStatusSuccess {
			return Outcome{Kind: OutcomeReverted, Receipt: receipt, Status: receipt.Status}, nil
		}
		return Outcome{Kind: OutcomeMined, Receipt: receipt, Status: receipt.Status}, nil
	}

	return Outcome{Kind: OutcomeTimeout}, nil
}

// SubmitAndConfirm submits the call and waits for its outcome. The returned
// hash is valid even when the error is non-nil, so callers can persist it
// for reconciliation before giving up.
func (s *Sender) SubmitAndConfirm(ctx context.Context, to common.Address, data []byte) (common.Hash, Outcome, error) {
	txHash, err := s.Submit(ctx, to, data)
	if err != nil {
		return common.Hash{}, Outcome{}, err
	}

	outcome, err := s.Confirm(ctx, txHash)
	if err != nil {
		metrics.RecordLedgerSubmission("confirm", false)
		return txHash, Outcome{}, err
	}
	metrics.RecordLedgerSubmission("confirm", outcome.Kind == OutcomeMined)
	switch outcome.Kind {
	case OutcomeTimeout:
		return txHash, outcome, fmt.Errorf("%w: tx %s", ErrConfirmTimeout, txHash.Hex())
	case OutcomeReverted:
		return txHash, outcome, fmt.Errorf("%w: tx %s status %d", ErrReverted, txHash.Hex(), outcome.Status)
	}
	return txHash, outcome, nil
}
