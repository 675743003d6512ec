// Package vaults manages the lifecycle of on-ledger escrow vaults: creation
// through the factory contract, fund release, and read-only views. Vault
// records are keyed by farm key so creation stays idempotent across retries.
package vaults

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agrilink-dev/settlement_layer/internal/chain"
	"github.com/agrilink-dev/settlement_layer/internal/domain/vault"
	"github.com/agrilink-dev/settlement_layer/internal/storage"
	"github.com/agrilink-dev/settlement_layer/pkg/logger"
)

var (
	// ErrVaultCreationFailed wraps any failure between submitting the
	// createVault transaction and persisting the resulting record.
	ErrVaultCreationFailed = errors.New("vault creation failed")

	// ErrReleaseReverted is returned when the release transaction mined
	// but the contract rejected it.
	ErrReleaseReverted = errors.New("vault release reverted")

	// ErrNoContract is returned when the target address has no deployed code.
	ErrNoContract = errors.New("no contract code at address")
)

var farmKeyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// DeriveFarmKey maps a farm identifier to its fixed-width vault key,
// the lowercase hex of keccak256 over the identifier bytes.
func DeriveFarmKey(farmID string) string {
	return fmt.Sprintf("%x", crypto.Keccak256([]byte(farmID)))
}

// Reader is the read-only ledger surface the manager needs.
type Reader interface {
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	CallContract(ctx context.Context, msg chain.CallMsg) ([]byte, error)
}

// Submitter signs, broadcasts and confirms state-changing transactions.
type Submitter interface {
	SubmitAndConfirm(ctx context.Context, to common.Address, data []byte) (common.Hash, chain.Outcome, error)
}

// Manager drives vault contract interactions and keeps the vault store
// consistent with what is deployed on the ledger.
type Manager struct {
	reader    Reader
	submitter Submitter
	store     storage.VaultStore
	factory   common.Address
	token     common.Address
	log       *logger.Logger
}

// NewManager wires a vault manager against a ledger client, a transaction
// sender and the vault store.
func NewManager(reader Reader, submitter Submitter, store storage.VaultStore, factory, token common.Address) *Manager {
	return &Manager{
		reader:    reader,
		submitter: submitter,
		store:     store,
		factory:   factory,
		token:     token,
		log:       logger.NewDefault("vaults"),
	}
}

// Create deploys a vault for the given farm key, or returns the existing
// record when one is already on file. No partial record is written: the
// store is only touched after the vault address has been read back from
// the factory and validated.
func (m *Manager) Create(ctx context.Context, memberID, farmKey, ownerAddress string) (vault.Record, error) {
	if existing, err := m.store.GetVaultByFarmKey(ctx, farmKey); err == nil {
		m.log.WithField("farm_key", farmKey).Debug("vault already exists, returning existing record")
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return vault.Record{}, fmt.Errorf("vault lookup: %w", err)
	}

	if !farmKeyPattern.MatchString(farmKey) {
		return vault.Record{}, fmt.Errorf("%w: malformed farm key %q", ErrVaultCreationFailed, farmKey)
	}
	if !chain.ValidAddress(ownerAddress) {
		return vault.Record{}, fmt.Errorf("%w: invalid owner address %q", ErrVaultCreationFailed, ownerAddress)
	}

	code, err := m.reader.Code(ctx, m.factory)
	if err != nil {
		return vault.Record{}, fmt.Errorf("%w: factory code check: %v", ErrVaultCreationFailed, err)
	}
	if len(code) == 0 {
		return vault.Record{}, fmt.Errorf("%w: %v at factory %s", ErrVaultCreationFailed, ErrNoContract, m.factory.Hex())
	}

	key := new(big.Int).SetBytes(common.Hex2Bytes(farmKey))
	data, err := factoryABI.Pack("createVault", key, common.HexToAddress(ownerAddress))
	if err != nil {
		return vault.Record{}, fmt.Errorf("%w: encode createVault: %v", ErrVaultCreationFailed, err)
	}

	hash, _, err := m.submitter.SubmitAndConfirm(ctx, m.factory, data)
	if err != nil {
		return vault.Record{}, fmt.Errorf("%w: %v", ErrVaultCreationFailed, err)
	}

	address, err := m.vaultOf(ctx, key)
	if err != nil {
		return vault.Record{}, fmt.Errorf("%w: %v", ErrVaultCreationFailed, err)
	}
	if address == (common.Address{}) {
		return vault.Record{}, fmt.Errorf("%w: factory reports zero address for farm key %s", ErrVaultCreationFailed, farmKey)
	}

	rec := vault.Record{
		MemberID:     memberID,
		FarmKey:      farmKey,
		Address:      address.Hex(),
		DeployTxHash: hash.Hex(),
		Status:       vault.StatusActive,
	}
	stored, err := m.store.UpsertVault(ctx, rec)
	if err != nil {
		return vault.Record{}, fmt.Errorf("%w: persist record: %v", ErrVaultCreationFailed, err)
	}

	m.log.WithField("vault", stored.Address).WithField("farm_key", farmKey).Info("vault created")
	return stored, nil
}

// Release sends the release call to the vault contract for the given wei
// amount. The transaction hash is returned even when confirmation fails,
// so callers can record what was broadcast. When the transaction never
// reached the node the hash is empty.
func (m *Manager) Release(ctx context.Context, vaultAddress string, amountWei *big.Int) (string, error) {
	if !chain.ValidAddress(vaultAddress) {
		return "", fmt.Errorf("invalid vault address %q", vaultAddress)
	}
	if amountWei == nil || amountWei.Sign() <= 0 {
		return "", fmt.Errorf("release amount must be positive")
	}

	addr := common.HexToAddress(vaultAddress)
	code, err := m.reader.Code(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("vault code check: %w", err)
	}
	if len(code) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoContract, vaultAddress)
	}

	data, err := escrowABI.Pack("release", amountWei)
	if err != nil {
		return "", fmt.Errorf("encode release: %w", err)
	}

	hash, _, err := m.submitter.SubmitAndConfirm(ctx, addr, data)
	if err != nil {
		if errors.Is(err, chain.ErrReverted) {
			return hashOrEmpty(hash), fmt.Errorf("%w: %v", ErrReleaseReverted, err)
		}
		return hashOrEmpty(hash), err
	}

	m.log.WithField("vault", vaultAddress).WithField("tx", hash.Hex()).Info("vault release confirmed")
	return hash.Hex(), nil
}

// Farmer returns the beneficiary wallet configured on the vault contract.
func (m *Manager) Farmer(ctx context.Context, vaultAddress string) (string, error) {
	if !chain.ValidAddress(vaultAddress) {
		return "", fmt.Errorf("invalid vault address %q", vaultAddress)
	}
	addr := common.HexToAddress(vaultAddress)
	out, err := m.view(ctx, addr, escrowABI, "farmer")
	if err != nil {
		return "", err
	}
	farmer, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("farmer: unexpected return type %T", out[0])
	}
	return farmer.Hex(), nil
}

// Balance returns the vault's current token balance in wei.
func (m *Manager) Balance(ctx context.Context, vaultAddress string) (*big.Int, error) {
	if !chain.ValidAddress(vaultAddress) {
		return nil, fmt.Errorf("invalid vault address %q", vaultAddress)
	}
	addr := common.HexToAddress(vaultAddress)
	out, err := m.view(ctx, addr, escrowABI, "tokenBalance")
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("tokenBalance: unexpected return type %T", out[0])
	}
	return balance, nil
}

// MintForDonor mints donation tokens into the vault, attributed to the donor.
func (m *Manager) MintForDonor(ctx context.Context, donorAddress, vaultAddress string, amountWei *big.Int) (string, error) {
	if !chain.ValidAddress(donorAddress) {
		return "", fmt.Errorf("invalid donor address %q", donorAddress)
	}
	if !chain.ValidAddress(vaultAddress) {
		return "", fmt.Errorf("invalid vault address %q", vaultAddress)
	}
	if amountWei == nil || amountWei.Sign() <= 0 {
		return "", fmt.Errorf("mint amount must be positive")
	}

	data, err := tokenABI.Pack("mintToVaultForDonor", common.HexToAddress(donorAddress), common.HexToAddress(vaultAddress), amountWei)
	if err != nil {
		return "", fmt.Errorf("encode mintToVaultForDonor: %w", err)
	}
	hash, _, err := m.submitter.SubmitAndConfirm(ctx, m.token, data)
	if err != nil {
		return hashOrEmpty(hash), err
	}
	return hash.Hex(), nil
}

// BurnFromFarmer burns settled tokens out of the farmer wallet after
// fiat withdrawal completes.
func (m *Manager) BurnFromFarmer(ctx context.Context, farmerAddress string, amountWei *big.Int) (string, error) {
	if !chain.ValidAddress(farmerAddress) {
		return "", fmt.Errorf("invalid farmer address %q", farmerAddress)
	}
	if amountWei == nil || amountWei.Sign() <= 0 {
		return "", fmt.Errorf("burn amount must be positive")
	}

	data, err := tokenABI.Pack("burnFromFarmer", common.HexToAddress(farmerAddress), amountWei)
	if err != nil {
		return "", fmt.Errorf("encode burnFromFarmer: %w", err)
	}
	hash, _, err := m.submitter.SubmitAndConfirm(ctx, m.token, data)
	if err != nil {
		return hashOrEmpty(hash), err
	}
	return hash.Hex(), nil
}

func (m *Manager) vaultOf(ctx context.Context, key *big.Int) (common.Address, error) {
	out, err := m.view(ctx, m.factory, factoryABI, "vaultOf", key)
	if err != nil {
		return common.Address{}, err
	}
	address, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("vaultOf: unexpected return type %T", out[0])
	}
	return address, nil
}

// hashOrEmpty keeps the zero hash out of persisted records: a transaction
// that never made it past broadcast has no hash worth recording.
func hashOrEmpty(hash common.Hash) string {
	if hash == (common.Hash{}) {
		return ""
	}
	return hash.Hex()
}

func (m *Manager) view(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	raw, err := m.reader.CallContract(ctx, chain.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty return", method)
	}
	return out, nil
}
