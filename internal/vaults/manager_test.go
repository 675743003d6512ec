package vaults

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrilink-dev/settlement_layer/internal/chain"
	"github.com/agrilink-dev/settlement_layer/internal/storage/memory"
)

var (
	testFactory = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testToken   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testVault   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testOwner   = "0x4444444444444444444444444444444444444444"
)

type stubReader struct {
	code    map[common.Address][]byte
	codeErr error
	// calls maps the packed 4-byte selector to the raw ABI return.
	returns map[string][]byte
	callErr error
	calls   int
}

func (r *stubReader) Code(_ context.Context, addr common.Address) ([]byte, error) {
	if r.codeErr != nil {
		return nil, r.codeErr
	}
	return r.code[addr], nil
}

func (r *stubReader) CallContract(_ context.Context, msg chain.CallMsg) ([]byte, error) {
	r.calls++
	if r.callErr != nil {
		return nil, r.callErr
	}
	selector := fmt.Sprintf("%x", []byte(msg.Data)[:4])
	out, ok := r.returns[selector]
	if !ok {
		return nil, fmt.Errorf("unexpected call %s", selector)
	}
	return out, nil
}

type stubSubmitter struct {
	hash    common.Hash
	outcome chain.Outcome
	err     error
	submits int
	lastTo  common.Address
}

func (s *stubSubmitter) SubmitAndConfirm(_ context.Context, to common.Address, data []byte) (common.Hash, chain.Outcome, error) {
	s.submits++
	s.lastTo = to
	return s.hash, s.outcome, s.err
}

func selectorOf(t *testing.T, contract string, method string) string {
	t.Helper()
	var packed []byte
	var err error
	switch contract {
	case "factory":
		switch method {
		case "vaultOf":
			packed, err = factoryABI.Pack(method, big.NewInt(0))
		}
	case "escrow":
		switch method {
		case "farmer":
			packed, err = escrowABI.Pack(method)
		case "tokenBalance":
			packed, err = escrowABI.Pack(method)
		}
	}
	require.NoError(t, err)
	require.NotEmpty(t, packed)
	return fmt.Sprintf("%x", packed[:4])
}

func addressReturn(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func uintReturn(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func newTestManager(reader *stubReader, submitter *stubSubmitter) (*Manager, *memory.Store) {
	store := memory.New()
	return NewManager(reader, submitter, store, testFactory, testToken), store
}

func TestDeriveFarmKey(t *testing.T) {
	key := DeriveFarmKey("farm-001")
	assert.Len(t, key, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", key)
	assert.Equal(t, key, DeriveFarmKey("farm-001"))
	assert.NotEqual(t, key, DeriveFarmKey("farm-002"))
}

func TestCreateDeploysAndPersists(t *testing.T) {
	reader := &stubReader{
		code: map[common.Address][]byte{testFactory: {0x60, 0x80}},
		returns: map[string][]byte{
			selectorOf(t, "factory", "vaultOf"): addressReturn(testVault),
		},
	}
	submitter := &stubSubmitter{
		hash:    common.HexToHash("0xaaaa"),
		outcome: chain.Outcome{Kind: chain.OutcomeMined, Status: chain.ReceiptStatusSuccess},
	}
	mgr, _ := newTestManager(reader, submitter)

	key := DeriveFarmKey("farm-001")
	rec, err := mgr.Create(context.Background(), "member-1", key, testOwner)
	require.NoError(t, err)

	assert.Equal(t, 1, submitter.submits)
	assert.Equal(t, testFactory, submitter.lastTo)
	assert.Equal(t, testVault.Hex(), rec.Address)
	assert.Equal(t, key, rec.FarmKey)
	assert.Equal(t, submitter.hash.Hex(), rec.DeployTxHash)
}

func TestCreateIdempotentByFarmKey(t *testing.T) {
	reader := &stubReader{
		code: map[common.Address][]byte{testFactory: {0x60, 0x80}},
		returns: map[string][]byte{
			selectorOf(t, "factory", "vaultOf"): addressReturn(testVault),
		},
	}
	submitter := &stubSubmitter{
		hash:    common.HexToHash("0xaaaa"),
		outcome: chain.Outcome{Kind: chain.OutcomeMined, Status: chain.ReceiptStatusSuccess},
	}
	mgr, _ := newTestManager(reader, submitter)

	key := DeriveFarmKey("farm-001")
	first, err := mgr.Create(context.Background(), "member-1", key, testOwner)
	require.NoError(t, err)

	second, err := mgr.Create(context.Background(), "member-1", key, testOwner)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, 1, submitter.submits, "existing record must short-circuit before any ledger call")
}

func TestCreateRejectsBadInputs(t *testing.T) {
	mgr, _ := newTestManager(&stubReader{}, &stubSubmitter{})

	_, err := mgr.Create(context.Background(), "member-1", "not-a-key", testOwner)
	require.ErrorIs(t, err, ErrVaultCreationFailed)

	_, err = mgr.Create(context.Background(), "member-1", DeriveFarmKey("farm-001"), "0xshort")
	require.ErrorIs(t, err, ErrVaultCreationFailed)
}

func TestCreateFailsWhenFactoryHasNoCode(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{}}
	submitter := &stubSubmitter{}
	mgr, _ := newTestManager(reader, submitter)

	_, err := mgr.Create(context.Background(), "member-1", DeriveFarmKey("farm-001"), testOwner)
	require.ErrorIs(t, err, ErrVaultCreationFailed)
	assert.Contains(t, err.Error(), "no contract code")
	assert.Zero(t, submitter.submits)
}

func TestCreateFailsOnZeroAddressLookup(t *testing.T) {
	reader := &stubReader{
		code: map[common.Address][]byte{testFactory: {0x60, 0x80}},
		returns: map[string][]byte{
			selectorOf(t, "factory", "vaultOf"): addressReturn(common.Address{}),
		},
	}
	submitter := &stubSubmitter{
		hash:    common.HexToHash("0xaaaa"),
		outcome: chain.Outcome{Kind: chain.OutcomeMined, Status: chain.ReceiptStatusSuccess},
	}
	mgr, store := newTestManager(reader, submitter)

	key := DeriveFarmKey("farm-001")
	_, err := mgr.Create(context.Background(), "member-1", key, testOwner)
	require.ErrorIs(t, err, ErrVaultCreationFailed)

	// The failed attempt must leave nothing behind.
	_, err = store.GetVaultByFarmKey(context.Background(), key)
	assert.Error(t, err)
}

func TestCreateNoRecordWhenSubmitFails(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{testFactory: {0x60, 0x80}}}
	submitter := &stubSubmitter{err: errors.New("broadcast rejected")}
	mgr, store := newTestManager(reader, submitter)

	key := DeriveFarmKey("farm-001")
	_, err := mgr.Create(context.Background(), "member-1", key, testOwner)
	require.ErrorIs(t, err, ErrVaultCreationFailed)

	_, err = store.GetVaultByFarmKey(context.Background(), key)
	assert.Error(t, err)
}

func TestReleaseValidation(t *testing.T) {
	mgr, _ := newTestManager(&stubReader{}, &stubSubmitter{})

	_, err := mgr.Release(context.Background(), "bogus", big.NewInt(1))
	assert.Error(t, err)

	_, err = mgr.Release(context.Background(), testVault.Hex(), big.NewInt(0))
	assert.Error(t, err)

	_, err = mgr.Release(context.Background(), testVault.Hex(), nil)
	assert.Error(t, err)
}

func TestReleaseRequiresDeployedVault(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{}}
	mgr, _ := newTestManager(reader, &stubSubmitter{})

	_, err := mgr.Release(context.Background(), testVault.Hex(), big.NewInt(1))
	require.ErrorIs(t, err, ErrNoContract)
}

func TestReleaseSuccess(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{testVault: {0x60}}}
	submitter := &stubSubmitter{
		hash:    common.HexToHash("0xbbbb"),
		outcome: chain.Outcome{Kind: chain.OutcomeMined, Status: chain.ReceiptStatusSuccess},
	}
	mgr, _ := newTestManager(reader, submitter)

	hash, err := mgr.Release(context.Background(), testVault.Hex(), big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, submitter.hash.Hex(), hash)
	assert.Equal(t, testVault, submitter.lastTo)
}

func TestReleaseRevertedMapsError(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{testVault: {0x60}}}
	submitter := &stubSubmitter{
		hash:    common.HexToHash("0xbbbb"),
		outcome: chain.Outcome{Kind: chain.OutcomeReverted},
		err:     fmt.Errorf("%w: status 0", chain.ErrReverted),
	}
	mgr, _ := newTestManager(reader, submitter)

	hash, err := mgr.Release(context.Background(), testVault.Hex(), big.NewInt(500))
	require.ErrorIs(t, err, ErrReleaseReverted)
	assert.Equal(t, submitter.hash.Hex(), hash, "hash must survive a revert for audit records")
}

func TestReleaseTimeoutKeepsHash(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{testVault: {0x60}}}
	submitter := &stubSubmitter{
		hash:    common.HexToHash("0xcccc"),
		outcome: chain.Outcome{Kind: chain.OutcomeTimeout},
		err:     chain.ErrConfirmTimeout,
	}
	mgr, _ := newTestManager(reader, submitter)

	hash, err := mgr.Release(context.Background(), testVault.Hex(), big.NewInt(500))
	require.ErrorIs(t, err, chain.ErrConfirmTimeout)
	assert.Equal(t, submitter.hash.Hex(), hash)
}

func TestReleaseBroadcastFailureReturnsEmptyHash(t *testing.T) {
	reader := &stubReader{code: map[common.Address][]byte{testVault: {0x60}}}
	submitter := &stubSubmitter{
		err: fmt.Errorf("%w: nonce too low", chain.ErrTxSubmit),
	}
	mgr, _ := newTestManager(reader, submitter)

	hash, err := mgr.Release(context.Background(), testVault.Hex(), big.NewInt(500))
	require.ErrorIs(t, err, chain.ErrTxSubmit)
	assert.Empty(t, hash, "nothing was broadcast, so no hash to record")
}

func TestFarmerAndBalanceViews(t *testing.T) {
	farmer := common.HexToAddress("0x5555555555555555555555555555555555555555")
	reader := &stubReader{
		returns: map[string][]byte{
			selectorOf(t, "escrow", "farmer"):       addressReturn(farmer),
			selectorOf(t, "escrow", "tokenBalance"): uintReturn(big.NewInt(1_000_000)),
		},
	}
	mgr, _ := newTestManager(reader, &stubSubmitter{})

	got, err := mgr.Farmer(context.Background(), testVault.Hex())
	require.NoError(t, err)
	assert.Equal(t, farmer.Hex(), got)

	balance, err := mgr.Balance(context.Background(), testVault.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), balance.Int64())
}

func TestMintForDonorTargetsToken(t *testing.T) {
	submitter := &stubSubmitter{
		hash:    common.HexToHash("0xdddd"),
		outcome: chain.Outcome{Kind: chain.OutcomeMined, Status: chain.ReceiptStatusSuccess},
	}
	mgr, _ := newTestManager(&stubReader{}, submitter)

	hash, err := mgr.MintForDonor(context.Background(), testOwner, testVault.Hex(), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, submitter.hash.Hex(), hash)
	assert.Equal(t, testToken, submitter.lastTo)

	_, err = mgr.MintForDonor(context.Background(), testOwner, testVault.Hex(), big.NewInt(0))
	assert.Error(t, err)
}

func TestBurnFromFarmerTargetsToken(t *testing.T) {
	submitter := &stubSubmitter{
		hash:    common.HexToHash("0xeeee"),
		outcome: chain.Outcome{Kind: chain.OutcomeMined, Status: chain.ReceiptStatusSuccess},
	}
	mgr, _ := newTestManager(&stubReader{}, submitter)

	hash, err := mgr.BurnFromFarmer(context.Background(), testOwner, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, submitter.hash.Hex(), hash)
	assert.Equal(t, testToken, submitter.lastTo)

	_, err = mgr.BurnFromFarmer(context.Background(), strings.Repeat("0", 40), big.NewInt(1))
	assert.Error(t, err, "address without 0x prefix must be rejected")
}
