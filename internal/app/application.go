// Package app assembles the settlement layer from its components and manages
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-redis/redis/v8"

	"github.com/agrilink-dev/settlement_layer/internal/chain"
	"github.com/agrilink-dev/settlement_layer/internal/config"
	"github.com/agrilink-dev/settlement_layer/internal/httpapi"
	"github.com/agrilink-dev/settlement_layer/internal/jobs"
	"github.com/agrilink-dev/settlement_layer/internal/keyvault"
	"github.com/agrilink-dev/settlement_layer/internal/settlement"
	"github.com/agrilink-dev/settlement_layer/internal/storage"
	"github.com/agrilink-dev/settlement_layer/internal/storage/memory"
	"github.com/agrilink-dev/settlement_layer/internal/system"
	"github.com/agrilink-dev/settlement_layer/internal/vaults"
	"github.com/agrilink-dev/settlement_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation, which is what the tests and local development
// run against.
type Stores struct {
	Vaults      storage.VaultStore
	Settlements storage.SettlementStore
	Receipts    storage.ReceiptStore
	Wallets     storage.WalletStore
	Farms       storage.FarmStore
	Members     storage.MemberStore
}

func (s *Stores) applyDefaults() {
	mem := memory.New()
	if s.Vaults == nil {
		s.Vaults = mem
	}
	if s.Settlements == nil {
		s.Settlements = mem
	}
	if s.Receipts == nil {
		s.Receipts = mem
	}
	if s.Wallets == nil {
		s.Wallets = mem
	}
	if s.Farms == nil {
		s.Farms = mem
	}
	if s.Members == nil {
		s.Members = mem
	}
}

// Application ties the settlement components together and manages their
// lifecycle through the system manager.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Orchestrator *settlement.Orchestrator
	Vaults       *vaults.Manager
	KeyVault     *keyvault.Vault
}

// New builds a fully initialised application from configuration.
func New(cfg *config.Config, stores Stores) (*Application, error) {
	stores.applyDefaults()
	log := logger.NewDefault("app")

	client, err := chain.NewClient(chain.Config{RPCURL: cfg.LedgerRPCURL})
	if err != nil {
		return nil, fmt.Errorf("ledger client: %w", err)
	}

	signerKey, err := crypto.HexToECDSA(cfg.SignerKeyHex)
	if err != nil {
		return nil, fmt.Errorf("signer key: %w", err)
	}
	sender, err := chain.NewSender(chain.SenderConfig{
		Client:          client,
		Key:             signerKey,
		ChainID:         big.NewInt(cfg.LedgerChainID),
		GasFloor:        cfg.GasFloor,
		GasFallback:     cfg.GasFallback,
		ConfirmAttempts: cfg.ConfirmAttempts,
		PollInterval:    cfg.ConfirmPollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("transaction sender: %w", err)
	}

	if !chain.ValidAddress(cfg.FactoryAddress) {
		return nil, fmt.Errorf("invalid vault factory address %q", cfg.FactoryAddress)
	}
	if !chain.ValidAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddress)
	}
	vaultMgr := vaults.NewManager(client, sender, stores.Vaults,
		common.HexToAddress(cfg.FactoryAddress), common.HexToAddress(cfg.TokenAddress))

	envelopeKey, err := cfg.EnvelopeKey()
	if err != nil {
		return nil, err
	}
	cipher, err := keyvault.NewCipher(envelopeKey)
	if err != nil {
		return nil, err
	}
	kv := keyvault.New(cipher)

	var banking settlement.BankingClient
	if cfg.BankingURL != "" {
		banking = settlement.NewHTTPBankingClient(cfg.BankingURL, cfg.BankingAPIKey)
	} else {
		log.Warn("no banking endpoint configured, settlements stop at RELEASED")
	}

	var guard settlement.ApprovalGuard = settlement.NoopGuard{}
	if cfg.RedisAddr != "" {
		guard = settlement.NewRedisApprovalGuard(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), 0)
	}

	orch := settlement.New(settlement.Stores{
		Settlements: stores.Settlements,
		Receipts:    stores.Receipts,
		Vaults:      stores.Vaults,
		Farms:       stores.Farms,
		Members:     stores.Members,
	}, vaultMgr, banking, guard, cfg.FiatPerToken)

	router := httpapi.NewRouter(httpapi.Config{
		Settler:      orch,
		VaultManager: vaultMgr,
		WalletIssuer: kv,
		Settlements:  stores.Settlements,
		Vaults:       stores.Vaults,
		Wallets:      stores.Wallets,
		Members:      stores.Members,
		Farms:        stores.Farms,
		FiatPerToken: cfg.FiatPerToken,
		JWTSecret:    cfg.JWTSecret,
		RatePerMin:   cfg.RateLimitPerMinute,
	})

	manager := system.NewManager()
	manager.Register(httpapi.NewServer(cfg.HTTPAddr, router))
	manager.Register(&trustScoreService{
		job: jobs.NewTrustScoreJob(stores.Farms, stores.Settlements, cfg.TrustScoreSchedule),
	})

	return &Application{
		manager:      manager,
		log:          log,
		Orchestrator: orch,
		Vaults:       vaultMgr,
		KeyVault:     kv,
	}, nil
}

// Start starts all managed services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all managed services in reverse order.
func (a *Application) Stop(ctx context.Context) {
	a.manager.Stop(ctx)
}

// trustScoreService adapts the cron job to the service lifecycle.
type trustScoreService struct {
	job *jobs.TrustScoreJob
}

func (s *trustScoreService) Name() string { return "trustscore" }

func (s *trustScoreService) Start(_ context.Context) error { return s.job.Start() }

func (s *trustScoreService) Stop(_ context.Context) error {
	s.job.Stop()
	return nil
}
