// Package config loads runtime configuration from the environment, with an
// optional YAML policy file layered on top for operator-tuned settlement
// parameters.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Secrets arrive only through the
// environment; the YAML policy file carries tunables safe to commit.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`

	LedgerRPCURL  string `env:"LEDGER_RPC_URL,default=http://localhost:8545"`
	LedgerChainID int64  `env:"LEDGER_CHAIN_ID,default=1337"`
	SignerKeyHex  string `env:"SETTLE_SIGNER_KEY"`

	FactoryAddress string `env:"VAULT_FACTORY_ADDRESS"`
	TokenAddress   string `env:"TOKEN_ADDRESS"`

	BankingURL    string `env:"BANKING_URL"`
	BankingAPIKey string `env:"BANKING_API_KEY"`

	// KeystoreEnvelopeKey is the base64 of the 32-byte AES key sealing
	// custodial keystores at rest.
	KeystoreEnvelopeKey string `env:"KEYSTORE_ENVELOPE_KEY"`

	FiatPerToken int64 `env:"FIAT_PER_TOKEN,default=100"`

	GasFloor            uint64        `env:"GAS_FLOOR,default=90000"`
	GasFallback         uint64        `env:"GAS_FALLBACK,default=500000"`
	ConfirmAttempts     int           `env:"CONFIRM_ATTEMPTS,default=40"`
	ConfirmPollInterval time.Duration `env:"CONFIRM_POLL_INTERVAL,default=3s"`

	JWTSecret          string `env:"JWT_SECRET"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE,default=30"`

	TrustScoreSchedule string `env:"TRUST_SCORE_SCHEDULE,default=0 3 * * *"`
}

// Policy is the operator-tunable subset, loadable from a YAML file. Zero
// values leave the environment-derived setting untouched.
type Policy struct {
	FiatPerToken int64  `yaml:"fiat_per_token"`
	GasFloor     uint64 `yaml:"gas_floor"`
	GasFallback  uint64 `yaml:"gas_fallback"`
}

// Load decodes the environment and, when policyPath names an existing file,
// overlays the policy on top. A missing policy file is not an error.
func Load(policyPath string) (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if policyPath != "" {
		policy, err := loadPolicy(policyPath)
		if err != nil {
			return nil, err
		}
		if policy != nil {
			cfg.applyPolicy(*policy)
		}
	}

	if cfg.FiatPerToken <= 0 {
		return nil, fmt.Errorf("fiat per token must be positive, got %d", cfg.FiatPerToken)
	}
	return &cfg, nil
}

func loadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return &policy, nil
}

func (c *Config) applyPolicy(p Policy) {
	if p.FiatPerToken > 0 {
		c.FiatPerToken = p.FiatPerToken
	}
	if p.GasFloor > 0 {
		c.GasFloor = p.GasFloor
	}
	if p.GasFallback > 0 {
		c.GasFallback = p.GasFallback
	}
}

// EnvelopeKey decodes and validates the keystore envelope key.
func (c *Config) EnvelopeKey() ([]byte, error) {
	if c.KeystoreEnvelopeKey == "" {
		return nil, fmt.Errorf("KEYSTORE_ENVELOPE_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(c.KeystoreEnvelopeKey)
	if err != nil {
		return nil, fmt.Errorf("KEYSTORE_ENVELOPE_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("KEYSTORE_ENVELOPE_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
