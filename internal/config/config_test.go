package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, int64(100), cfg.FiatPerToken)
	assert.Equal(t, uint64(90000), cfg.GasFloor)
	assert.Equal(t, uint64(500000), cfg.GasFallback)
	assert.Equal(t, 40, cfg.ConfirmAttempts)
	assert.Equal(t, 3*time.Second, cfg.ConfirmPollInterval)
	assert.Equal(t, "0 3 * * *", cfg.TrustScoreSchedule)
}

func TestLoadPolicyOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fiat_per_token: 250\ngas_floor: 120000\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(250), cfg.FiatPerToken)
	assert.Equal(t, uint64(120000), cfg.GasFloor)
	assert.Equal(t, uint64(500000), cfg.GasFallback, "unset policy fields keep env defaults")
}

func TestLoadMissingPolicyFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), cfg.FiatPerToken)
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fiat_per_token: [nope"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvelopeKey(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.EnvelopeKey()
	assert.Error(t, err, "unset key must fail")

	cfg.KeystoreEnvelopeKey = "not-base64!!"
	_, err = cfg.EnvelopeKey()
	assert.Error(t, err)

	cfg.KeystoreEnvelopeKey = base64.StdEncoding.EncodeToString(make([]byte, 16))
	_, err = cfg.EnvelopeKey()
	assert.Error(t, err, "short key must fail")

	cfg.KeystoreEnvelopeKey = base64.StdEncoding.EncodeToString(make([]byte, 32))
	key, err := cfg.EnvelopeKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
