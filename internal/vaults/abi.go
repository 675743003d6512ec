package vaults

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract surfaces the settlement layer invokes, as positional ABI calls.
const (
	factoryABIJSON = `[
		{"type":"function","name":"createVault","inputs":[{"name":"key","type":"uint256"},{"name":"owner","type":"address"}],"outputs":[]},
		{"type":"function","name":"vaultOf","stateMutability":"view","inputs":[{"name":"key","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
	]`

	escrowABIJSON = `[
		{"type":"function","name":"release","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"farmer","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"tokenBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`

	tokenABIJSON = `[
		{"type":"function","name":"burnFromFarmer","inputs":[{"name":"farmer","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"mintToVaultForDonor","inputs":[{"name":"donor","type":"address"},{"name":"vault","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
	]`
)

var (
	factoryABI = mustParseABI(factoryABIJSON)
	escrowABI  = mustParseABI(escrowABIJSON)
	tokenABI   = mustParseABI(tokenABIJSON)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
