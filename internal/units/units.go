// Package units converts between fiat amounts, token counts and minimal
// ledger units. All conversions are exact integer arithmetic; any remainder
// is an error, never a rounding.
package units

import (
	"errors"
	"math/big"
)

// ErrInvalidAmount is returned when an amount cannot be converted exactly
// under the active policy.
var ErrInvalidAmount = errors.New("units: invalid amount")

// WeiPerToken is the fixed decimal precision of the ledger (10^18 minimal
// units per token).
var WeiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FiatToTokens converts a fiat amount (smallest fiat unit) to a whole token
// count under the fiat-per-token policy constant. The amount must be at
// least one token's worth and an exact multiple of the policy constant.
func FiatToTokens(amount, fiatPerToken int64) (int64, error) {
	if fiatPerToken <= 0 {
		return 0, ErrInvalidAmount
	}
	if amount < fiatPerToken {
		return 0, ErrInvalidAmount
	}
	if amount%fiatPerToken != 0 {
		return 0, ErrInvalidAmount
	}
	return amount / fiatPerToken, nil
}

// TokensToFiat is the inverse of FiatToTokens.
func TokensToFiat(tokens, fiatPerToken int64) (int64, error) {
	if fiatPerToken <= 0 || tokens <= 0 {
		return 0, ErrInvalidAmount
	}
	return tokens * fiatPerToken, nil
}

// TokensToWei converts a whole token count to minimal ledger units.
func TokensToWei(tokens int64) (*big.Int, error) {
	if tokens < 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Mul(big.NewInt(tokens), WeiPerToken), nil
}

// WeiToTokens converts minimal ledger units back to a whole token count.
// The division must be exact; a remainder indicates corrupted input.
func WeiToTokens(wei *big.Int) (int64, error) {
	if wei == nil || wei.Sign() < 0 {
		return 0, ErrInvalidAmount
	}
	quo, rem := new(big.Int).QuoRem(wei, WeiPerToken, new(big.Int))
	if rem.Sign() != 0 {
		return 0, ErrInvalidAmount
	}
	if !quo.IsInt64() {
		return 0, ErrInvalidAmount
	}
	return quo.Int64(), nil
}

// FiatToWei converts a fiat amount straight to minimal ledger units.
func FiatToWei(amount, fiatPerToken int64) (*big.Int, error) {
	tokens, err := FiatToTokens(amount, fiatPerToken)
	if err != nil {
		return nil, err
	}
	return TokensToWei(tokens)
}
