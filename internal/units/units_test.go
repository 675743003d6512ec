package units

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"
)

func TestFiatToTokens(t *testing.T) {
	cases := []struct {
		name         string
		amount       int64
		fiatPerToken int64
		want         int64
		wantErr      bool
	}{
		{"exact multiple", 5000, 100, 50, false},
		{"one token", 100, 100, 1, false},
		{"below policy", 50, 100, 0, true},
		{"not a multiple", 150, 100, 0, true},
		{"zero amount", 0, 100, 0, true},
		{"negative amount", -100, 100, 0, true},
		{"zero policy", 100, 0, 0, true},
	}

	for _, tc := range cases {
		got, err := FiatToTokens(tc.amount, tc.fiatPerToken)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("%s: want ErrInvalidAmount, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %d tokens, want %d", tc.name, got, tc.want)
		}
	}
}

func TestFiatRoundTripProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		fiatPerToken := rng.Int63n(10_000) + 1
		tokens := rng.Int63n(1_000_000) + 1
		amount := tokens * fiatPerToken

		got, err := FiatToTokens(amount, fiatPerToken)
		if err != nil {
			t.Fatalf("convert %d/%d: %v", amount, fiatPerToken, err)
		}
		back, err := TokensToFiat(got, fiatPerToken)
		if err != nil {
			t.Fatalf("invert %d/%d: %v", got, fiatPerToken, err)
		}
		if back != amount {
			t.Fatalf("round trip lost value: %d -> %d -> %d", amount, got, back)
		}
	}
}

func TestFiatRejectionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 2000; i++ {
		fiatPerToken := rng.Int63n(10_000) + 2
		// Force a non-zero remainder.
		amount := (rng.Int63n(1_000_000)+1)*fiatPerToken + rng.Int63n(fiatPerToken-1) + 1
		if _, err := FiatToTokens(amount, fiatPerToken); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d with policy %d should be rejected", amount, fiatPerToken)
		}
	}
}

func TestWeiRoundTripProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 2000; i++ {
		tokens := rng.Int63n(1 << 40)
		wei, err := TokensToWei(tokens)
		if err != nil {
			t.Fatalf("tokens %d: %v", tokens, err)
		}
		if new(big.Int).Mod(wei, WeiPerToken).Sign() != 0 {
			t.Fatalf("wei %s not a multiple of 10^18", wei)
		}
		back, err := WeiToTokens(wei)
		if err != nil {
			t.Fatalf("invert %s: %v", wei, err)
		}
		if back != tokens {
			t.Fatalf("round trip lost value: %d -> %s -> %d", tokens, wei, back)
		}
	}
}

func TestWeiToTokensRejectsInexact(t *testing.T) {
	wei := new(big.Int).Add(WeiPerToken, big.NewInt(1))
	if _, err := WeiToTokens(wei); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("inexact wei should be rejected, got %v", err)
	}
	if _, err := WeiToTokens(big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative wei should be rejected, got %v", err)
	}
	if _, err := WeiToTokens(nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil wei should be rejected, got %v", err)
	}
}

func TestFiatToWei(t *testing.T) {
	wei, err := FiatToWei(5000, 100)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(50), WeiPerToken)
	if wei.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", wei, want)
	}
}
