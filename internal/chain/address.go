package chain

import (
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s matches the strict hex-address pattern.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ChecksumAddress returns s in EIP-55 mixed-case form. The input must
// already satisfy ValidAddress.
func ChecksumAddress(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, "0x"))

	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(lower))
	digest := hash.Sum(nil)

	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			nibble := digest[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out)
}
