package chain

import "testing"

func TestValidAddress(t *testing.T) {
	valid := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x0000000000000000000000000000000000000001",
	}
	for _, addr := range valid {
		if !ValidAddress(addr) {
			t.Fatalf("%s should be valid", addr)
		}
	}

	invalid := []string{
		"",
		"0x",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAe",    // short
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed1", // long
		"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",    // no prefix
		"0xZZAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",  // bad hex
	}
	for _, addr := range invalid {
		if ValidAddress(addr) {
			t.Fatalf("%s should be invalid", addr)
		}
	}
}

func TestChecksumAddress(t *testing.T) {
	// Reference vectors from the EIP-55 definition.
	cases := map[string]string{
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359": "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb": "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	}
	for in, want := range cases {
		if got := ChecksumAddress(in); got != want {
			t.Fatalf("checksum(%s) = %s, want %s", in, got, want)
		}
	}
}
