// Package keyvault generates custodial wallet key material and protects it
// at rest. The keystore document is sealed under a server-held AES-256-GCM
// envelope key; the one-time keystore password is discarded immediately and
// the plaintext private key is never persisted.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const (
	envelopeKeyLen = 32 // AES-256
	nonceLen       = 12 // 96-bit GCM nonce
)

// ErrDecryptionFailed is returned on any tag mismatch or malformed input.
// Partial plaintext is never returned.
var ErrDecryptionFailed = errors.New("keyvault: decryption failed")

// Cipher seals and opens envelopes with a fixed symmetric key. The key is
// provisioned externally through configuration.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != envelopeKeyLen {
		return nil, fmt.Errorf("keyvault: envelope key must be %d bytes, got %d", envelopeKeyLen, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keyvault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keyvault: init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext || tag).
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("keyvault: nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It fails closed on malformed input or an
// authentication failure.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(sealed) < nonceLen+c.aead.Overhead() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := c.aead.Open(nil, sealed[:nonceLen], sealed[nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Vault creates custodial wallets.
type Vault struct {
	cipher *Cipher
}

// New creates a Vault over the given envelope cipher.
func New(cipher *Cipher) *Vault {
	return &Vault{cipher: cipher}
}

// CreateCustodialWallet generates a fresh key pair, serializes a standard
// encrypted-keystore document under a single-use random password, and seals
// the whole document under the envelope key. It returns the derived address
// and the sealed keystore.
func (v *Vault) CreateCustodialWallet() (string, string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("keyvault: generate key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	password, err := oneTimePassword()
	if err != nil {
		return "", "", err
	}

	ksKey := &keystore.Key{
		Id:         uuid.New(),
		Address:    address,
		PrivateKey: key,
	}
	document, err := keystore.EncryptKey(ksKey, password, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return "", "", fmt.Errorf("keyvault: encrypt keystore: %w", err)
	}

	sealed, err := v.cipher.Encrypt(document)
	if err != nil {
		return "", "", err
	}
	return address.Hex(), sealed, nil
}

// OpenKeystore unseals the keystore document. The inner scrypt password was
// discarded at creation, so the document itself is the recovery boundary.
func (v *Vault) OpenKeystore(sealed string) ([]byte, error) {
	return v.cipher.Decrypt(sealed)
}

func oneTimePassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("keyvault: password entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
