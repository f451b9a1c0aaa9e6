package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keyLength   = 32
	nonceLength = 24
)

// LedgerKeyPair is the one-way mailbox for an account's failed-attempt
// ledger. PublicKey is stored in clear so any node can seal a failed
// attempt; SealedPrivateKey is a secretbox under a key derived from the
// phase-1 hash of the correct password, so the mailbox opens only after
// the owner authenticates.
type LedgerKeyPair struct {
	PublicKey        []byte
	SealedPrivateKey []byte
}

// NewLedgerKeyPair generates a key pair and wraps the private half under
// the account's phase-1 hash.
func NewLedgerKeyPair(phase1 []byte) (*LedgerKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ledger key pair: %w", err)
	}

	wrapKey, err := deriveWrapKey(phase1)
	if err != nil {
		return nil, err
	}

	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], priv[:], &nonce, wrapKey)
	return &LedgerKeyPair{PublicKey: pub[:], SealedPrivateKey: sealed}, nil
}

// UnsealLedgerKey recovers the private key given the phase-1 hash of the
// correct password.
func UnsealLedgerKey(sealedPrivateKey, phase1 []byte) ([]byte, error) {
	if len(sealedPrivateKey) < nonceLength {
		return nil, fmt.Errorf("sealed ledger key too short")
	}

	wrapKey, err := deriveWrapKey(phase1)
	if err != nil {
		return nil, err
	}

	var nonce [nonceLength]byte
	copy(nonce[:], sealedPrivateKey[:nonceLength])

	priv, ok := secretbox.Open(nil, sealedPrivateKey[nonceLength:], &nonce, wrapKey)
	if !ok {
		return nil, fmt.Errorf("ledger key unseal failed")
	}
	return priv, nil
}

// SealAttemptPassword encrypts an attempted password so that only the
// holder of the ledger private key can read it later.
func SealAttemptPassword(password string, ledgerPublicKey []byte) ([]byte, error) {
	if len(ledgerPublicKey) != keyLength {
		return nil, fmt.Errorf("invalid ledger public key length %d", len(ledgerPublicKey))
	}
	var pub [keyLength]byte
	copy(pub[:], ledgerPublicKey)

	sealed, err := box.SealAnonymous(nil, []byte(password), &pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to seal attempt password: %w", err)
	}
	return sealed, nil
}

// OpenAttemptPassword decrypts a sealed attempted password using the
// unwrapped ledger private key.
func OpenAttemptPassword(sealed, ledgerPublicKey, ledgerPrivateKey []byte) (string, error) {
	if len(ledgerPublicKey) != keyLength || len(ledgerPrivateKey) != keyLength {
		return "", fmt.Errorf("invalid ledger key length")
	}
	var pub, priv [keyLength]byte
	copy(pub[:], ledgerPublicKey)
	copy(priv[:], ledgerPrivateKey)

	plain, ok := box.OpenAnonymous(nil, sealed, &pub, &priv)
	if !ok {
		return "", fmt.Errorf("attempt password unseal failed")
	}
	return string(plain), nil
}

func deriveWrapKey(phase1 []byte) (*[keyLength]byte, error) {
	reader := hkdf.New(sha256.New, phase1, nil, []byte("ledger-key-wrap"))
	key := new([keyLength]byte)
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive wrap key: %w", err)
	}
	return key, nil
}
