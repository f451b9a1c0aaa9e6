package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultIterationCount = 60000
	SaltLength            = 16
	phase1KeyLength       = 32
)

// Phase1Hash derives the expensive, per-account-salted hash of a
// password. It is deterministic for a fixed (password, salt, iterations)
// so the same value can wrap the account's ledger key, but it is never
// persisted; only its SHA-256 (the phase-2 hash) is stored.
func Phase1Hash(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, phase1KeyLength, sha256.New)
}

// Phase2Hash is the stored form of a credential: a cheap hash of the
// expensive phase-1 hash.
func Phase2Hash(phase1 []byte) []byte {
	sum := sha256.Sum256(phase1)
	return sum[:]
}

// VerifyPhase1 compares a candidate phase-1 hash against the stored
// phase-2 hash in constant time.
func VerifyPhase1(phase1, storedPhase2 []byte) bool {
	sum := sha256.Sum256(phase1)
	return subtle.ConstantTimeCompare(sum[:], storedPhase2) == 1
}

// NewSalt returns a fresh random credential salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// HashCookie produces the stored form of a device cookie.
func HashCookie(cookie string) string {
	if cookie == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(cookie))
	return hex.EncodeToString(sum[:])
}

// PopularityKey derives the fleet-wide equality key for a password.
// Every node shares the pepper, so identical passwords tried against
// different accounts count toward the same popularity bucket, while the
// key alone does not reveal the password to anyone without the pepper.
func PopularityKey(password, fleetPepper string) string {
	mac := hmac.New(sha256.New, []byte(fleetPepper))
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}
