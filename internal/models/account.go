package models

import (
	"time"
)

// CredentialAlgPBKDF2SHA256 is the only phase-1 hash algorithm currently
// issued for new accounts. The tag is stored per account so the scheme
// can be rotated without invalidating existing credentials.
const CredentialAlgPBKDF2SHA256 = "pbkdf2-sha256"

// Account represents one protected identity and everything the blocking
// algorithm knows about it.
//
// The ledger key pair works like a one-way mailbox: failed attempts are
// sealed with LedgerPublicKey by any node, while the matching private key
// is stored only in SealedLedgerKey, wrapped under a key derived from the
// phase-1 hash of the correct password. Past failures therefore become
// readable only after the account owner authenticates.
type Account struct {
	UsernameOrAccountID string `json:"username_or_account_id"`

	// Credential material. Phase2Hash = SHA-256(phase1(password, salt));
	// the phase-1 hash itself is never stored.
	CredentialAlg  string `json:"credential_alg"`
	IterationCount int    `json:"iteration_count"`
	Salt           []byte `json:"salt"`
	Phase2Hash     []byte `json:"phase2_hash"`

	// Credit balances, one per configured time window, parallel to the
	// limiter's window list. Replenished continuously; see credit package.
	CreditBalances      []float64 `json:"credit_balances"`
	CreditLastReplenish time.Time `json:"credit_last_replenish"`

	// Hashes of device cookies that have successfully authenticated.
	// Grows on success, never shrinks automatically.
	TrustedDeviceCookieHashes map[string]bool `json:"trusted_device_cookie_hashes"`

	// Failed-attempt ledger, newest first, capped by configuration.
	RecentFailedAttempts []LoginAttempt `json:"recent_failed_attempts"`

	LedgerPublicKey []byte `json:"ledger_public_key"`
	SealedLedgerKey []byte `json:"sealed_ledger_key"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTrustedCookie reports whether the hashed device cookie has
// successfully authenticated against this account before.
func (a *Account) HasTrustedCookie(hashOfCookie string) bool {
	if hashOfCookie == "" {
		return false
	}
	return a.TrustedDeviceCookieHashes[hashOfCookie]
}

// RecordTrustedCookie inserts the hashed cookie into the trust set.
// Idempotent; set semantics.
func (a *Account) RecordTrustedCookie(hashOfCookie string) {
	if hashOfCookie == "" {
		return
	}
	if a.TrustedDeviceCookieHashes == nil {
		a.TrustedDeviceCookieHashes = make(map[string]bool)
	}
	a.TrustedDeviceCookieHashes[hashOfCookie] = true
}

// PrependFailedAttempt pushes an attempt onto the front of the ledger,
// evicting the oldest entries beyond cap.
func (a *Account) PrependFailedAttempt(attempt LoginAttempt, cap int) {
	a.RecentFailedAttempts = append([]LoginAttempt{attempt}, a.RecentFailedAttempts...)
	if cap > 0 && len(a.RecentFailedAttempts) > cap {
		a.RecentFailedAttempts = a.RecentFailedAttempts[:cap]
	}
}

// Clone returns a copy that shares no mutable state with the receiver,
// so cached records can be handed out without aliasing the copy that
// mutations are serialized on.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Salt = append([]byte(nil), a.Salt...)
	clone.Phase2Hash = append([]byte(nil), a.Phase2Hash...)
	clone.CreditBalances = append([]float64(nil), a.CreditBalances...)
	clone.LedgerPublicKey = append([]byte(nil), a.LedgerPublicKey...)
	clone.SealedLedgerKey = append([]byte(nil), a.SealedLedgerKey...)
	if a.TrustedDeviceCookieHashes != nil {
		clone.TrustedDeviceCookieHashes = make(map[string]bool, len(a.TrustedDeviceCookieHashes))
		for h := range a.TrustedDeviceCookieHashes {
			clone.TrustedDeviceCookieHashes[h] = true
		}
	}
	clone.RecentFailedAttempts = append([]LoginAttempt(nil), a.RecentFailedAttempts...)
	return &clone
}

// ApproximateSizeBytes estimates the in-memory footprint of the account
// for cache accounting. It intentionally overcounts slightly rather than
// chasing exact allocator numbers.
func (a *Account) ApproximateSizeBytes() int64 {
	size := int64(256) // struct overhead, timestamps, counters
	size += int64(len(a.UsernameOrAccountID) + len(a.Salt) + len(a.Phase2Hash))
	size += int64(len(a.LedgerPublicKey) + len(a.SealedLedgerKey))
	size += int64(len(a.CreditBalances) * 8)
	for h := range a.TrustedDeviceCookieHashes {
		size += int64(len(h)) + 16
	}
	for i := range a.RecentFailedAttempts {
		att := &a.RecentFailedAttempts[i]
		size += int64(len(att.UsernameOrAccountID)+len(att.AddressOfClient)+len(att.HashOfCookie)) +
			int64(len(att.Phase1Hash)+len(att.PopularityKey)+len(att.SealedPassword)) + 128
	}
	return size
}
