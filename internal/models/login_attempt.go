package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthenticationOutcome is the decision assigned to a login attempt.
// It is assigned exactly once at decision time; the only later change
// permitted is reclassification of a failure as a likely typo.
type AuthenticationOutcome string

const (
	OutcomeUndetermined                    AuthenticationOutcome = "undetermined"
	OutcomeCredentialsValid                AuthenticationOutcome = "credentials_valid"
	OutcomeCredentialsValidButBlocked      AuthenticationOutcome = "credentials_valid_but_blocked"
	OutcomeCredentialsInvalid              AuthenticationOutcome = "credentials_invalid"
	OutcomeCredentialsInvalidLikelyTypo    AuthenticationOutcome = "credentials_invalid_likely_typo"
	OutcomeCredentialsInvalidNoSuchAccount AuthenticationOutcome = "credentials_invalid_no_such_account"
)

// IsFailure reports whether the outcome belongs in the account's
// failed-attempt ledger. Valid-but-blocked attempts are recorded too so
// later typo and popularity analysis has full history.
func (o AuthenticationOutcome) IsFailure() bool {
	switch o {
	case OutcomeCredentialsInvalid, OutcomeCredentialsInvalidLikelyTypo, OutcomeCredentialsValidButBlocked:
		return true
	}
	return false
}

// LoginAttempt represents a single authentication event.
//
// The attempted password never travels or rests in plaintext: Phase1Hash
// supports credential comparison, PopularityKey supports fleet-wide
// equality counting, and SealedPassword is an anonymous-box ciphertext
// under the account's ledger public key that only becomes recoverable
// once the correct password is later supplied.
type LoginAttempt struct {
	ID                  uuid.UUID             `json:"id"`
	UsernameOrAccountID string                `json:"username_or_account_id"`
	AddressOfClient     string                `json:"address_of_client"`
	HashOfCookie        string                `json:"hash_of_cookie,omitempty"`
	TimeOfAttempt       time.Time             `json:"time_of_attempt"`
	Phase1Hash          []byte                `json:"phase1_hash,omitempty"`
	PopularityKey       string                `json:"popularity_key,omitempty"`
	SealedPassword      []byte                `json:"sealed_password,omitempty"`
	Outcome             AuthenticationOutcome `json:"outcome"`
}
