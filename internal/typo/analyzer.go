// Package typo re-scores an account's historical failed attempts once
// the correct password becomes known: a failure a small edit distance
// away from the real password was almost certainly the legitimate owner
// mistyping, not an attacker guessing.
package typo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agnivade/levenshtein"
	"github.com/gatewatch/gatewatch/internal/crypto"
	"github.com/gatewatch/gatewatch/internal/models"
)

const DefaultMaxEditDistance = 2

// AccountMutator is the slice of the accounts controller the analyzer
// needs: serialized read-modify-write on one account.
type AccountMutator interface {
	Mutate(ctx context.Context, usernameOrAccountID string, cacheOnly bool, fn func(*models.Account) error) error
}

// Analyzer reclassifies ledger entries. Reclassification is bookkeeping
// only; it never retroactively unblocks a login.
type Analyzer struct {
	accounts        AccountMutator
	maxEditDistance int
	logger          *slog.Logger
}

func NewAnalyzer(accounts AccountMutator, maxEditDistance int, logger *slog.Logger) *Analyzer {
	if maxEditDistance <= 0 {
		maxEditDistance = DefaultMaxEditDistance
	}
	return &Analyzer{accounts: accounts, maxEditDistance: maxEditDistance, logger: logger}
}

// UpdateOutcomesUsingTypoAnalysis unwraps the account's ledger key using
// the phase-1 hash of the correct password, opens each sealed failed
// attempt not from ipToExclude, and tags those within the edit-distance
// threshold as likely typos. Malformed entries are logged and skipped;
// they never abort the rest of the analysis. Returns the number of
// entries reclassified.
func (a *Analyzer) UpdateOutcomesUsingTypoAnalysis(ctx context.Context, usernameOrAccountID, correctPassword string, phase1HashOfCorrectPassword []byte, ipToExclude string) (int, error) {
	reclassified := 0

	err := a.accounts.Mutate(ctx, usernameOrAccountID, false, func(account *models.Account) error {
		privateKey, err := crypto.UnsealLedgerKey(account.SealedLedgerKey, phase1HashOfCorrectPassword)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrLedgerKeyUnavailable, err)
		}

		for i := range account.RecentFailedAttempts {
			attempt := &account.RecentFailedAttempts[i]
			if attempt.Outcome != models.OutcomeCredentialsInvalid {
				continue
			}
			if ipToExclude != "" && attempt.AddressOfClient == ipToExclude {
				continue
			}
			if len(attempt.SealedPassword) == 0 {
				continue
			}

			attemptedPassword, err := crypto.OpenAttemptPassword(attempt.SealedPassword, account.LedgerPublicKey, privateKey)
			if err != nil {
				a.logger.Warn("skipping undecryptable ledger entry",
					slog.String("attempt_id", attempt.ID.String()),
					slog.Any("error", err))
				continue
			}

			distance := levenshtein.ComputeDistance(attemptedPassword, correctPassword)
			if distance <= a.maxEditDistance {
				attempt.Outcome = models.OutcomeCredentialsInvalidLikelyTypo
				reclassified++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if reclassified > 0 {
		a.logger.Info("reclassified failed attempts as likely typos",
			slog.String("account", usernameOrAccountID),
			slog.Int("count", reclassified))
	}
	return reclassified, nil
}
