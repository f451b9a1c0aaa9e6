// Package blocking combines credit state, password popularity, and
// account/IP history into the allow/block decision for a login attempt.
package blocking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewatch/gatewatch/internal/credit"
	"github.com/gatewatch/gatewatch/internal/crypto"
	"github.com/gatewatch/gatewatch/internal/distribution"
	"github.com/gatewatch/gatewatch/internal/models"
	"github.com/gatewatch/gatewatch/internal/popularity"
	"github.com/google/uuid"
)

// AccountService is the slice of account operations the engine needs.
// It is satisfied by both the local accounts controller and the
// replicated client, so a node evaluates the same way whether or not it
// owns the shard.
type AccountService interface {
	Get(ctx context.Context, usernameOrAccountID string) (*models.Account, error)
	TryGetCredit(ctx context.Context, usernameOrAccountID string, amount float64) (bool, error)
	UpdateForNewLoginAttempt(ctx context.Context, attempt *models.LoginAttempt, cacheOnly bool) error
}

// cachedGetter is implemented by services that can serve a possibly
// stale local copy when the responsibility set is unreachable.
type cachedGetter interface {
	GetCached(usernameOrAccountID string) (*models.Account, bool)
}

// TypoAnalyzer re-scores past failures after a success; launched in the
// background, never on the login's critical path.
type TypoAnalyzer interface {
	UpdateOutcomesUsingTypoAnalysis(ctx context.Context, usernameOrAccountID, correctPassword string, phase1HashOfCorrectPassword []byte, ipToExclude string) (int, error)
}

// AttackNotifier receives a best-effort signal the first time a password
// crosses the popularity threshold.
type AttackNotifier interface {
	PasswordUnderAttack(ctx context.Context, popularityKey string, distinctAccounts int)
}

// Request is one login attempt as presented by the caller.
type Request struct {
	UsernameOrAccountID string
	Password            string
	AddressOfClient     string
	DeviceCookie        string
	ClientClaimedTime   time.Time
}

// Engine evaluates login attempts.
type Engine struct {
	accounts      AccountService
	ipLimiter     *credit.IPLimiter
	tracker       *popularity.Tracker
	distributions *distribution.Cache
	typos         TypoAnalyzer
	notifier      AttackNotifier
	opts          Options
	logger        *slog.Logger
	now           func() time.Time

	alertedMu sync.Mutex
	alerted   map[string]bool

	// background typo analyses and alert sends in flight, so tests and
	// shutdown can wait.
	background sync.WaitGroup
}

func NewEngine(accounts AccountService, ipLimiter *credit.IPLimiter, tracker *popularity.Tracker, typos TypoAnalyzer, notifier AttackNotifier, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		accounts:      accounts,
		ipLimiter:     ipLimiter,
		tracker:       tracker,
		distributions: distribution.NewCache(),
		typos:         typos,
		notifier:      notifier,
		opts:          opts,
		logger:        logger,
		now:           time.Now,
		alerted:       make(map[string]bool),
	}
}

// SetClock substitutes the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Wait blocks until background analyses launched so far have finished.
func (e *Engine) Wait() { e.background.Wait() }

// Evaluate decides one login attempt and folds the result into the
// owning account's record. Callers only ever see a decided attempt or an
// explicit error after the responsibility set is exhausted.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*models.LoginAttempt, error) {
	now := e.now()
	attemptTime := req.ClientClaimedTime
	if attemptTime.IsZero() {
		attemptTime = now
	}

	attempt := &models.LoginAttempt{
		ID:                  uuid.New(),
		UsernameOrAccountID: req.UsernameOrAccountID,
		AddressOfClient:     req.AddressOfClient,
		HashOfCookie:        crypto.HashCookie(req.DeviceCookie),
		TimeOfAttempt:       attemptTime,
		PopularityKey:       crypto.PopularityKey(req.Password, e.opts.FleetPepper),
		Outcome:             models.OutcomeUndetermined,
	}

	account, err := e.lookupAccount(ctx, req.UsernameOrAccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Unresolvable keys are a normal outcome, and attackers
			// enumerating usernames still pay for the privilege.
			attempt.Outcome = models.OutcomeCredentialsInvalidNoSuchAccount
			e.ipLimiter.Penalize(req.AddressOfClient, e.opts.IPPenaltyUnknownAccount, now)
			return attempt, nil
		}
		return nil, err
	}

	// Popularity bookkeeping happens for every attempt, matching or not:
	// the spray signature is "same password, many accounts", independent
	// of whether any single guess landed.
	distinct := e.tracker.Observe(attempt.PopularityKey, req.UsernameOrAccountID, now)
	popularitySuspicious := e.popularitySuspicious(attempt.PopularityKey, distinct)

	phase1 := crypto.Phase1Hash(req.Password, account.Salt, account.IterationCount)
	attempt.Phase1Hash = phase1

	if !crypto.VerifyPhase1(phase1, account.Phase2Hash) {
		attempt.Outcome = models.OutcomeCredentialsInvalid
		if e.opts.InvalidGuessCreditCost > 0 {
			if _, err := e.accounts.TryGetCredit(ctx, req.UsernameOrAccountID, e.opts.InvalidGuessCreditCost); err != nil {
				e.logger.Warn("credit debit for invalid guess unavailable",
					slog.String("account", req.UsernameOrAccountID),
					slog.Any("error", err))
			}
		}
		e.ipLimiter.Penalize(req.AddressOfClient, e.opts.IPPenaltyInvalidPassword, now)
		e.sealIntoAttempt(attempt, req.Password, account)
		e.recordAttempt(ctx, attempt)
		return attempt, nil
	}

	// Correct password. Whether we let it through depends on the credit
	// and popularity signals.
	cost := e.opts.BaseCreditCost
	if account.HasTrustedCookie(attempt.HashOfCookie) {
		cost = e.opts.TrustedDeviceCreditCost
	}

	creditOK := true
	if cost > 0 {
		granted, err := e.accounts.TryGetCredit(ctx, req.UsernameOrAccountID, cost)
		if err != nil {
			// Degrade to availability: a partitioned replica set must not
			// lock every account it serves.
			e.logger.Warn("credit check unavailable, failing open",
				slog.String("account", req.UsernameOrAccountID),
				slog.Any("error", err))
		} else {
			creditOK = granted
		}
	}

	ipOK := e.ipLimiter.TryGetCredit(req.AddressOfClient, e.opts.IPCreditCostValidPassword, now)

	if creditOK && ipOK && !popularitySuspicious {
		attempt.Outcome = models.OutcomeCredentialsValid
		e.recordAttempt(ctx, attempt)
		e.launchTypoAnalysis(req, phase1)
		return attempt, nil
	}

	// The deliberately dangerous state: the password was right and we
	// still refuse the login. Recorded like any failure so later typo
	// and popularity analysis sees the full history.
	attempt.Outcome = models.OutcomeCredentialsValidButBlocked
	e.sealIntoAttempt(attempt, req.Password, account)
	e.recordAttempt(ctx, attempt)
	return attempt, nil
}

// lookupAccount fetches through the account service, degrading to a
// possibly stale cached copy when the responsibility set is exhausted.
func (e *Engine) lookupAccount(ctx context.Context, usernameOrAccountID string) (*models.Account, error) {
	account, err := e.accounts.Get(ctx, usernameOrAccountID)
	if err == nil || errors.Is(err, models.ErrNotFound) {
		return account, err
	}

	if cg, ok := e.accounts.(cachedGetter); ok {
		if cached, hit := cg.GetCached(usernameOrAccountID); hit {
			e.logger.Warn("responsibility set unreachable, using cached account state",
				slog.String("account", usernameOrAccountID),
				slog.Any("error", err))
			return cached, nil
		}
	}
	return nil, err
}

// popularitySuspicious asks the binomial model how unlikely the distinct
// account count is under the null hypothesis of independent choices.
func (e *Engine) popularitySuspicious(popularityKey string, distinct int) bool {
	if distinct < e.opts.PopularityMinAccounts {
		return false
	}
	tail := e.distributions.For(distinct).ProbAtLeast(distinct)
	if tail >= e.opts.PopularityBlockThreshold {
		return false
	}

	e.alertOnce(popularityKey, distinct)
	return true
}

// alertOnce fires the spray alert the first time a popularity key trips
// the threshold. The send runs in the background; the login that
// detected the spray never waits on the notifier.
func (e *Engine) alertOnce(popularityKey string, distinct int) {
	if e.notifier == nil {
		return
	}
	e.alertedMu.Lock()
	already := e.alerted[popularityKey]
	if !already {
		e.alerted[popularityKey] = true
	}
	e.alertedMu.Unlock()
	if already {
		return
	}

	e.background.Add(1)
	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.notifier.PasswordUnderAttack(ctx, popularityKey, distinct)
	}()
}

// sealIntoAttempt encrypts the attempted password under the account's
// ledger public key. Failure to seal is logged and the attempt is still
// recorded, just without typo-analysis material.
func (e *Engine) sealIntoAttempt(attempt *models.LoginAttempt, password string, account *models.Account) {
	sealed, err := crypto.SealAttemptPassword(password, account.LedgerPublicKey)
	if err != nil {
		e.logger.Warn("failed to seal attempted password for ledger",
			slog.String("account", attempt.UsernameOrAccountID),
			slog.Any("error", err))
		return
	}
	attempt.SealedPassword = sealed
}

// recordAttempt writes the decided attempt into the account record.
// Recording failures are logged, not surfaced: the decision stands even
// if the bookkeeping write has to be retried by replication later.
func (e *Engine) recordAttempt(ctx context.Context, attempt *models.LoginAttempt) {
	if err := e.accounts.UpdateForNewLoginAttempt(ctx, attempt, false); err != nil {
		e.logger.Error("failed to record login attempt",
			slog.String("account", attempt.UsernameOrAccountID),
			slog.String("outcome", string(attempt.Outcome)),
			slog.Any("error", err))
	}
}

// launchTypoAnalysis kicks off background reclassification of past
// failures now that the correct password is known. The triggering
// login's response never waits on it.
func (e *Engine) launchTypoAnalysis(req Request, phase1 []byte) {
	if e.typos == nil {
		return
	}
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := e.typos.UpdateOutcomesUsingTypoAnalysis(ctx, req.UsernameOrAccountID, req.Password, phase1, req.AddressOfClient); err != nil {
			e.logger.Warn("background typo analysis failed",
				slog.String("account", req.UsernameOrAccountID),
				slog.Any("error", err))
		}
	}()
}
