package blocking_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gatewatch/gatewatch/internal/accounts"
	"github.com/gatewatch/gatewatch/internal/blocking"
	"github.com/gatewatch/gatewatch/internal/credit"
	"github.com/gatewatch/gatewatch/internal/crypto"
	"github.com/gatewatch/gatewatch/internal/memlimit"
	"github.com/gatewatch/gatewatch/internal/models"
	"github.com/gatewatch/gatewatch/internal/popularity"
	"github.com/gatewatch/gatewatch/internal/store"
	"github.com/gatewatch/gatewatch/internal/typo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPassword   = "tr0ub4dor&3"
	testIterations = 1000
	testPepper     = "fleet-pepper"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) PasswordUnderAttack(ctx context.Context, popularityKey string, distinctAccounts int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, popularityKey)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fixture struct {
	controller *accounts.Controller
	ipLimiter  *credit.IPLimiter
	tracker    *popularity.Tracker
	notifier   *recordingNotifier
	engine     *blocking.Engine
	opts       blocking.Options
	now        time.Time
}

func newFixture(t *testing.T, limits []credit.LimitPerTimePeriod) *fixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	limiter := credit.NewLimiter(limits)
	controller := accounts.NewController(store.NewMemoryStore(), limiter, memlimit.New(0, logger), logger, accounts.WithClock(clock))

	f := &fixture{
		controller: controller,
		ipLimiter:  credit.NewIPLimiter(limits),
		tracker:    popularity.NewTracker(0),
		notifier:   &recordingNotifier{},
		now:        now,
	}
	f.opts = blocking.DefaultOptions()
	f.opts.FleetPepper = testPepper

	analyzer := typo.NewAnalyzer(controller, 0, logger)
	f.engine = blocking.NewEngine(controller, f.ipLimiter, f.tracker, analyzer, f.notifier, f.opts, logger)
	f.engine.SetClock(clock)
	return f
}

func (f *fixture) createAccount(t *testing.T, id string) {
	t.Helper()
	_, err := f.controller.CreateAccount(context.Background(), id, testPassword, testIterations)
	require.NoError(t, err)
}

func (f *fixture) evaluate(t *testing.T, id, password, address, cookie string) *models.LoginAttempt {
	t.Helper()
	attempt, err := f.engine.Evaluate(context.Background(), blocking.Request{
		UsernameOrAccountID: id,
		Password:            password,
		AddressOfClient:     address,
		DeviceCookie:        cookie,
	})
	require.NoError(t, err)
	return attempt
}

func TestEvaluate_CorrectPasswordTrustsDevice(t *testing.T) {
	f := newFixture(t, nil)
	f.createAccount(t, "alice")

	attempt := f.evaluate(t, "alice", testPassword, "203.0.113.1", "device-1")
	assert.Equal(t, models.OutcomeCredentialsValid, attempt.Outcome)
	f.engine.Wait()

	account, err := f.controller.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, account.HasTrustedCookie(crypto.HashCookie("device-1")))
	assert.Empty(t, account.RecentFailedAttempts)
}

func TestEvaluate_WrongPasswordSealedIntoLedger(t *testing.T) {
	f := newFixture(t, nil)
	f.createAccount(t, "alice")

	attempt := f.evaluate(t, "alice", "wrong-guess", "203.0.113.1", "")
	assert.Equal(t, models.OutcomeCredentialsInvalid, attempt.Outcome)

	account, err := f.controller.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, account.RecentFailedAttempts, 1)
	assert.Equal(t, models.OutcomeCredentialsInvalid, account.RecentFailedAttempts[0].Outcome)
	assert.NotEmpty(t, account.RecentFailedAttempts[0].SealedPassword,
		"the guess must be sealed under the ledger public key for later typo analysis")
}

func TestEvaluate_UnknownAccountPenalizesAddress(t *testing.T) {
	f := newFixture(t, nil)

	attempt := f.evaluate(t, "nobody", "whatever", "203.0.113.7", "")
	assert.Equal(t, models.OutcomeCredentialsInvalidNoSuchAccount, attempt.Outcome)

	// Default unknown-account penalty is 2 against an hourly limit of 3.
	assert.True(t, f.ipLimiter.HasCredit("203.0.113.7", 1, f.now))
	assert.False(t, f.ipLimiter.HasCredit("203.0.113.7", 2, f.now))
}

func TestEvaluate_GuessesExhaustCreditThenBlockOwner(t *testing.T) {
	f := newFixture(t, []credit.LimitPerTimePeriod{{Duration: time.Hour, Limit: 3}})
	f.createAccount(t, "alice")

	for i := 0; i < 3; i++ {
		attempt := f.evaluate(t, "alice", fmt.Sprintf("guess-%d", i), "198.51.100.9", "")
		assert.Equal(t, models.OutcomeCredentialsInvalid, attempt.Outcome)
	}

	// The attacker finally lands the real password, but the allowance is
	// spent. The credentials verify and the login is still refused.
	attempt := f.evaluate(t, "alice", testPassword, "198.51.100.9", "")
	assert.Equal(t, models.OutcomeCredentialsValidButBlocked, attempt.Outcome)

	account, err := f.controller.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, account.RecentFailedAttempts, 4,
		"valid-but-blocked joins the ledger alongside the wrong guesses")
}

func TestEvaluate_TrustedDeviceLogsInWithoutCredit(t *testing.T) {
	f := newFixture(t, []credit.LimitPerTimePeriod{{Duration: time.Hour, Limit: 3}})
	f.createAccount(t, "alice")

	attempt := f.evaluate(t, "alice", testPassword, "203.0.113.1", "laptop")
	require.Equal(t, models.OutcomeCredentialsValid, attempt.Outcome)
	f.engine.Wait()

	// Drain the remaining allowance with wrong guesses from elsewhere.
	f.evaluate(t, "alice", "guess-a", "198.51.100.1", "")
	f.evaluate(t, "alice", "guess-b", "198.51.100.2", "")

	blocked := f.evaluate(t, "alice", testPassword, "198.51.100.3", "")
	assert.Equal(t, models.OutcomeCredentialsValidButBlocked, blocked.Outcome,
		"an unrecognized device pays full cost against an empty balance")

	trusted := f.evaluate(t, "alice", testPassword, "203.0.113.1", "laptop")
	assert.Equal(t, models.OutcomeCredentialsValid, trusted.Outcome,
		"the known device costs nothing and gets through")
	f.engine.Wait()
}

func TestEvaluate_PopularPasswordBlocksEvenWithCredit(t *testing.T) {
	f := newFixture(t, nil)
	f.createAccount(t, "victim")

	// Eleven other accounts were recently tried with the same password.
	popularityKey := crypto.PopularityKey(testPassword, testPepper)
	for i := 0; i < 11; i++ {
		f.tracker.Observe(popularityKey, fmt.Sprintf("acct-%d", i), f.now)
	}

	attempt := f.evaluate(t, "victim", testPassword, "203.0.113.1", "")
	assert.Equal(t, models.OutcomeCredentialsValidButBlocked, attempt.Outcome,
		"twelve distinct accounts on one password is a spray, full credit or not")
	f.engine.Wait()
	assert.Equal(t, 1, f.notifier.count())

	again := f.evaluate(t, "victim", testPassword, "203.0.113.1", "")
	assert.Equal(t, models.OutcomeCredentialsValidButBlocked, again.Outcome)
	f.engine.Wait()
	assert.Equal(t, 1, f.notifier.count(), "alert fires once per password key")
}

// stallingNotifier holds every send until released, standing in for a
// slow mail provider.
type stallingNotifier struct {
	recordingNotifier
	release chan struct{}
}

func (n *stallingNotifier) PasswordUnderAttack(ctx context.Context, popularityKey string, distinctAccounts int) {
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	n.recordingNotifier.PasswordUnderAttack(ctx, popularityKey, distinctAccounts)
}

func TestEvaluate_SlowNotifierDoesNotDelayDecision(t *testing.T) {
	f := newFixture(t, nil)
	f.createAccount(t, "victim")

	stalling := &stallingNotifier{release: make(chan struct{})}
	f.engine = blocking.NewEngine(f.controller, f.ipLimiter, f.tracker, nil, stalling, f.opts,
		slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	f.engine.SetClock(func() time.Time { return f.now })

	popularityKey := crypto.PopularityKey(testPassword, testPepper)
	for i := 0; i < 11; i++ {
		f.tracker.Observe(popularityKey, fmt.Sprintf("acct-%d", i), f.now)
	}

	start := time.Now()
	attempt := f.evaluate(t, "victim", testPassword, "203.0.113.1", "")
	assert.Equal(t, models.OutcomeCredentialsValidButBlocked, attempt.Outcome)
	assert.Less(t, time.Since(start), time.Second,
		"the login decision returns while the alert send is still in flight")

	close(stalling.release)
	f.engine.Wait()
	assert.Equal(t, 1, stalling.count())
}

func TestEvaluate_UnpopularPasswordUnaffectedByOtherSpray(t *testing.T) {
	f := newFixture(t, nil)
	f.createAccount(t, "bob")

	sprayedKey := crypto.PopularityKey("Winter2026!", testPepper)
	for i := 0; i < 50; i++ {
		f.tracker.Observe(sprayedKey, fmt.Sprintf("acct-%d", i), f.now)
	}

	attempt := f.evaluate(t, "bob", testPassword, "203.0.113.1", "")
	assert.Equal(t, models.OutcomeCredentialsValid, attempt.Outcome)
	f.engine.Wait()
}

func TestEvaluate_SuccessTriggersTypoReclassification(t *testing.T) {
	f := newFixture(t, nil)
	f.createAccount(t, "alice")

	// One character off: the owner's fat-fingered attempt from home.
	f.evaluate(t, "alice", "tr0ub4dor&4", "203.0.113.5", "")

	attempt := f.evaluate(t, "alice", testPassword, "203.0.113.9", "")
	require.Equal(t, models.OutcomeCredentialsValid, attempt.Outcome)
	f.engine.Wait()

	account, err := f.controller.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, account.RecentFailedAttempts, 1)
	assert.Equal(t, models.OutcomeCredentialsInvalidLikelyTypo, account.RecentFailedAttempts[0].Outcome)
}

// degradedService refuses authoritative reads, as a node does once every
// member of the responsibility set has failed to answer.
type degradedService struct {
	cached *models.Account
}

func (s *degradedService) Get(ctx context.Context, id string) (*models.Account, error) {
	return nil, errors.New("responsibility set exhausted")
}

func (s *degradedService) TryGetCredit(ctx context.Context, id string, amount float64) (bool, error) {
	return true, nil
}

func (s *degradedService) UpdateForNewLoginAttempt(ctx context.Context, attempt *models.LoginAttempt, cacheOnly bool) error {
	return nil
}

func (s *degradedService) GetCached(id string) (*models.Account, bool) {
	if s.cached == nil {
		return nil, false
	}
	return s.cached.Clone(), true
}

func TestEvaluate_DegradesToCachedAccountState(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	phase1 := crypto.Phase1Hash(testPassword, salt, testIterations)

	svc := &degradedService{cached: &models.Account{
		UsernameOrAccountID: "alice",
		IterationCount:      testIterations,
		Salt:                salt,
		Phase2Hash:          crypto.Phase2Hash(phase1),
	}}

	opts := blocking.DefaultOptions()
	opts.FleetPepper = testPepper
	engine := blocking.NewEngine(svc, credit.NewIPLimiter(nil), popularity.NewTracker(0), nil, nil, opts, logger)

	attempt, err := engine.Evaluate(context.Background(), blocking.Request{
		UsernameOrAccountID: "alice",
		Password:            testPassword,
		AddressOfClient:     "203.0.113.1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCredentialsValid, attempt.Outcome,
		"a stale cached record still beats refusing every login during a partition")
}
