package credit_test

import (
	"testing"
	"time"

	"github.com/gatewatch/gatewatch/internal/credit"
	"github.com/gatewatch/gatewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount(limiter *credit.Limiter, now time.Time) *models.Account {
	account := &models.Account{UsernameOrAccountID: "alice"}
	limiter.InitBalances(account, now)
	return account
}

func TestTryGetCredit_SucceedsAtMostLimitTimes(t *testing.T) {
	limiter := credit.NewLimiter([]credit.LimitPerTimePeriod{
		{Duration: time.Hour, Limit: 5},
	})
	now := time.Now()
	account := newTestAccount(limiter, now)

	successes := 0
	for i := 0; i < 20; i++ {
		if limiter.TryGetCredit(account, 1, now) {
			successes++
		}
	}

	assert.Equal(t, 5, successes)
	for _, balance := range account.CreditBalances {
		assert.GreaterOrEqual(t, balance, 0.0, "balance must never go negative")
	}
}

func TestTryGetCredit_AllOrNothingAcrossWindows(t *testing.T) {
	limiter := credit.NewLimiter([]credit.LimitPerTimePeriod{
		{Duration: time.Hour, Limit: 2},
		{Duration: 24 * time.Hour, Limit: 10},
	})
	now := time.Now()
	account := newTestAccount(limiter, now)

	require.True(t, limiter.TryGetCredit(account, 1, now))
	require.True(t, limiter.TryGetCredit(account, 1, now))

	// Hourly window is dry; the daily window must not be debited by the
	// failing request.
	dailyBefore := account.CreditBalances[1]
	assert.False(t, limiter.TryGetCredit(account, 1, now))
	assert.Equal(t, dailyBefore, account.CreditBalances[1])
	assert.Equal(t, 0.0, account.CreditBalances[0])
}

func TestTryGetCredit_ContinuousReplenishment(t *testing.T) {
	limiter := credit.NewLimiter([]credit.LimitPerTimePeriod{
		{Duration: time.Hour, Limit: 4},
	})
	now := time.Now()
	account := newTestAccount(limiter, now)

	for i := 0; i < 4; i++ {
		require.True(t, limiter.TryGetCredit(account, 1, now))
	}
	require.False(t, limiter.TryGetCredit(account, 1, now))

	// Half an hour regenerates half the window: 2 credits.
	later := now.Add(30 * time.Minute)
	assert.True(t, limiter.TryGetCredit(account, 1, later))
	assert.True(t, limiter.TryGetCredit(account, 1, later))
	assert.False(t, limiter.TryGetCredit(account, 1, later))
}

func TestTryGetCredit_ReplenishmentCapsAtLimit(t *testing.T) {
	limiter := credit.NewLimiter([]credit.LimitPerTimePeriod{
		{Duration: time.Hour, Limit: 3},
	})
	now := time.Now()
	account := newTestAccount(limiter, now)

	require.True(t, limiter.TryGetCredit(account, 1, now))

	// A week of idle time must not stockpile more than the limit.
	muchLater := now.Add(7 * 24 * time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, limiter.TryGetCredit(account, 1, muchLater))
	}
	assert.False(t, limiter.TryGetCredit(account, 1, muchLater))
}

func TestTryGetCredit_ReinitializesOnWindowMismatch(t *testing.T) {
	limiter := credit.NewLimiter(credit.DefaultLimits())
	now := time.Now()

	// Account persisted under an older two-window configuration.
	account := &models.Account{
		UsernameOrAccountID: "bob",
		CreditBalances:      []float64{1, 1},
		CreditLastReplenish: now.Add(-time.Hour),
	}

	assert.True(t, limiter.TryGetCredit(account, 1, now))
	assert.Len(t, account.CreditBalances, len(credit.DefaultLimits()))
}

func TestIPLimiter_PenalizeFloorsAtZero(t *testing.T) {
	limiter := credit.NewIPLimiter([]credit.LimitPerTimePeriod{
		{Duration: time.Hour, Limit: 2},
	})
	now := time.Now()

	limiter.Penalize("203.0.113.7", 10, now)
	assert.False(t, limiter.HasCredit("203.0.113.7", 1, now))

	// Floored at zero, so an hour later the bucket is full again rather
	// than still paying off a deficit.
	assert.True(t, limiter.HasCredit("203.0.113.7", 2, now.Add(time.Hour)))
}

func TestIPLimiter_IndependentAddresses(t *testing.T) {
	limiter := credit.NewIPLimiter([]credit.LimitPerTimePeriod{
		{Duration: time.Hour, Limit: 1},
	})
	now := time.Now()

	assert.True(t, limiter.TryGetCredit("198.51.100.1", 1, now))
	assert.False(t, limiter.TryGetCredit("198.51.100.1", 1, now))
	assert.True(t, limiter.TryGetCredit("198.51.100.2", 1, now))
}

func TestIPLimiter_SweepDropsIdleBuckets(t *testing.T) {
	limiter := credit.NewIPLimiter([]credit.LimitPerTimePeriod{
		{Duration: time.Hour, Limit: 3},
	})
	now := time.Now()

	limiter.TryGetCredit("192.0.2.1", 1, now)
	limiter.TryGetCredit("192.0.2.2", 1, now.Add(30*time.Minute))
	require.Equal(t, 2, limiter.TrackedAddresses())

	removed := limiter.Sweep(now.Add(90 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, limiter.TrackedAddresses())
}
