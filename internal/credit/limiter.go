// Package credit implements the consumable multi-window guess allowance
// for accounts and source IPs. Each window replenishes continuously at
// limit/duration (leaky-bucket, no reset-time spike) and a debit is
// all-or-nothing across every configured window.
package credit

import (
	"time"

	"github.com/gatewatch/gatewatch/internal/models"
)

// LimitPerTimePeriod is one configured credit window.
type LimitPerTimePeriod struct {
	Duration time.Duration
	Limit    float64
}

// DefaultLimits returns the stock window ladder: 3 per hour, 6 per day,
// 10 per week, 15 per 30 days.
func DefaultLimits() []LimitPerTimePeriod {
	return []LimitPerTimePeriod{
		{Duration: time.Hour, Limit: 3},
		{Duration: 24 * time.Hour, Limit: 6},
		{Duration: 7 * 24 * time.Hour, Limit: 10},
		{Duration: 30 * 24 * time.Hour, Limit: 15},
	}
}

// Limiter applies a window ladder to the balances stored on an account.
// It holds no per-account state itself; serialization per account is the
// caller's responsibility (the accounts controller's per-key lock).
type Limiter struct {
	limits []LimitPerTimePeriod
}

func NewLimiter(limits []LimitPerTimePeriod) *Limiter {
	if len(limits) == 0 {
		limits = DefaultLimits()
	}
	return &Limiter{limits: limits}
}

// Limits returns the configured window ladder.
func (l *Limiter) Limits() []LimitPerTimePeriod { return l.limits }

// InitBalances fills every window to capacity, for newly created
// accounts or accounts whose stored balances predate a config change.
func (l *Limiter) InitBalances(account *models.Account, now time.Time) {
	balances := make([]float64, len(l.limits))
	for i, limit := range l.limits {
		balances[i] = limit.Limit
	}
	account.CreditBalances = balances
	account.CreditLastReplenish = now
}

// replenish tops balances up for the time elapsed since the last debit,
// capped at each window's limit.
func (l *Limiter) replenish(account *models.Account, now time.Time) {
	if len(account.CreditBalances) != len(l.limits) {
		l.InitBalances(account, now)
		return
	}
	elapsed := now.Sub(account.CreditLastReplenish)
	if elapsed <= 0 {
		return
	}
	for i, limit := range l.limits {
		regenerated := limit.Limit * (elapsed.Seconds() / limit.Duration.Seconds())
		account.CreditBalances[i] += regenerated
		if account.CreditBalances[i] > limit.Limit {
			account.CreditBalances[i] = limit.Limit
		}
	}
	account.CreditLastReplenish = now
}

// TryGetCredit atomically checks that every window has at least amount
// available; if so it debits all of them and returns true, otherwise it
// leaves every balance untouched and returns false. Partial debits are
// forbidden so a request that fails one window cannot silently consume
// another.
func (l *Limiter) TryGetCredit(account *models.Account, amount float64, now time.Time) bool {
	if amount <= 0 {
		return true
	}
	l.replenish(account, now)

	for _, balance := range account.CreditBalances {
		if balance < amount {
			return false
		}
	}
	for i := range account.CreditBalances {
		account.CreditBalances[i] -= amount
	}
	return true
}
