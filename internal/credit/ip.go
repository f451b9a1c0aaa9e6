package credit

import (
	"sync"
	"time"
)

// ipBucket carries the window balances for one source address.
type ipBucket struct {
	balances      []float64
	lastReplenish time.Time
	lastTouched   time.Time
}

// IPLimiter tracks guess credit per source IP, independent of any
// account's balances. Buckets are created lazily and swept once idle
// longer than the widest window.
type IPLimiter struct {
	mu      sync.Mutex
	limits  []LimitPerTimePeriod
	buckets map[string]*ipBucket
}

func NewIPLimiter(limits []LimitPerTimePeriod) *IPLimiter {
	if len(limits) == 0 {
		limits = DefaultLimits()
	}
	return &IPLimiter{
		limits:  limits,
		buckets: make(map[string]*ipBucket),
	}
}

// TryGetCredit debits amount from every window for the address,
// all-or-nothing, mirroring the account-side semantics.
func (l *IPLimiter) TryGetCredit(address string, amount float64, now time.Time) bool {
	if address == "" || amount <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(address, now)
	for _, balance := range b.balances {
		if balance < amount {
			return false
		}
	}
	for i := range b.balances {
		b.balances[i] -= amount
	}
	return true
}

// Penalize debits amount from every window without the all-or-nothing
// check, flooring at zero. Used to charge failed guesses and guesses
// against nonexistent accounts, where "insufficient credit" is not a
// reason to skip the charge.
func (l *IPLimiter) Penalize(address string, amount float64, now time.Time) {
	if address == "" || amount <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(address, now)
	for i := range b.balances {
		b.balances[i] -= amount
		if b.balances[i] < 0 {
			b.balances[i] = 0
		}
	}
}

// HasCredit reports whether every window holds at least amount without
// debiting anything.
func (l *IPLimiter) HasCredit(address string, amount float64, now time.Time) bool {
	if address == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(address, now)
	for _, balance := range b.balances {
		if balance < amount {
			return false
		}
	}
	return true
}

// Sweep drops buckets idle longer than the widest configured window;
// such a bucket has fully replenished and is indistinguishable from a
// fresh one. Returns the number of buckets removed.
func (l *IPLimiter) Sweep(now time.Time) int {
	var widest time.Duration
	for _, limit := range l.limits {
		if limit.Duration > widest {
			widest = limit.Duration
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for address, b := range l.buckets {
		if now.Sub(b.lastTouched) > widest {
			delete(l.buckets, address)
			removed++
		}
	}
	return removed
}

// TrackedAddresses returns the number of live buckets.
func (l *IPLimiter) TrackedAddresses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// bucketFor returns the replenished bucket for an address, creating a
// full one on first sight. Caller holds l.mu.
func (l *IPLimiter) bucketFor(address string, now time.Time) *ipBucket {
	b, ok := l.buckets[address]
	if !ok {
		balances := make([]float64, len(l.limits))
		for i, limit := range l.limits {
			balances[i] = limit.Limit
		}
		b = &ipBucket{balances: balances, lastReplenish: now, lastTouched: now}
		l.buckets[address] = b
		return b
	}

	elapsed := now.Sub(b.lastReplenish)
	if elapsed > 0 {
		for i, limit := range l.limits {
			b.balances[i] += limit.Limit * (elapsed.Seconds() / limit.Duration.Seconds())
			if b.balances[i] > limit.Limit {
				b.balances[i] = limit.Limit
			}
		}
		b.lastReplenish = now
	}
	b.lastTouched = now
	return b
}
