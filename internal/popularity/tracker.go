// Package popularity counts how many distinct accounts have recently
// been tried with the same password. Under the null hypothesis that
// users pick passwords independently, a large distinct-account count for
// one exact password is statistically surprising and is the signature of
// a leaked-password list being sprayed across the fleet.
package popularity

import (
	"sync"
	"time"
)

type passwordStats struct {
	// account id -> last time this (password, account) pair was seen.
	accounts map[string]time.Time
	lastSeen time.Time
}

// Tracker records (popularity key, account) observations inside a
// sliding window. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	stats  map[string]*passwordStats
}

const DefaultWindow = 24 * time.Hour

func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{window: window, stats: make(map[string]*passwordStats)}
}

// Observe records that an account was tried with the password identified
// by popularityKey, and returns the distinct-account count after the
// observation.
func (t *Tracker) Observe(popularityKey, usernameOrAccountID string, now time.Time) int {
	if popularityKey == "" || usernameOrAccountID == "" {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[popularityKey]
	if !ok {
		s = &passwordStats{accounts: make(map[string]time.Time)}
		t.stats[popularityKey] = s
	}
	s.accounts[usernameOrAccountID] = now
	s.lastSeen = now
	return len(s.accounts)
}

// DistinctAccounts returns the number of distinct accounts recently
// observed with this password.
func (t *Tracker) DistinctAccounts(popularityKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.stats[popularityKey]; ok {
		return len(s.accounts)
	}
	return 0
}

// TrackedPasswords returns the number of password keys currently held.
func (t *Tracker) TrackedPasswords() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stats)
}

// Sweep expires observations older than the window and drops empty
// buckets. Returns the number of password keys removed.
func (t *Tracker) Sweep(now time.Time) int {
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, s := range t.stats {
		if s.lastSeen.Before(cutoff) {
			delete(t.stats, key)
			removed++
			continue
		}
		for account, seen := range s.accounts {
			if seen.Before(cutoff) {
				delete(s.accounts, account)
			}
		}
		if len(s.accounts) == 0 {
			delete(t.stats, key)
			removed++
		}
	}
	return removed
}
