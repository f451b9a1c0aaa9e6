// Package accounts owns the authoritative and cached account records on
// a node: reads fill a bounded in-memory cache, mutations serialize per
// account and write through to the stable store.
package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewatch/gatewatch/internal/credit"
	"github.com/gatewatch/gatewatch/internal/crypto"
	"github.com/gatewatch/gatewatch/internal/memlimit"
	"github.com/gatewatch/gatewatch/internal/models"
	"github.com/gatewatch/gatewatch/internal/store"
)

const DefaultLedgerCap = 20

// Controller is the account store and ledger for the accounts this node
// serves or caches.
type Controller struct {
	store     store.StableStore
	limiter   *credit.Limiter
	mem       *memlimit.Limiter
	ledgerCap int
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*models.Account

	locks *lockTable
	now   func() time.Time
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLedgerCap overrides the failed-attempt ledger length cap.
func WithLedgerCap(cap int) Option {
	return func(c *Controller) {
		if cap > 0 {
			c.ledgerCap = cap
		}
	}
}

func NewController(stableStore store.StableStore, limiter *credit.Limiter, mem *memlimit.Limiter, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:     stableStore,
		limiter:   limiter,
		mem:       mem,
		ledgerCap: DefaultLedgerCap,
		logger:    logger,
		cache:     make(map[string]*models.Account),
		locks:     newLockTable(0),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAccount builds a fresh account record with a full credit
// allowance and a newly generated ledger key pair, and stores it
// authoritatively.
func (c *Controller) CreateAccount(ctx context.Context, usernameOrAccountID, password string, iterations int) (*models.Account, error) {
	if usernameOrAccountID == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", models.ErrBadRequest)
	}
	if iterations <= 0 {
		iterations = crypto.DefaultIterationCount
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	phase1 := crypto.Phase1Hash(password, salt, iterations)
	keyPair, err := crypto.NewLedgerKeyPair(phase1)
	if err != nil {
		return nil, err
	}

	now := c.now()
	account := &models.Account{
		UsernameOrAccountID:       usernameOrAccountID,
		CredentialAlg:             models.CredentialAlgPBKDF2SHA256,
		IterationCount:            iterations,
		Salt:                      salt,
		Phase2Hash:                crypto.Phase2Hash(phase1),
		TrustedDeviceCookieHashes: make(map[string]bool),
		LedgerPublicKey:           keyPair.PublicKey,
		SealedLedgerKey:           keyPair.SealedPrivateKey,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	c.limiter.InitBalances(account, now)

	if err := c.Put(ctx, account, false); err != nil {
		return nil, err
	}
	return account, nil
}

// Get returns a copy of the account, from cache if present, otherwise
// from the stable store (filling the cache on the way back).
func (c *Controller) Get(ctx context.Context, usernameOrAccountID string) (*models.Account, error) {
	if usernameOrAccountID == "" {
		return nil, models.ErrNotFound
	}

	c.mu.RLock()
	cached, ok := c.cache[usernameOrAccountID]
	c.mu.RUnlock()
	if ok {
		c.mem.Touch(usernameOrAccountID)
		return cached.Clone(), nil
	}

	account, err := c.store.GetAccount(ctx, usernameOrAccountID)
	if err != nil {
		return nil, err
	}

	c.cacheAccount(account)
	return account.Clone(), nil
}

// GetCached returns a copy of the cached account without touching the
// stable store, for the degraded path when replicas are unreachable.
func (c *Controller) GetCached(usernameOrAccountID string) (*models.Account, bool) {
	c.mu.RLock()
	cached, ok := c.cache[usernameOrAccountID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cached.Clone(), true
}

// Put stores an account. cacheOnly writes update just the in-memory
// replica copy; authoritative writes go through the stable store first,
// so a store failure surfaces before the cache reflects the change.
func (c *Controller) Put(ctx context.Context, account *models.Account, cacheOnly bool) error {
	if account == nil || account.UsernameOrAccountID == "" {
		return fmt.Errorf("%w: account id is required", models.ErrBadRequest)
	}

	unlock := c.locks.lock(account.UsernameOrAccountID)
	defer unlock()

	c.mem.Pin(account.UsernameOrAccountID)
	defer c.mem.Unpin(account.UsernameOrAccountID)

	if !cacheOnly {
		if err := c.store.PutAccount(ctx, account); err != nil {
			return err
		}
	}
	c.cacheAccount(account.Clone())
	return nil
}

// TryGetCredit debits the account's guess allowance, all-or-nothing
// across every configured window. The decision and the authoritative
// persist happen under the account's lock.
func (c *Controller) TryGetCredit(ctx context.Context, usernameOrAccountID string, amount float64) (bool, error) {
	granted := false
	err := c.Mutate(ctx, usernameOrAccountID, false, func(account *models.Account) error {
		granted = c.limiter.TryGetCredit(account, amount, c.now())
		return nil
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

// UpdateForNewLoginAttempt folds what a decided login attempt taught us
// into the account record: successful attempts register the device
// cookie as trusted; failures (including valid-but-blocked) are sealed
// into the bounded ledger, newest first.
func (c *Controller) UpdateForNewLoginAttempt(ctx context.Context, attempt *models.LoginAttempt, cacheOnly bool) error {
	if attempt == nil || attempt.UsernameOrAccountID == "" {
		return fmt.Errorf("%w: attempt account id is required", models.ErrBadRequest)
	}

	return c.Mutate(ctx, attempt.UsernameOrAccountID, cacheOnly, func(account *models.Account) error {
		switch {
		case attempt.Outcome == models.OutcomeCredentialsValid:
			account.RecordTrustedCookie(attempt.HashOfCookie)
		case attempt.Outcome.IsFailure():
			account.PrependFailedAttempt(*attempt, c.ledgerCap)
		}
		return nil
	})
}

// Mutate runs fn against the live account record under the account's
// lock, then persists the result (authoritatively unless cacheOnly).
// Concurrent mutations of the same account serialize; lost updates are a
// correctness bug this lock exists to prevent.
func (c *Controller) Mutate(ctx context.Context, usernameOrAccountID string, cacheOnly bool, fn func(*models.Account) error) error {
	unlock := c.locks.lock(usernameOrAccountID)
	defer unlock()

	c.mem.Pin(usernameOrAccountID)
	defer c.mem.Unpin(usernameOrAccountID)

	c.mu.RLock()
	cached, ok := c.cache[usernameOrAccountID]
	c.mu.RUnlock()

	// Work on a private copy and swap it in after the mutation commits:
	// readers cloning the old cached snapshot never observe a half-applied
	// mutation.
	var account *models.Account
	if ok {
		account = cached.Clone()
	} else {
		loaded, err := c.store.GetAccount(ctx, usernameOrAccountID)
		if err != nil {
			return err
		}
		account = loaded
	}

	if err := fn(account); err != nil {
		return err
	}
	account.UpdatedAt = c.now()

	if !cacheOnly {
		if err := c.store.PutAccount(ctx, account); err != nil {
			return err
		}
	}
	c.cacheAccount(account)
	return nil
}

// DropFromCache discards the cached copy, for eviction and tests.
func (c *Controller) DropFromCache(usernameOrAccountID string) {
	c.mu.Lock()
	delete(c.cache, usernameOrAccountID)
	c.mu.Unlock()
	c.mem.Forget(usernameOrAccountID)
}

// CachedCount returns the number of accounts currently cached.
func (c *Controller) CachedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Controller) cacheAccount(account *models.Account) {
	c.mu.Lock()
	c.cache[account.UsernameOrAccountID] = account
	c.mu.Unlock()

	c.mem.Track(account.UsernameOrAccountID, account.ApproximateSizeBytes(), func(key string) {
		c.mu.Lock()
		delete(c.cache, key)
		c.mu.Unlock()
	})
}
