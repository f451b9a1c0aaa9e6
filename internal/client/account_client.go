package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewatch/gatewatch/internal/accounts"
	"github.com/gatewatch/gatewatch/internal/models"
	"github.com/gatewatch/gatewatch/internal/ring"
	"golang.org/x/time/rate"
)

const (
	// DefaultReplicationFactor is how many fleet members serve each key.
	DefaultReplicationFactor = 3

	// DefaultCandidateTimeout bounds how long one member may keep a
	// request waiting before the sweep moves on.
	DefaultCandidateTimeout = 500 * time.Millisecond
)

// AccountClient resolves every account operation against the key's
// responsibility set and sweeps its members in ring order until one
// responds. It satisfies the same account-service surface as the local
// controller, so callers never know whether this node owned the shard.
type AccountClient struct {
	ring             *ring.Ring
	local            *accounts.Controller
	replication      int
	candidateTimeout time.Duration
	fanoutLimiter    *rate.Limiter
	logger           *slog.Logger

	mu         sync.RWMutex
	transports map[string]Transport

	// fan-out writes in flight, so tests and shutdown can wait.
	fanout sync.WaitGroup
}

// Option customizes an AccountClient.
type Option func(*AccountClient)

// WithReplicationFactor overrides how many members serve each key.
func WithReplicationFactor(n int) Option {
	return func(c *AccountClient) {
		if n > 0 {
			c.replication = n
		}
	}
}

// WithCandidateTimeout overrides the per-member sweep timeout.
func WithCandidateTimeout(d time.Duration) Option {
	return func(c *AccountClient) {
		if d > 0 {
			c.candidateTimeout = d
		}
	}
}

// WithFanoutRate caps cache-only replication sends per second.
func WithFanoutRate(perSecond float64, burst int) Option {
	return func(c *AccountClient) {
		c.fanoutLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewAccountClient builds a client over the ring. local may be nil on a
// node that serves no shards itself (a pure proxy); when present it backs
// the degraded cached-read path.
func NewAccountClient(r *ring.Ring, local *accounts.Controller, logger *slog.Logger, opts ...Option) *AccountClient {
	c := &AccountClient{
		ring:             r,
		local:            local,
		replication:      DefaultReplicationFactor,
		candidateTimeout: DefaultCandidateTimeout,
		fanoutLimiter:    rate.NewLimiter(rate.Limit(200), 50),
		logger:           logger,
		transports:       make(map[string]Transport),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterHost adds a fleet member to both the ring and the transport
// registry. Registration order does not matter; shard placement depends
// only on the final membership.
func (c *AccountClient) RegisterHost(host *models.RemoteHost, transport Transport, weight float64) error {
	if err := c.ring.Add(host.ID, host, weight); err != nil {
		return err
	}
	c.mu.Lock()
	c.transports[host.ID] = transport
	c.mu.Unlock()
	return nil
}

// Wait blocks until fan-out writes launched so far have been delivered
// or abandoned.
func (c *AccountClient) Wait() { c.fanout.Wait() }

// Get fetches the account from the first responsive member of its
// responsibility set.
func (c *AccountClient) Get(ctx context.Context, usernameOrAccountID string) (*models.Account, error) {
	var account *models.Account
	_, err := c.sweep(ctx, usernameOrAccountID, func(ctx context.Context, t Transport) error {
		got, err := t.GetAccount(ctx, usernameOrAccountID)
		if err != nil {
			return err
		}
		account = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetCached serves the node's own possibly stale copy, for the degraded
// path when the whole responsibility set is unreachable.
func (c *AccountClient) GetCached(usernameOrAccountID string) (*models.Account, bool) {
	if c.local == nil {
		return nil, false
	}
	return c.local.GetCached(usernameOrAccountID)
}

// Put stores the account on the first responsive serving member and fans
// the new state out cache-only to the rest of the responsibility set.
func (c *AccountClient) Put(ctx context.Context, account *models.Account, cacheOnly bool) error {
	served, err := c.sweep(ctx, account.UsernameOrAccountID, func(ctx context.Context, t Transport) error {
		return t.PutAccount(ctx, account, cacheOnly)
	})
	if err != nil {
		return err
	}
	if !cacheOnly {
		c.replicate(account.UsernameOrAccountID, served, func(ctx context.Context, t Transport) error {
			return t.PutAccount(ctx, account, true)
		})
	}
	return nil
}

// TryGetCredit debits the account's allowance on the member that owns
// the authoritative copy.
func (c *AccountClient) TryGetCredit(ctx context.Context, usernameOrAccountID string, amount float64) (bool, error) {
	granted := false
	_, err := c.sweep(ctx, usernameOrAccountID, func(ctx context.Context, t Transport) error {
		got, err := t.TryGetCredit(ctx, usernameOrAccountID, amount)
		if err != nil {
			return err
		}
		granted = got
		return nil
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

// UpdateForNewLoginAttempt records the decided attempt on a serving
// member, then fans it out cache-only so the other replicas of the set
// stay warm and can answer a later failover from fresh state.
func (c *AccountClient) UpdateForNewLoginAttempt(ctx context.Context, attempt *models.LoginAttempt, cacheOnly bool) error {
	served, err := c.sweep(ctx, attempt.UsernameOrAccountID, func(ctx context.Context, t Transport) error {
		return t.RecordLoginAttempt(ctx, attempt, cacheOnly)
	})
	if err != nil {
		return err
	}
	if !cacheOnly {
		c.replicate(attempt.UsernameOrAccountID, served, func(ctx context.Context, t Transport) error {
			return t.RecordLoginAttempt(ctx, attempt, true)
		})
	}
	return nil
}

// UpdateOutcomesUsingTypoAnalysis runs ledger reclassification on the
// member that owns the account, so the rewrite happens under the owner's
// per-account lock instead of racing its cached copy from here.
func (c *AccountClient) UpdateOutcomesUsingTypoAnalysis(ctx context.Context, usernameOrAccountID, correctPassword string, phase1HashOfCorrectPassword []byte, ipToExclude string) (int, error) {
	reclassified := 0
	_, err := c.sweep(ctx, usernameOrAccountID, func(ctx context.Context, t Transport) error {
		n, err := t.UpdateOutcomesUsingTypoAnalysis(ctx, usernameOrAccountID, correctPassword, phase1HashOfCorrectPassword, ipToExclude)
		if err != nil {
			return err
		}
		reclassified = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reclassified, nil
}

// sweep tries each member of the key's responsibility set in ring order
// under a per-candidate timeout, returning the id of the member that
// answered. The first answer, success or a definite ErrNotFound, ends
// the sweep; a member that errors or times out is skipped and never
// retried within this sweep.
func (c *AccountClient) sweep(ctx context.Context, key string, op func(context.Context, Transport) error) (string, error) {
	candidates := c.responsibleTransports(key)
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no hosts registered for key", models.ErrNoHostAvailable)
	}

	var lastErr error
	for _, t := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.candidateTimeout)
		err := op(attemptCtx, t)
		cancel()

		if err == nil || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrBadRequest) {
			return t.Host().ID, err
		}

		lastErr = err
		c.logger.Warn("responsibility set member failed, moving to next",
			slog.String("host", t.Host().ID),
			slog.String("key_kind", "account"),
			slog.Any("error", err))
	}
	return "", fmt.Errorf("%w: all %d responsible hosts failed: %v", models.ErrNoHostAvailable, len(candidates), lastErr)
}

// replicate fans op out to the members of the key's responsibility set
// other than servedID, which already took the authoritative write.
// Fire-and-forget behind the rate limiter; errors are logged and
// swallowed, a replica that misses the send catches up on its next
// read-through.
func (c *AccountClient) replicate(key, servedID string, op func(context.Context, Transport) error) {
	c.mu.RLock()
	var replicas []Transport
	for _, host := range c.ring.FindMembersResponsible(key, c.replication) {
		if host.ID == servedID {
			continue
		}
		if t, ok := c.transports[host.ID]; ok {
			replicas = append(replicas, t)
		}
	}
	c.mu.RUnlock()

	for _, t := range replicas {
		t := t
		c.fanout.Add(1)
		go func() {
			defer c.fanout.Done()
			ctx, cancel := context.WithTimeout(context.Background(), c.candidateTimeout*4)
			defer cancel()

			if err := c.fanoutLimiter.Wait(ctx); err != nil {
				return
			}
			if err := op(ctx, t); err != nil {
				c.logger.Warn("cache-only replication send failed",
					slog.String("host", t.Host().ID),
					slog.Any("error", err))
			}
		}()
	}
}

// responsibleTransports maps the key's responsibility set to transports,
// preserving ring order. A host registered in the ring but missing a
// transport is a wiring bug; it is skipped and logged.
func (c *AccountClient) responsibleTransports(key string) []Transport {
	hosts := c.ring.FindMembersResponsible(key, c.replication)

	c.mu.RLock()
	defer c.mu.RUnlock()

	transports := make([]Transport, 0, len(hosts))
	for _, host := range hosts {
		t, ok := c.transports[host.ID]
		if !ok {
			c.logger.Error("host registered without transport", slog.String("host", host.ID))
			continue
		}
		transports = append(transports, t)
	}
	return transports
}
