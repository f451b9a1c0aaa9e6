// Package store defines the stable-store abstraction behind the account
// cache: durable, always-consistent, synchronous key-value semantics.
package store

import (
	"context"

	"github.com/gatewatch/gatewatch/internal/models"
)

// StableStore is the durability interface the accounts controller writes
// through on every authoritative mutation. Implementations return
// models.ErrNotFound for unknown accounts.
type StableStore interface {
	GetAccount(ctx context.Context, usernameOrAccountID string) (*models.Account, error)
	PutAccount(ctx context.Context, account *models.Account) error
	GetLoginAttempts(ctx context.Context, usernameOrAccountID string) ([]models.LoginAttempt, error)
}
