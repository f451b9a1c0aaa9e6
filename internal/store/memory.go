package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gatewatch/gatewatch/internal/models"
)

// MemoryStore is an in-process StableStore for tests and single-node
// evaluation runs. Records are deep-copied through JSON on the way in
// and out so callers can never alias the stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string][]byte)}
}

func (s *MemoryStore) GetAccount(ctx context.Context, usernameOrAccountID string) (*models.Account, error) {
	s.mu.RLock()
	raw, ok := s.accounts[usernameOrAccountID]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}

	var account models.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStableStore, err)
	}
	return &account, nil
}

func (s *MemoryStore) PutAccount(ctx context.Context, account *models.Account) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStableStore, err)
	}

	s.mu.Lock()
	s.accounts[account.UsernameOrAccountID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetLoginAttempts(ctx context.Context, usernameOrAccountID string) ([]models.LoginAttempt, error) {
	account, err := s.GetAccount(ctx, usernameOrAccountID)
	if err != nil {
		return nil, err
	}
	return account.RecentFailedAttempts, nil
}

// Len returns the number of stored accounts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
