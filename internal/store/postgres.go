package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatewatch/gatewatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds connection settings for the postgres-backed
// stable store.
type PostgresConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// PostgresStore persists account records as JSONB documents keyed by
// account id. The whole record is written on every authoritative
// mutation; the controller's per-account lock guarantees writes for one
// account never interleave.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info("stable store connection established",
		slog.Int("max_conns", int(poolConfig.MaxConns)),
	)

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// NewPostgresStoreFromPool wraps an existing pool, for tests.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("stable store health check failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, usernameOrAccountID string) (*models.Account, error) {
	query := `SELECT record FROM accounts WHERE username_or_account_id = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, query, usernameOrAccountID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStableStore, err)
	}

	var account models.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStableStore, err)
	}
	return &account, nil
}

func (s *PostgresStore) PutAccount(ctx context.Context, account *models.Account) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStableStore, err)
	}

	query := `
		INSERT INTO accounts (username_or_account_id, record, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (username_or_account_id)
		DO UPDATE SET record = EXCLUDED.record, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, account.UsernameOrAccountID, raw); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStableStore, err)
	}
	return nil
}

func (s *PostgresStore) GetLoginAttempts(ctx context.Context, usernameOrAccountID string) ([]models.LoginAttempt, error) {
	account, err := s.GetAccount(ctx, usernameOrAccountID)
	if err != nil {
		return nil, err
	}
	return account.RecentFailedAttempts, nil
}
