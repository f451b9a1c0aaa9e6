package integration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatewatch/gatewatch/internal/database"
	"github.com/gatewatch/gatewatch/internal/store"
)

// TestDB manages the PostgreSQL testcontainer backing store tests.
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	Store      *store.PostgresStore
}

// SetupTestDatabase starts a PostgreSQL container, applies the schema
// migrations, and wraps the pool in a PostgresStore.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("gatewatch"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := database.RunMigrations(connString, logger); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connString,
		Pool:       pool,
		Store:      store.NewPostgresStoreFromPool(pool, logger),
	}, nil
}

// Teardown releases the pool and stops the container.
func (db *TestDB) Teardown(ctx context.Context) {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		_ = db.Container.Terminate(ctx)
	}
}
