// Package dbtest connects integration tests to the database named by
// TEST_DATABASE_URL. Tests are skipped when the variable is unset.
package dbtest

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const EnvDatabaseURL = "TEST_DATABASE_URL"

// Pool returns a migrated pool over a clean schema and closes it on cleanup.
func Pool(tb testing.TB) *pgxpool.Pool {
	tb.Helper()

	dsn := os.Getenv(EnvDatabaseURL)
	if dsn == "" {
		tb.Skipf("%s is not set, skipping integration test", EnvDatabaseURL)
	}

	migrationsDir := os.Getenv("TEST_MIGRATIONS_PATH")
	if migrationsDir == "" {
		migrationsDir = "../../migrations"
	}
	m, err := migrate.New("file://"+migrationsDir, migrationDSN(dsn))
	require.NoError(tb, err, "failed to init migrations")
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(tb, err, "failed to apply migrations")
	}
	_, _ = m.Close()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	require.NoError(tb, err)
	poolConfig.MaxConns = 8
	poolConfig.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(tb, err, "failed to connect to test database")
	require.NoError(tb, pool.Ping(ctx), "failed to ping test database")

	Truncate(tb, pool)
	tb.Cleanup(func() {
		Truncate(tb, pool)
		pool.Close()
	})
	return pool
}

func Truncate(tb testing.TB, pool *pgxpool.Pool) {
	tb.Helper()
	_, err := pool.Exec(context.Background(),
		"TRUNCATE TABLE storefront.order_items, storefront.orders, storefront.cart_items, storefront.products CASCADE")
	require.NoError(tb, err, "failed to truncate tables")
}

func migrationDSN(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
