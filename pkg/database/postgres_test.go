package database

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
}

func getTestConfig() *PostgresConfig {
	cfg := DefaultPostgresConfig()
	if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("TEST_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if password := os.Getenv("TEST_POSTGRES_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if db := os.Getenv("TEST_POSTGRES_DB"); db != "" {
		cfg.Database = db
	}
	return cfg
}

func TestDefaultPostgresConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, int32(25), cfg.MaxConns)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Contains(t, cfg.DSN(), "dbname=booking_db")
}

func TestNewPostgres_Unreachable(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "postgres",
		Database:       "none",
		SSLMode:        "disable",
		MaxConns:       1,
		ConnectTimeout: 200 * time.Millisecond,
		MaxRetries:     0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewPostgres(ctx, cfg)
	assert.Error(t, err)
}

func TestWithTx_Integration(t *testing.T) {
	skipIfNoIntegration(t)

	ctx := context.Background()
	db, err := NewPostgres(ctx, getTestConfig())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.HealthCheck(ctx))

	_, err = db.Pool().Exec(ctx, `CREATE TABLE IF NOT EXISTS tx_rollback_check (id INT PRIMARY KEY)`)
	require.NoError(t, err)
	defer db.Pool().Exec(ctx, `DROP TABLE IF EXISTS tx_rollback_check`)

	errBoom := assert.AnError
	err = WithTx(ctx, db.Pool(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tx_rollback_check (id) VALUES (1)`); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	var count int
	require.NoError(t, db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM tx_rollback_check`).Scan(&count))
	assert.Equal(t, 0, count, "rolled back insert must not be visible")
}
