package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-service/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDBConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "testuser",
		Password:        "testpass",
		DBName:          "testdb",
		SSLMode:         "disable",
		MaxConns:        20,
		MinConns:        5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

func TestPoolConfig(t *testing.T) {
	cfg := testDBConfig()
	cfg.StatementTimeout = 30 * time.Second

	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(20), poolCfg.MaxConns)
	assert.Equal(t, int32(5), poolCfg.MinConns)
	assert.Equal(t, 30*time.Minute, poolCfg.MaxConnLifetime)
	assert.Equal(t, "localhost", poolCfg.ConnConfig.Host)
	assert.Equal(t, "testdb", poolCfg.ConnConfig.Database)
	assert.Equal(t, "wallet-service", poolCfg.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "30000", poolCfg.ConnConfig.RuntimeParams["statement_timeout"])
}

func TestPoolConfig_NoStatementTimeout(t *testing.T) {
	poolCfg, err := poolConfig(testDBConfig())
	require.NoError(t, err)

	_, ok := poolCfg.ConnConfig.RuntimeParams["statement_timeout"]
	assert.False(t, ok)
}

func TestPoolConfig_BadDSN(t *testing.T) {
	cfg := testDBConfig()
	cfg.Port = -1

	_, err := poolConfig(cfg)
	assert.ErrorContains(t, err, "parsing database config")
}

func TestWaitForDB_RetriesUntilReady(t *testing.T) {
	calls := 0
	ping := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	err := waitForDB(context.Background(), ping, 5, time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitForDB_GivesUp(t *testing.T) {
	calls := 0
	ping := func(context.Context) error {
		calls++
		return errors.New("connection refused")
	}

	err := waitForDB(context.Background(), ping, 2, time.Millisecond, zerolog.Nop())
	assert.ErrorContains(t, err, "after 3 attempts")
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 3, calls)
}

func TestWaitForDB_NoRetries(t *testing.T) {
	calls := 0
	ping := func(context.Context) error {
		calls++
		return errors.New("down")
	}

	assert.Error(t, waitForDB(context.Background(), ping, 0, time.Hour, zerolog.Nop()))
	assert.Equal(t, 1, calls)
}

func TestWaitForDB_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ping := func(context.Context) error {
		cancel()
		return errors.New("down")
	}

	err := waitForDB(ctx, ping, 5, time.Hour, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
}
