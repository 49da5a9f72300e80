package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"wallet-service/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	applicationName   = "wallet-service"
	maxConnectBackoff = 10 * time.Second
)

// NewPool creates a PostgreSQL connection pool and waits until the server
// answers. The database container often starts alongside the service, so
// failed pings are retried with a doubling backoff.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := waitForDB(ctx, pool.Ping, cfg.ConnectRetries, cfg.ConnectBackoff, log); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("dbname", cfg.DBName).
		Int32("max_conns", cfg.MaxConns).
		Dur("statement_timeout", cfg.StatementTimeout).
		Msg("PostgreSQL connection pool established")

	return pool, nil
}

func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	params := poolCfg.ConnConfig.RuntimeParams
	params["application_name"] = applicationName
	if cfg.StatementTimeout > 0 {
		// milliseconds when no unit is given
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	return poolCfg, nil
}

// waitForDB calls ping up to retries+1 times.
func waitForDB(ctx context.Context, ping func(context.Context) error, retries int, backoff time.Duration, log zerolog.Logger) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if attempt >= retries {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("database not ready, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("pinging database: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxConnectBackoff)
	}
	return fmt.Errorf("pinging database after %d attempts: %w", retries+1, err)
}
