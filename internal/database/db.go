// Package database persists trade history to PostgreSQL. The trading core
// works entirely from in-memory state; this layer exists for audit and
// operator reporting and is optional at runtime.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/logging"
)

type Database struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// New connects, pings, and applies the schema.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = 5
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &Database{pool: pool, logger: logging.Default().WithComponent("database")}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	db.logger.Info("Database connected", "host", cfg.Host, "database", cfg.Database)
	return db, nil
}

func (db *Database) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id           TEXT PRIMARY KEY,
		symbol       TEXT NOT NULL,
		direction    TEXT NOT NULL,
		entry_price  DOUBLE PRECISION NOT NULL,
		size         DOUBLE PRECISION NOT NULL,
		stop_loss    DOUBLE PRECISION NOT NULL,
		take_profit  DOUBLE PRECISION NOT NULL,
		risk_pct     DOUBLE PRECISION NOT NULL,
		trade_class  TEXT NOT NULL,
		confidence   DOUBLE PRECISION NOT NULL,
		regime       TEXT NOT NULL,
		opened_at    TIMESTAMPTZ NOT NULL,
		closed_at    TIMESTAMPTZ,
		close_reason TEXT
	);
	CREATE TABLE IF NOT EXISTS tier_events (
		id         BIGSERIAL PRIMARY KEY,
		trade_id   TEXT NOT NULL REFERENCES trades(id),
		tier       INT NOT NULL,
		stop_loss  DOUBLE PRECISION NOT NULL,
		price      DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS audit_log (
		id           BIGSERIAL PRIMARY KEY,
		recorded_at  TIMESTAMPTZ NOT NULL,
		stage        TEXT NOT NULL,
		model        TEXT NOT NULL,
		input        TEXT NOT NULL,
		output       TEXT NOT NULL,
		explanation  TEXT NOT NULL,
		submitted    BOOLEAN NOT NULL,
		submit_error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at);
	CREATE INDEX IF NOT EXISTS idx_audit_log_recorded_at ON audit_log(recorded_at);
	`
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (db *Database) Close() {
	db.pool.Close()
}
