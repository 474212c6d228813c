// Package postgres implements the ledger store on PostgreSQL via sqlx.
package postgres

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds the connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Connect opens and pings the database.
func Connect(cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS payments (
	payment_hash   TEXT PRIMARY KEY,
	merchant_id    TEXT NOT NULL,
	order_id       TEXT NOT NULL,
	chain_id       BIGINT NOT NULL,
	token_symbol   TEXT NOT NULL,
	token_address  TEXT NOT NULL,
	token_decimals SMALLINT NOT NULL,
	amount_wei     NUMERIC(78,0) NOT NULL,
	recipient      TEXT NOT NULL,
	fee_bps        INTEGER NOT NULL,
	status         TEXT NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	tx_hash        TEXT,
	payer_address  TEXT,
	confirmed_at   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_merchant_order
	ON payments (merchant_id, order_id);

-- backstops the in-process duplicate check: at most one live payment
-- per (merchant, order) pair even across gateway instances
CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_active_order
	ON payments (merchant_id, order_id)
	WHERE status IN ('CREATED', 'PENDING');

CREATE TABLE IF NOT EXISTS refunds (
	refund_hash   TEXT PRIMARY KEY,
	payment_hash  TEXT NOT NULL REFERENCES payments (payment_hash),
	amount_wei    NUMERIC(78,0) NOT NULL,
	token_address TEXT NOT NULL,
	payer_address TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	tx_hash       TEXT,
	error_message TEXT,
	submitted_at  TIMESTAMPTZ,
	confirmed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_refunds_payment
	ON refunds (payment_hash);

CREATE TABLE IF NOT EXISTS audit_events (
	id         UUID PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	event_type TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity
	ON audit_events (entity_id, created_at);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(db *sqlx.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
