// Package postgres implements the repositories on PostgreSQL through database/sql and lib/pq.
// Stock counters rely on conditional UPDATE statements, order status changes on compare-and-set
// updates, and RunInTx carries a *sql.Tx on the context so nested repository calls join it.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/hanko-field/commerce/internal/platform/config"
)

const driverName = "postgres"

// Open connects to the database described by cfg and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
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
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price       NUMERIC(12,2) NOT NULL,
		stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		category    TEXT NOT NULL DEFAULT '',
		image_url   TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS products_created_idx ON products (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS products_stock_idx ON products (stock, id)`,
	`CREATE TABLE IF NOT EXISTS cart_lines (
		user_id    TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity   INTEGER NOT NULL CHECK (quantity >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		order_no         TEXT NOT NULL UNIQUE,
		user_id          TEXT NOT NULL,
		status           TEXT NOT NULL,
		total_amount     NUMERIC(12,2) NOT NULL,
		shipping_address TEXT NOT NULL,
		remark           TEXT NOT NULL DEFAULT '',
		cancel_reason    TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		paid_at          TIMESTAMPTZ,
		shipped_at       TIMESTAMPTZ,
		delivered_at     TIMESTAMPTZ,
		cancelled_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS orders_status_created_idx ON orders (status, created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		order_id     TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		position     INTEGER NOT NULL,
		product_id   TEXT NOT NULL,
		product_name TEXT NOT NULL,
		unit_price   NUMERIC(12,2) NOT NULL,
		quantity     INTEGER NOT NULL CHECK (quantity > 0),
		subtotal     NUMERIC(12,2) NOT NULL,
		PRIMARY KEY (order_id, position)
	)`,
}

// Migrate creates the tables and indexes when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
