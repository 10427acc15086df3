package postgres

import (
	"context"
	"fmt"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockSchema dipakai oleh cmd/stock.
const StockSchema = `
CREATE TABLE IF NOT EXISTS variants (
	id          BIGSERIAL PRIMARY KEY,
	color       TEXT NOT NULL DEFAULT '',
	size        TEXT NOT NULL DEFAULT '',
	price       NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (price >= 0),
	stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	created_by  TEXT NOT NULL DEFAULT 'SYSTEM',
	updated_by  TEXT
);
`

// OrdersSchema dipakai oleh cmd/api. Item ikut terhapus bersama order.
const OrdersSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id            BIGSERIAL PRIMARY KEY,
	customer_name TEXT NOT NULL,
	status        TEXT NOT NULL,
	total_amount  NUMERIC(14,2) NOT NULL DEFAULT 0,
	version       BIGINT NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS order_items (
	id          BIGSERIAL PRIMARY KEY,
	order_id    BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	variant_id  BIGINT NOT NULL,
	quantity    INTEGER NOT NULL CHECK (quantity > 0),
	unit_price  NUMERIC(14,2) NOT NULL,
	color       TEXT NOT NULL DEFAULT '',
	size        TEXT NOT NULL DEFAULT '',
	released    BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id, position);
`

// Migrate menjalankan DDL idempotent di atas.
func Migrate(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
