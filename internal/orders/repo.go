package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the order aggregate. Update and Delete are guarded by
// Order.Version; a stale version fails with apperr.KindConflict.
type Repository interface {
	// Create menyimpan order + item dalam satu transaksi, mengisi ID dan Version.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	// Update menulis status/total lalu menaikkan o.Version.
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id, version int64) error

	// ClaimRelease flips released false -> true for one item and reports
	// whether this caller won it. UnclaimRelease reverts a claim.
	ClaimRelease(ctx context.Context, itemID int64) (bool, error)
	UnclaimRelease(ctx context.Context, itemID int64) error
}

func orderNotFound(id int64) error { return apperr.NotFound("Order not found with id: %d", id) }

func versionConflict(id, version int64) error {
	return apperr.Conflict("Order %d was modified concurrently (version %d is stale)", id, version)
}

type PGRepo struct{ DB *pgxpool.Pool }

func (r *PGRepo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(customer_name, status, total_amount, version)
		VALUES ($1, $2, $3, 1)
		RETURNING id, version, created_at, updated_at`,
		o.CustomerName, o.Status, o.TotalAmount,
	).Scan(&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		it.Position = i
		if err := tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, position, variant_id, quantity, unit_price, color, size, released)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			it.OrderID, it.Position, it.VariantID, it.Quantity, it.UnitPrice, it.Color, it.Size, it.Released,
		).Scan(&it.ID); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

const orderCols = `id, customer_name, status, total_amount, version, created_at, updated_at`
const itemCols = `id, order_id, position, variant_id, quantity, unit_price, color, size, released`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CustomerName, &o.Status, &o.TotalAmount, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *PGRepo) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orderNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}

	items, err := r.items(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return &o, nil
}

func (r *PGRepo) List(ctx context.Context) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderCols+` FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	var ids []int64
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Order{}, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *PGRepo) items(ctx context.Context, orderIDs []int64) (map[int64][]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+itemCols+` FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]OrderItem, len(orderIDs))
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Position, &it.VariantID, &it.Quantity,
			&it.UnitPrice, &it.Color, &it.Size, &it.Released); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

// Update: conditional update pada version. 0 row -> cek apakah order masih ada.
func (r *PGRepo) Update(ctx context.Context, o *Order) error {
	err := r.DB.QueryRow(ctx, `
		UPDATE orders
		SET status=$3, total_amount=$4, version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$2
		RETURNING version, updated_at`,
		o.ID, o.Version, o.Status, o.TotalAmount,
	).Scan(&o.Version, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.missOrConflict(ctx, o.ID, o.Version)
	}
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	return nil
}

func (r *PGRepo) Delete(ctx context.Context, id, version int64) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id=$1 AND version=$2`, id, version)
	if err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id, version)
	}
	return nil
}

func (r *PGRepo) missOrConflict(ctx context.Context, id, version int64) error {
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check order %d: %w", id, err)
	}
	if !exists {
		return orderNotFound(id)
	}
	return versionConflict(id, version)
}

func (r *PGRepo) ClaimRelease(ctx context.Context, itemID int64) (bool, error) {
	ct, err := r.DB.Exec(ctx, `UPDATE order_items SET released=TRUE WHERE id=$1 AND released=FALSE`, itemID)
	if err != nil {
		return false, fmt.Errorf("claim item %d: %w", itemID, err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PGRepo) UnclaimRelease(ctx context.Context, itemID int64) error {
	if _, err := r.DB.Exec(ctx, `UPDATE order_items SET released=FALSE WHERE id=$1`, itemID); err != nil {
		return fmt.Errorf("unclaim item %d: %w", itemID, err)
	}
	return nil
}
