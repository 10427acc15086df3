package stock

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

const variantCols = `id, color, size, price, stock, created_at, updated_at, created_by, COALESCE(updated_by, '')`

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.Color, &v.Size, &v.UnitPrice, &v.StockCount,
		&v.CreatedAt, &v.UpdatedAt, &v.CreatedBy, &v.UpdatedBy)
	return v, err
}

func (s *PGStore) Get(ctx context.Context, id int64) (Variant, error) {
	v, err := scanVariant(s.DB.QueryRow(ctx, `SELECT `+variantCols+` FROM variants WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrVariantNotFound
	}
	if err != nil {
		return Variant{}, fmt.Errorf("get variant %d: %w", id, err)
	}
	return v, nil
}

func (s *PGStore) List(ctx context.Context) ([]Variant, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+variantCols+` FROM variants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	out := make([]Variant, 0, 16)
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PGStore) Create(ctx context.Context, in VariantInput) (Variant, error) {
	v, err := scanVariant(s.DB.QueryRow(ctx, `
		INSERT INTO variants(color, size, price, stock, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+variantCols,
		in.Color, in.Size, in.UnitPrice, in.StockCount, SystemUser))
	if err != nil {
		return Variant{}, fmt.Errorf("create variant: %w", err)
	}
	return v, nil
}

func (s *PGStore) Update(ctx context.Context, id int64, in VariantInput) (Variant, error) {
	v, err := scanVariant(s.DB.QueryRow(ctx, `
		UPDATE variants
		SET color=$2, size=$3, price=$4, stock=$5, updated_at=NOW(), updated_by=$6
		WHERE id=$1
		RETURNING `+variantCols,
		id, in.Color, in.Size, in.UnitPrice, in.StockCount, SystemUser))
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrVariantNotFound
	}
	if err != nil {
		return Variant{}, fmt.Errorf("update variant %d: %w", id, err)
	}
	return v, nil
}

func (s *PGStore) Delete(ctx context.Context, id int64) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM variants WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete variant %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrVariantNotFound
	}
	return nil
}

// Reserve: satu statement, kondisi stock >= qty dicek oleh engine di bawah row lock.
func (s *PGStore) Reserve(ctx context.Context, id int64, qty int) (Variant, error) {
	v, err := scanVariant(s.DB.QueryRow(ctx, `
		UPDATE variants
		SET stock = stock - $2, updated_at = NOW(), updated_by = $3
		WHERE id = $1 AND stock >= $2
		RETURNING `+variantCols,
		id, qty, SystemUser))
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrNotApplied
	}
	if err != nil {
		return Variant{}, fmt.Errorf("reserve variant %d: %w", id, err)
	}
	return v, nil
}

func (s *PGStore) Release(ctx context.Context, id int64, qty int) (Variant, error) {
	v, err := scanVariant(s.DB.QueryRow(ctx, `
		UPDATE variants
		SET stock = stock + $2, updated_at = NOW(), updated_by = $3
		WHERE id = $1
		RETURNING `+variantCols,
		id, qty, SystemUser))
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrNotApplied
	}
	if err != nil {
		return Variant{}, fmt.Errorf("release variant %d: %w", id, err)
	}
	return v, nil
}
