package pledges

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type ProductRepo struct{ DB *pgxpool.Pool }

const productColumns = `id, merchant_id, source, external_id, name,
	current_price, currency, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.MerchantID, &p.Source, &p.ExternalID, &p.Name,
		&p.CurrentPrice, &p.Currency, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *ProductRepo) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

// EnsureProduct maps an upstream platform product onto an internal record,
// creating a shadow product the first time a source/external id pair is seen.
func (r *ProductRepo) EnsureProduct(ctx context.Context, in Product) (Product, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	p, err := scanProduct(r.DB.QueryRow(ctx, `
		INSERT INTO products(id, merchant_id, source, external_id, name, current_price, currency)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (source, external_id) DO UPDATE
			SET name = COALESCE(NULLIF(EXCLUDED.name,''), products.name),
			    updated_at = now()
		RETURNING `+productColumns,
		in.ID, in.MerchantID, in.Source, in.ExternalID, in.Name, in.CurrentPrice, in.Currency))
	return p, err
}

// UpdatePrice durably records the new price before any matching happens: the
// products row and the append-only price_history row commit together, and the
// returned price is exactly what was persisted.
func (r *ProductRepo) UpdatePrice(ctx context.Context, productID string, price decimal.Decimal, source, eventID string) (decimal.Decimal, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var persisted decimal.Decimal
	var currency string
	err = tx.QueryRow(ctx, `
		UPDATE products SET current_price=$2, updated_at=now()
		WHERE id=$1
		RETURNING current_price, currency`, productID, price).Scan(&persisted, &currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO price_history(product_id, price, currency, source, event_id)
		VALUES ($1,$2,$3,$4,$5)`,
		productID, persisted, currency, source, eventID); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	return persisted, nil
}
