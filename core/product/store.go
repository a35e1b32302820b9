package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/database"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned for unknown and for deleted products.
var ErrNotFound = errors.New("product not found")

type productIn struct {
	ID string `db:"product_id"`
}

func Create(ctx context.Context, db sqlx.ExtContext, p Product) error {
	const q = `
	INSERT INTO products
		(product_id, name, description, image_url, price, stock_quantity, created_at, updated_at)
	VALUES
		(:product_id, :name, :description, :image_url, :price, :stock_quantity, :created_at, :updated_at)`

	if err := database.NamedExecContext(ctx, db, q, p); err != nil {
		return fmt.Errorf("inserting product: %w", err)
	}
	return nil
}

// Update applies the non nil fields of pu in one statement and returns the
// resulting row. Columns pu leaves nil keep their current value, so a price
// edit never writes back a stock count that a concurrent order has changed.
func Update(ctx context.Context, db sqlx.ExtContext, id string, pu ProductUp, now time.Time) (Product, error) {
	in := struct {
		ID          string           `db:"product_id"`
		Name        *string          `db:"name"`
		Description *string          `db:"description"`
		ImageURL    *string          `db:"image_url"`
		Price       *decimal.Decimal `db:"price"`
		Stock       *int             `db:"stock_quantity"`
		UpdatedAt   time.Time        `db:"updated_at"`
	}{
		ID:          id,
		Name:        pu.Name,
		Description: pu.Description,
		ImageURL:    pu.ImageURL,
		Price:       pu.Price,
		Stock:       pu.Stock,
		UpdatedAt:   now,
	}

	const q = `
	UPDATE products SET
		name = COALESCE(:name, name),
		description = COALESCE(:description, description),
		image_url = COALESCE(:image_url, image_url),
		price = COALESCE(:price, price),
		stock_quantity = COALESCE(:stock_quantity, stock_quantity),
		updated_at = :updated_at
	WHERE product_id = :product_id AND deleted_at IS NULL
	RETURNING product_id, name, description, image_url, price, stock_quantity, created_at, updated_at`

	var p Product
	if err := database.NamedQueryStruct(ctx, db, q, in, &p); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("updating product[%s]: %w", id, err)
	}
	return p, nil
}

// Delete hides a product from the catalog and takes it out of every cart.
// Order lines keep referencing the row.
func Delete(ctx context.Context, db *sqlx.DB, id string, now time.Time) error {
	return database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		in := struct {
			ID        string    `db:"product_id"`
			DeletedAt time.Time `db:"deleted_at"`
		}{
			ID:        id,
			DeletedAt: now,
		}

		const q = `
		UPDATE products SET
			deleted_at = :deleted_at,
			updated_at = :deleted_at
		WHERE product_id = :product_id AND deleted_at IS NULL`

		n, err := database.NamedExecAffected(ctx, tx, q, in)
		if err != nil {
			return fmt.Errorf("deleting product[%s]: %w", id, err)
		}
		if n == 0 {
			return ErrNotFound
		}

		const qc = `
		DELETE FROM cart_items
		WHERE product_id = :product_id`

		if err := database.NamedExecContext(ctx, tx, qc, productIn{ID: id}); err != nil {
			return fmt.Errorf("removing product[%s] from carts: %w", id, err)
		}
		return nil
	})
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Product, error) {
	const q = `
	SELECT
		product_id, name, description, image_url, price, stock_quantity, created_at, updated_at
	FROM products
	WHERE product_id = :product_id AND deleted_at IS NULL`

	return fetch(ctx, db, q, id)
}

// FetchShared is Fetch holding a share lock on the row until tx ends, which
// makes a concurrent Delete wait for tx.
func FetchShared(ctx context.Context, tx sqlx.ExtContext, id string) (Product, error) {
	const q = `
	SELECT
		product_id, name, description, image_url, price, stock_quantity, created_at, updated_at
	FROM products
	WHERE product_id = :product_id AND deleted_at IS NULL
	FOR SHARE`

	return fetch(ctx, tx, q, id)
}

func fetch(ctx context.Context, db sqlx.ExtContext, q string, id string) (Product, error) {
	var p Product
	if err := database.NamedQueryStruct(ctx, db, q, productIn{ID: id}, &p); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("selecting product[%s]: %w", id, err)
	}
	return p, nil
}

func List(ctx context.Context, db sqlx.ExtContext) ([]Product, error) {
	const q = `
	SELECT
		product_id, name, description, image_url, price, stock_quantity, created_at, updated_at
	FROM products
	WHERE deleted_at IS NULL
	ORDER BY created_at DESC`

	products := []Product{}
	if err := database.NamedQuerySlice(ctx, db, q, struct{}{}, &products); err != nil {
		return nil, fmt.Errorf("selecting products: %w", err)
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}
