package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/database"
	"github.com/jmoiron/sqlx"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// StockStore moves product stock counters. Every change is a single UPDATE
// relative to the current value, so concurrent writers on the same product
// row are serialised by the database and no update is lost.
type StockStore struct {
	// AllowNegative lets a decrement take stock below zero instead of
	// failing with ErrInsufficientStock.
	AllowNegative bool
}

type stockChange struct {
	ProductID string    `db:"product_id"`
	Quantity  int       `db:"quantity"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s StockStore) DecrementStock(ctx context.Context, tx sqlx.ExtContext, productID string, qty int) error {
	in := stockChange{
		ProductID: productID,
		Quantity:  qty,
		UpdatedAt: time.Now().UTC(),
	}

	q := `
	UPDATE products SET
		stock_quantity = stock_quantity - :quantity,
		updated_at = :updated_at
	WHERE product_id = :product_id`
	if !s.AllowNegative {
		q += ` AND stock_quantity >= :quantity`
	}

	n, err := database.NamedExecAffected(ctx, tx, q, in)
	if err != nil {
		return fmt.Errorf("decrementing stock of product[%s]: %w", productID, err)
	}
	if n == 1 {
		return nil
	}

	// Deleted products still back open orders, so look them up too.
	const qs = `
	SELECT
		product_id, name, description, image_url, price, stock_quantity, created_at, updated_at
	FROM products
	WHERE product_id = :product_id`

	p, err := fetch(ctx, tx, qs, productID)
	if err != nil {
		return err
	}
	return fmt.Errorf("product[%s] has %d in stock, %d requested: %w", productID, p.Stock, qty, ErrInsufficientStock)
}

func (s StockStore) RestoreStock(ctx context.Context, tx sqlx.ExtContext, productID string, qty int) error {
	in := stockChange{
		ProductID: productID,
		Quantity:  qty,
		UpdatedAt: time.Now().UTC(),
	}

	const q = `
	UPDATE products SET
		stock_quantity = stock_quantity + :quantity,
		updated_at = :updated_at
	WHERE product_id = :product_id`

	n, err := database.NamedExecAffected(ctx, tx, q, in)
	if err != nil {
		return fmt.Errorf("restoring stock of product[%s]: %w", productID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
