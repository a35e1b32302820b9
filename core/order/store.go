package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/database"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type orderIn struct {
	ID string `db:"order_id"`
}

func create(ctx context.Context, tx sqlx.ExtContext, o Order) error {
	const q = `
	INSERT INTO orders
		(order_id, number, user_id, total_amount, status, created_at, updated_at)
	VALUES
		(:order_id, :number, :user_id, :total_amount, :status, :created_at, :updated_at)`

	if err := database.NamedExecContext(ctx, tx, q, o); err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func createItem(ctx context.Context, tx sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO order_items
		(item_id, order_id, product_id, quantity, price_at_time, created_at)
	VALUES
		(:item_id, :order_id, :product_id, :quantity, :price_at_time, :created_at)`

	if err := database.NamedExecContext(ctx, tx, q, it); err != nil {
		return fmt.Errorf("inserting item for product[%s]: %w", it.ProductID, err)
	}
	return nil
}

func createHistory(ctx context.Context, tx sqlx.ExtContext, h History) error {
	const q = `
	INSERT INTO order_status_history
		(history_id, order_id, from_status, to_status, changed_by, created_at)
	VALUES
		(:history_id, :order_id, :from_status, :to_status, :changed_by, :created_at)`

	if err := database.NamedExecContext(ctx, tx, q, h); err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}
	return nil
}

func fetchForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (Order, error) {
	const q = `
	SELECT
		order_id, number, user_id, total_amount, status, created_at, updated_at
	FROM orders
	WHERE order_id = :order_id
	FOR UPDATE`

	var o Order
	if err := database.NamedQueryStruct(ctx, tx, q, orderIn{ID: id}, &o); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("locking order[%s]: %w", id, err)
	}
	return o, nil
}

// setStatus moves the order to "to" only if it is still in "from". It
// reports false when another writer got there first.
func setStatus(ctx context.Context, tx sqlx.ExtContext, id string, from, to Status, now time.Time) (bool, error) {
	in := struct {
		ID        string    `db:"order_id"`
		From      Status    `db:"from_status"`
		To        Status    `db:"to_status"`
		UpdatedAt time.Time `db:"updated_at"`
	}{
		ID:        id,
		From:      from,
		To:        to,
		UpdatedAt: now,
	}

	const q = `
	UPDATE orders SET
		status = :to_status,
		updated_at = :updated_at
	WHERE order_id = :order_id AND status = :from_status`

	n, err := database.NamedExecAffected(ctx, tx, q, in)
	if err != nil {
		return false, fmt.Errorf("updating status of order[%s]: %w", id, err)
	}
	return n == 1, nil
}

// fetchItems returns the lines of an order sorted by product so that stock
// rows are always locked in the same order.
func fetchItems(ctx context.Context, tx sqlx.ExtContext, id string) ([]Item, error) {
	const q = `
	SELECT
		oi.item_id, oi.order_id, oi.product_id, p.name AS product_name,
		oi.quantity, oi.price_at_time, oi.created_at
	FROM order_items oi
	JOIN products p ON p.product_id = oi.product_id
	WHERE oi.order_id = :order_id
	ORDER BY oi.product_id`

	var items []Item
	if err := database.NamedQuerySlice(ctx, tx, q, orderIn{ID: id}, &items); err != nil {
		return nil, fmt.Errorf("selecting items of order[%s]: %w", id, err)
	}
	return items, nil
}

func fetchHistory(ctx context.Context, db sqlx.ExtContext, id string) ([]History, error) {
	const q = `
	SELECT
		history_id, order_id, from_status, to_status, changed_by, created_at
	FROM order_status_history
	WHERE order_id = :order_id
	ORDER BY created_at, history_id`

	hs := []History{}
	if err := database.NamedQuerySlice(ctx, db, q, orderIn{ID: id}, &hs); err != nil {
		return nil, fmt.Errorf("selecting history of order[%s]: %w", id, err)
	}
	if hs == nil {
		hs = []History{}
	}
	return hs, nil
}

// orderRow is one row of the flat order listing: order columns repeated for
// every line, line columns null for an order without lines.
type orderRow struct {
	OrderID       string              `db:"order_id"`
	Number        string              `db:"number"`
	UserID        string              `db:"user_id"`
	UserEmail     sql.NullString      `db:"user_email"`
	Total         decimal.Decimal     `db:"total_amount"`
	Status        Status              `db:"status"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
	ItemID        sql.NullString      `db:"item_id"`
	ProductID     sql.NullString      `db:"product_id"`
	ProductName   sql.NullString      `db:"product_name"`
	Quantity      sql.NullInt64       `db:"quantity"`
	PriceAtTime   decimal.NullDecimal `db:"price_at_time"`
	ItemCreatedAt sql.NullTime        `db:"item_created_at"`
}

const listQuery = `
	SELECT
		o.order_id, o.number, o.user_id, u.email AS user_email,
		o.total_amount, o.status, o.created_at, o.updated_at,
		oi.item_id, oi.product_id, p.name AS product_name,
		oi.quantity, oi.price_at_time, oi.created_at AS item_created_at
	FROM orders o
	LEFT JOIN users u ON u.user_id = o.user_id
	LEFT JOIN order_items oi ON oi.order_id = o.order_id
	LEFT JOIN products p ON p.product_id = oi.product_id`

const listOrder = `
	ORDER BY o.created_at DESC, o.order_id, oi.created_at, oi.item_id`

func list(ctx context.Context, db sqlx.ExtContext, where string, in any, withEmail bool) ([]OrderWithItems, error) {
	q := listQuery + where + listOrder

	var rows []orderRow
	if err := database.NamedQuerySlice(ctx, db, q, in, &rows); err != nil {
		return nil, err
	}
	return group(rows, withEmail), nil
}

func listByUser(ctx context.Context, db sqlx.ExtContext, userID string) ([]OrderWithItems, error) {
	in := struct {
		UserID string `db:"user_id"`
	}{userID}

	out, err := list(ctx, db, `
	WHERE o.user_id = :user_id`, in, false)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user[%s]: %w", userID, err)
	}
	return out, nil
}

func listAll(ctx context.Context, db sqlx.ExtContext) ([]OrderWithItems, error) {
	out, err := list(ctx, db, "", struct{}{}, true)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return out, nil
}

func fetch(ctx context.Context, db sqlx.ExtContext, id string) (OrderWithItems, error) {
	out, err := list(ctx, db, `
	WHERE o.order_id = :order_id`, orderIn{ID: id}, true)
	if err != nil {
		return OrderWithItems{}, fmt.Errorf("selecting order[%s]: %w", id, err)
	}
	if len(out) == 0 {
		return OrderWithItems{}, ErrOrderNotFound
	}
	return out[0], nil
}

// group folds the flat listing into one entry per order, in first-seen
// order. An order whose only row has null line columns gets an empty, non
// nil item slice.
func group(rows []orderRow, withEmail bool) []OrderWithItems {
	out := []OrderWithItems{}
	idx := make(map[string]int, len(rows))

	for _, r := range rows {
		i, ok := idx[r.OrderID]
		if !ok {
			o := Order{
				ID:        r.OrderID,
				Number:    r.Number,
				UserID:    r.UserID,
				Total:     r.Total,
				Status:    r.Status,
				CreatedAt: r.CreatedAt,
				UpdatedAt: r.UpdatedAt,
			}
			if withEmail {
				o.UserEmail = r.UserEmail.String
			}

			out = append(out, OrderWithItems{Order: o, Items: []Item{}})
			i = len(out) - 1
			idx[r.OrderID] = i
		}

		if !r.ItemID.Valid {
			continue
		}

		out[i].Items = append(out[i].Items, Item{
			ID:          r.ItemID.String,
			OrderID:     r.OrderID,
			ProductID:   r.ProductID.String,
			ProductName: r.ProductName.String,
			Quantity:    int(r.Quantity.Int64),
			PriceAtTime: r.PriceAtTime.Decimal,
			CreatedAt:   r.ItemCreatedAt.Time,
		})
	}

	return out
}
