package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/random"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyCart     = errors.New("cart is empty")
	ErrOrderNotFound = errors.New("order not found")
)

// Carts is the part of the cart store checkout depends on. Both methods run
// inside the caller's transaction.
type Carts interface {
	FetchForCheckout(ctx context.Context, tx sqlx.ExtContext, userID string) (cart.Cart, error)
	ClearItems(ctx context.Context, tx sqlx.ExtContext, cartID string) error
}

// Stock adjusts product stock inside the caller's transaction.
type Stock interface {
	DecrementStock(ctx context.Context, tx sqlx.ExtContext, productID string, qty int) error
	RestoreStock(ctx context.Context, tx sqlx.ExtContext, productID string, qty int) error
}

type Engine struct {
	log   logrus.FieldLogger
	db    *sqlx.DB
	carts Carts
	stock Stock
}

func NewEngine(log logrus.FieldLogger, db *sqlx.DB, carts Carts, stock Stock) *Engine {
	return &Engine{
		log:   log,
		db:    db,
		carts: carts,
		stock: stock,
	}
}

// PlaceOrder turns the user's cart into a pending order. The order, its
// lines, the first history entry and the emptying of the cart commit
// together or not at all.
func (e *Engine) PlaceOrder(ctx context.Context, userID string) (OrderWithItems, error) {
	var out OrderWithItems

	err := database.Transaction(ctx, e.db, func(tx sqlx.ExtContext) error {
		c, err := e.carts.FetchForCheckout(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, cart.ErrNotFound) {
				return ErrEmptyCart
			}
			return fmt.Errorf("loading cart: %w", err)
		}
		if len(c.Items) == 0 {
			return ErrEmptyCart
		}

		number, err := random.Reference("ORD", 10)
		if err != nil {
			return fmt.Errorf("generating order number: %w", err)
		}

		now := time.Now().UTC().Truncate(time.Microsecond)
		ord := Order{
			ID:        validate.GenerateID(),
			Number:    number,
			UserID:    userID,
			Total:     total(c.Items),
			Status:    Pending,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := create(ctx, tx, ord); err != nil {
			return err
		}

		items := make([]Item, 0, len(c.Items))
		for _, ci := range c.Items {
			it := Item{
				ID:          validate.GenerateID(),
				OrderID:     ord.ID,
				ProductID:   ci.ProductID,
				ProductName: ci.ProductName,
				Quantity:    ci.Quantity,
				PriceAtTime: ci.Price,
				CreatedAt:   now,
			}

			if err := createItem(ctx, tx, it); err != nil {
				return err
			}
			items = append(items, it)
		}

		h := History{
			ID:        validate.GenerateID(),
			OrderID:   ord.ID,
			To:        Pending,
			ChangedBy: &userID,
			CreatedAt: now,
		}
		if err := createHistory(ctx, tx, h); err != nil {
			return err
		}

		if err := e.carts.ClearItems(ctx, tx, c.ID); err != nil {
			return fmt.Errorf("clearing cart: %w", err)
		}

		out = OrderWithItems{Order: ord, Items: items}
		return nil
	})
	if err != nil {
		return OrderWithItems{}, err
	}

	e.log.WithFields(logrus.Fields{
		"order_id": out.ID,
		"number":   out.Number,
		"user_id":  userID,
		"total":    out.Total.StringFixed(2),
		"items":    len(out.Items),
	}).Info("order placed")

	return out, nil
}

func total(items []cart.Item) decimal.Decimal {
	tot := decimal.Zero
	for _, it := range items {
		tot = tot.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return tot
}

// UpdateStatus moves an order along the status graph. Confirming debits
// stock for every line; cancelling an order that still holds stock gives it
// back. A failed stock adjustment rolls the whole move back.
func (e *Engine) UpdateStatus(ctx context.Context, orderID string, up StatusUp) (OrderWithItems, error) {
	if err := validate.CheckID(orderID); err != nil {
		return OrderWithItems{}, ErrOrderNotFound
	}

	var (
		out  OrderWithItems
		from Status
	)

	err := database.Transaction(ctx, e.db, func(tx sqlx.ExtContext) error {
		ord, err := fetchForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		from = ord.Status
		if !CanTransition(from, up.Status) {
			return &TransitionError{From: from, To: up.Status}
		}

		now := time.Now().UTC().Truncate(time.Microsecond)
		ok, err := setStatus(ctx, tx, orderID, from, up.Status, now)
		if err != nil {
			return err
		}
		if !ok {
			return &TransitionError{From: from, To: up.Status}
		}

		if err := e.adjustStock(ctx, tx, orderID, from, up.Status); err != nil {
			return err
		}

		h := History{
			ID:        validate.GenerateID(),
			OrderID:   orderID,
			From:      &from,
			To:        up.Status,
			CreatedAt: now,
		}
		if up.ChangedBy != "" {
			h.ChangedBy = &up.ChangedBy
		}
		if err := createHistory(ctx, tx, h); err != nil {
			return err
		}

		out, err = fetch(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return OrderWithItems{}, err
	}

	e.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     from,
		"to":       up.Status,
	}).Info("order status changed")

	return out, nil
}

func (e *Engine) adjustStock(ctx context.Context, tx sqlx.ExtContext, orderID string, from, to Status) error {
	var adjust func(context.Context, sqlx.ExtContext, string, int) error
	switch {
	case to == Confirmed:
		adjust = e.stock.DecrementStock
	case to == Cancelled && from.holdsStock():
		adjust = e.stock.RestoreStock
	default:
		return nil
	}

	items, err := fetchItems(ctx, tx, orderID)
	if err != nil {
		return err
	}

	for _, it := range items {
		if err := adjust(ctx, tx, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("adjusting stock of product[%s] for order[%s]: %w", it.ProductID, orderID, err)
		}
	}
	return nil
}

func (e *Engine) Fetch(ctx context.Context, orderID string) (OrderWithItems, error) {
	if err := validate.CheckID(orderID); err != nil {
		return OrderWithItems{}, ErrOrderNotFound
	}
	return fetch(ctx, e.db, orderID)
}

// ListForUser returns the user's orders, newest first.
func (e *Engine) ListForUser(ctx context.Context, userID string) ([]OrderWithItems, error) {
	return listByUser(ctx, e.db, userID)
}

// ListAll returns every order, newest first, with the purchaser's email.
func (e *Engine) ListAll(ctx context.Context) ([]OrderWithItems, error) {
	return listAll(ctx, e.db)
}

func (e *Engine) History(ctx context.Context, orderID string) ([]History, error) {
	if err := validate.CheckID(orderID); err != nil {
		return nil, ErrOrderNotFound
	}

	if _, err := fetch(ctx, e.db, orderID); err != nil {
		return nil, err
	}
	return fetchHistory(ctx, e.db, orderID)
}
