package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound     = errors.New("cart not found")
	ErrItemNotFound = errors.New("cart item not found")
)

type userIn struct {
	UserID string `db:"user_id"`
}

type cartIn struct {
	CartID string `db:"cart_id"`
}

// Ensure returns the cart of userID, creating it on first access. The
// statement row-locks the cart until the enclosing transaction ends, which
// orders cart mutations against a concurrent checkout.
func Ensure(ctx context.Context, db sqlx.ExtContext, userID string) (Cart, error) {
	now := time.Now().UTC()
	c := Cart{
		ID:        validate.GenerateID(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	const q = `
	INSERT INTO carts
		(cart_id, user_id, created_at, updated_at)
	VALUES
		(:cart_id, :user_id, :created_at, :updated_at)
	ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	RETURNING cart_id, user_id, created_at, updated_at`

	var out Cart
	if err := database.NamedQueryStruct(ctx, db, q, c, &out); err != nil {
		return Cart{}, fmt.Errorf("upserting cart of user[%s]: %w", userID, err)
	}
	out.Items = []Item{}
	return out, nil
}

func FetchItems(ctx context.Context, db sqlx.ExtContext, cartID string) ([]Item, error) {
	const q = `
	SELECT
		ci.cart_id, ci.product_id, ci.user_id, p.name AS product_name,
		ci.quantity, ci.price, ci.created_at, ci.updated_at
	FROM cart_items ci
	JOIN products p ON p.product_id = ci.product_id
	WHERE ci.cart_id = :cart_id
	ORDER BY ci.created_at, ci.product_id`

	items := []Item{}
	if err := database.NamedQuerySlice(ctx, db, q, cartIn{CartID: cartID}, &items); err != nil {
		return nil, fmt.Errorf("selecting items of cart[%s]: %w", cartID, err)
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// FetchWithItems returns the user's cart, creating an empty one if needed.
func FetchWithItems(ctx context.Context, db *sqlx.DB, userID string) (Cart, error) {
	var c Cart
	err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		var err error
		if c, err = Ensure(ctx, tx, userID); err != nil {
			return err
		}
		c.Items, err = FetchItems(ctx, tx, c.ID)
		return err
	})
	if err != nil {
		return Cart{}, err
	}
	return c, nil
}

// FetchForCheckout locks the user's cart row for the rest of tx and loads
// its items. It never creates a cart.
func FetchForCheckout(ctx context.Context, tx sqlx.ExtContext, userID string) (Cart, error) {
	c, err := lock(ctx, tx, userID)
	if err != nil {
		return Cart{}, err
	}

	if c.Items, err = FetchItems(ctx, tx, c.ID); err != nil {
		return Cart{}, err
	}
	return c, nil
}

func lock(ctx context.Context, tx sqlx.ExtContext, userID string) (Cart, error) {
	const q = `
	SELECT
		cart_id, user_id, created_at, updated_at
	FROM carts
	WHERE user_id = :user_id
	FOR UPDATE`

	var c Cart
	if err := database.NamedQueryStruct(ctx, tx, q, userIn{UserID: userID}, &c); err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("locking cart of user[%s]: %w", userID, err)
	}
	return c, nil
}

// AddItem puts qty units of a product in the user's cart. An existing line
// for the same product grows by qty and keeps its original price.
func AddItem(ctx context.Context, db *sqlx.DB, userID string, in ItemNew) (Item, error) {
	var it Item
	err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		c, err := Ensure(ctx, tx, userID)
		if err != nil {
			return err
		}

		p, err := product.FetchShared(ctx, tx, in.ProductID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		row := Item{
			CartID:    c.ID,
			ProductID: p.ID,
			UserID:    userID,
			Quantity:  in.Quantity,
			Price:     p.Price,
			CreatedAt: now,
			UpdatedAt: now,
		}

		const q = `
		INSERT INTO cart_items
			(cart_id, product_id, user_id, quantity, price, created_at, updated_at)
		VALUES
			(:cart_id, :product_id, :user_id, :quantity, :price, :created_at, :updated_at)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET
			quantity = cart_items.quantity + EXCLUDED.quantity,
			updated_at = EXCLUDED.updated_at
		RETURNING cart_id, product_id, user_id, quantity, price, created_at, updated_at`

		if err := database.NamedQueryStruct(ctx, tx, q, row, &it); err != nil {
			return fmt.Errorf("upserting item[%s] in cart[%s]: %w", p.ID, c.ID, err)
		}
		it.ProductName = p.Name
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

func UpdateItem(ctx context.Context, db *sqlx.DB, userID string, productID string, in ItemUp) (Item, error) {
	var it Item
	err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		c, err := lock(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrItemNotFound
			}
			return err
		}

		row := Item{
			CartID:    c.ID,
			ProductID: productID,
			Quantity:  in.Quantity,
			UpdatedAt: time.Now().UTC(),
		}

		const q = `
		UPDATE cart_items SET
			quantity = :quantity,
			updated_at = :updated_at
		WHERE cart_id = :cart_id AND product_id = :product_id
		RETURNING cart_id, product_id, user_id, quantity, price, created_at, updated_at`

		if err := database.NamedQueryStruct(ctx, tx, q, row, &it); err != nil {
			if errors.Is(err, database.ErrDBNotFound) {
				return ErrItemNotFound
			}
			return fmt.Errorf("updating item[%s] in cart[%s]: %w", productID, c.ID, err)
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

func DeleteItem(ctx context.Context, db *sqlx.DB, userID string, productID string) error {
	return database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		c, err := lock(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrItemNotFound
			}
			return err
		}

		in := struct {
			CartID    string `db:"cart_id"`
			ProductID string `db:"product_id"`
		}{
			CartID:    c.ID,
			ProductID: productID,
		}

		const q = `
		DELETE FROM cart_items
		WHERE cart_id = :cart_id AND product_id = :product_id`

		n, err := database.NamedExecAffected(ctx, tx, q, in)
		if err != nil {
			return fmt.Errorf("deleting item[%s] from cart[%s]: %w", productID, c.ID, err)
		}
		if n == 0 {
			return ErrItemNotFound
		}
		return nil
	})
}

// ClearItems empties a cart. The cart row itself is kept.
func ClearItems(ctx context.Context, tx sqlx.ExtContext, cartID string) error {
	const q = `
	DELETE FROM cart_items
	WHERE cart_id = :cart_id`

	if err := database.NamedExecContext(ctx, tx, q, cartIn{CartID: cartID}); err != nil {
		return fmt.Errorf("clearing cart[%s]: %w", cartID, err)
	}
	return nil
}

// Count is the total quantity of all items in the user's cart.
func Count(ctx context.Context, db sqlx.ExtContext, userID string) (int, error) {
	const q = `
	SELECT
		COALESCE(SUM(quantity), 0) AS count
	FROM cart_items
	WHERE user_id = :user_id`

	var out struct {
		Count int `db:"count"`
	}
	if err := database.NamedQueryStruct(ctx, db, q, userIn{UserID: userID}, &out); err != nil {
		return 0, fmt.Errorf("counting cart items of user[%s]: %w", userID, err)
	}
	return out.Count, nil
}

// Repository exposes the checkout side of the cart store as a value that
// can be handed to the order engine.
type Repository struct{}

func (Repository) FetchForCheckout(ctx context.Context, tx sqlx.ExtContext, userID string) (Cart, error) {
	return FetchForCheckout(ctx, tx, userID)
}

func (Repository) ClearItems(ctx context.Context, tx sqlx.ExtContext, cartID string) error {
	return ClearItems(ctx, tx, cartID)
}
