package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type cartView struct {
	Cart
	Total decimal.Decimal `json:"total"`
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		c, err := FetchWithItems(ctx, db, clm.UserID)
		if err != nil {
			return fmt.Errorf("fetching cart of user[%s]: %w", clm.UserID, err)
		}

		return web.Respond(ctx, w, cartView{Cart: c, Total: c.Total()}, http.StatusOK)
	}
}

func HandleCount(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		n, err := Count(ctx, db, clm.UserID)
		if err != nil {
			return err
		}

		resp := struct {
			Count int `json:"count"`
		}{n}
		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

func HandleCreateItem(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var in ItemNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		it, err := AddItem(ctx, db, clm.UserID, in)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return weberr.NotFound(fmt.Errorf("product[%s] not found", in.ProductID))
			}
			return fmt.Errorf("adding product[%s] to cart: %w", in.ProductID, err)
		}

		return web.Respond(ctx, w, it, http.StatusCreated)
	}
}

func HandleUpdateItem(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		productID := web.Param(r, "product_id")
		if err := validate.CheckID(productID); err != nil {
			return weberr.NotFound(fmt.Errorf("cart item[%s]: %w", productID, err))
		}

		var in ItemUp
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		it, err := UpdateItem(ctx, db, clm.UserID, productID, in)
		if err != nil {
			if errors.Is(err, ErrItemNotFound) {
				return weberr.NotFound(fmt.Errorf("cart item[%s] not found", productID))
			}
			return fmt.Errorf("updating cart item[%s]: %w", productID, err)
		}

		return web.Respond(ctx, w, it, http.StatusOK)
	}
}

func HandleDeleteItem(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		productID := web.Param(r, "product_id")
		if err := validate.CheckID(productID); err != nil {
			return weberr.NotFound(fmt.Errorf("cart item[%s]: %w", productID, err))
		}

		if err := DeleteItem(ctx, db, clm.UserID, productID); err != nil {
			if errors.Is(err, ErrItemNotFound) {
				return weberr.NotFound(fmt.Errorf("cart item[%s] not found", productID))
			}
			return fmt.Errorf("deleting cart item[%s]: %w", productID, err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
