package order

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
)

func HandlePlace(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		ord, err := eng.PlaceOrder(ctx, clm.UserID)
		if err != nil {
			if errors.Is(err, ErrEmptyCart) {
				return weberr.Unprocessable(err, "no items to checkout")
			}
			return fmt.Errorf("placing order for user[%s]: %w", clm.UserID, err)
		}

		return web.Respond(ctx, w, ord, http.StatusCreated)
	}
}

func HandleListOwned(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		orders, err := eng.ListForUser(ctx, clm.UserID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, orders, http.StatusOK)
	}
}

func HandleShow(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")

		ord, err := eng.Fetch(ctx, id)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				return weberr.NotFound(fmt.Errorf("order[%s] not found", id))
			}
			return fmt.Errorf("fetching order[%s]: %w", id, err)
		}

		// Someone else's order is reported as missing.
		if !claims.CanAccess(ctx, ord.UserID) {
			return weberr.NotFound(fmt.Errorf("order[%s] not owned by caller", id))
		}
		if !claims.IsAdmin(ctx) {
			ord.UserEmail = ""
		}

		return web.Respond(ctx, w, ord, http.StatusOK)
	}
}

func HandleListAll(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		orders, err := eng.ListAll(ctx)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, orders, http.StatusOK)
	}
}

func HandleUpdateStatus(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")

		var up StatusUp
		if err := web.Decode(w, r, &up); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(up); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		if clm, err := claims.Get(ctx); err == nil {
			up.ChangedBy = clm.UserID
		}

		ord, err := eng.UpdateStatus(ctx, id, up)
		if err != nil {
			var terr *TransitionError
			switch {
			case errors.Is(err, ErrOrderNotFound):
				return weberr.NotFound(fmt.Errorf("order[%s] not found", id))
			case errors.As(err, &terr):
				return weberr.Conflict(err, terr.Error())
			case errors.Is(err, product.ErrInsufficientStock):
				return weberr.Conflict(err, "insufficient stock to confirm the order")
			}
			return fmt.Errorf("updating status of order[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, ord, http.StatusOK)
	}
}

func HandleHistory(eng *Engine) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")

		hs, err := eng.History(ctx, id)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				return weberr.NotFound(fmt.Errorf("order[%s] not found", id))
			}
			return fmt.Errorf("fetching history of order[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, hs, http.StatusOK)
	}
}
