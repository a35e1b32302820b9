package product

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
)

func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		products, err := List(ctx, db)
		if err != nil {
			return fmt.Errorf("listing products: %w", err)
		}

		return web.Respond(ctx, w, products, http.StatusOK)
	}
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NotFound(fmt.Errorf("product[%s]: %w", id, err))
		}

		p, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(fmt.Errorf("product[%s] not found", id))
			}
			return fmt.Errorf("fetching product[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, p, http.StatusOK)
	}
}

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var pn ProductNew
		if err := web.Decode(w, r, &pn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(pn); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		if err := validate.Money(pn.Price); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		now := time.Now().UTC()
		p := Product{
			ID:          validate.GenerateID(),
			Name:        pn.Name,
			Description: pn.Description,
			ImageURL:    pn.ImageURL,
			Price:       pn.Price,
			Stock:       pn.Stock,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := Create(ctx, db, p); err != nil {
			return fmt.Errorf("creating product: %w", err)
		}

		return web.Respond(ctx, w, p, http.StatusCreated)
	}
}

func HandleUpdate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NotFound(fmt.Errorf("product[%s]: %w", id, err))
		}

		var pu ProductUp
		if err := web.Decode(w, r, &pu); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(pu); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		if pu.Price != nil {
			if err := validate.Money(*pu.Price); err != nil {
				return weberr.NewError(err, err.Error(), http.StatusBadRequest)
			}
		}

		p, err := Update(ctx, db, id, pu, time.Now().UTC())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(fmt.Errorf("product[%s] not found", id))
			}
			return fmt.Errorf("updating product[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, p, http.StatusOK)
	}
}

func HandleDelete(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NotFound(fmt.Errorf("product[%s]: %w", id, err))
		}

		if err := Delete(ctx, db, id, time.Now().UTC()); err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(fmt.Errorf("product[%s] not found", id))
			}
			return fmt.Errorf("deleting product[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
