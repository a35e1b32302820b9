package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/irsalhamdi/storefront/api/middleware"
	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/core/auth"
	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/core/order"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/core/user"
	"github.com/irsalhamdi/storefront/rate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin      string
	Log             logrus.FieldLogger
	DB              *sqlx.DB
	Verifier        auth.Verifier
	Orders          *order.Engine
	CheckoutLimiter *rate.Limiter
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := auth.Authenticate(cfg.DB, cfg.Verifier)
	admin := auth.Admin(cfg.DB, cfg.Verifier)

	var checkoutLimit web.Middleware
	if cfg.CheckoutLimiter != nil {
		checkoutLimit = middleware.RateLimit(cfg.CheckoutLimiter)
	}

	a.Handle(http.MethodGet, "/users/current", user.HandleShowCurrent(cfg.DB), authen)

	a.Handle(http.MethodGet, "/products/{id}", product.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/products", product.HandleList(cfg.DB))
	a.Handle(http.MethodPost, "/products", product.HandleCreate(cfg.DB), admin)
	a.Handle(http.MethodPut, "/products/{id}", product.HandleUpdate(cfg.DB), admin)
	a.Handle(http.MethodDelete, "/products/{id}", product.HandleDelete(cfg.DB), admin)

	a.Handle(http.MethodGet, "/cart", cart.HandleShow(cfg.DB), authen)
	a.Handle(http.MethodGet, "/cart/count", cart.HandleCount(cfg.DB), authen)
	a.Handle(http.MethodPost, "/cart/items", cart.HandleCreateItem(cfg.DB), authen)
	a.Handle(http.MethodPut, "/cart/items/{product_id}", cart.HandleUpdateItem(cfg.DB), authen)
	a.Handle(http.MethodDelete, "/cart/items/{product_id}", cart.HandleDeleteItem(cfg.DB), authen)

	a.Handle(http.MethodPost, "/orders", order.HandlePlace(cfg.Orders), authen, checkoutLimit)
	a.Handle(http.MethodGet, "/orders", order.HandleListOwned(cfg.Orders), authen)
	a.Handle(http.MethodGet, "/orders/{id}", order.HandleShow(cfg.Orders), authen)

	a.Handle(http.MethodGet, "/admin/orders", order.HandleListAll(cfg.Orders), admin)
	a.Handle(http.MethodPut, "/admin/orders/{id}/status", order.HandleUpdateStatus(cfg.Orders), admin)
	a.Handle(http.MethodGet, "/admin/orders/{id}/history", order.HandleHistory(cfg.Orders), admin)

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
