package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/rate"
)

// RateLimit throttles requests per authenticated user, falling back to the
// remote address. It must run after authentication.
func RateLimit(l *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			key := r.RemoteAddr
			if clm, err := claims.Get(ctx); err == nil {
				key = clm.UserID
			}

			if !l.Check(key) {
				return weberr.TooManyRequests(errors.New("rate limit exceeded"))
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
