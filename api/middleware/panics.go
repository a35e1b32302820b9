package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
)

// Panics converts a panic in the handler chain into an error so that Errors
// can log it and answer with a 500.
func Panics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = weberr.Wrap(
						fmt.Errorf("panic: %v", rec),
						weberr.WithFields(map[string]interface{}{"trace": string(debug.Stack())}),
					)
				}
			}()

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
