package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/random"
)

const (
	RequestIDHeader = "X-Request-Id"

	maxRequestIDLength = 128
)

type reqIDKeyCtx int

const reqIDKey reqIDKeyCtx = 1

var reqSeq int64

// reqPrefix tells apart request ids of different processes.
var reqPrefix = func() string {
	p, err := random.StringSecure(10)
	if err != nil {
		return "storefront"
	}
	return p
}()

// RequestID reuses the caller's X-Request-Id or mints one, stores it in the
// context and echoes it on the response.
func RequestID() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			id := r.Header.Get(RequestIDHeader)
			switch {
			case id == "":
				id = fmt.Sprintf("%s-%06d", reqPrefix, atomic.AddInt64(&reqSeq, 1))
			case len(id) > maxRequestIDLength:
				id = id[:maxRequestIDLength]
			}

			ctx = context.WithValue(ctx, reqIDKey, id)
			w.Header().Set(RequestIDHeader, id)

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func ContextRequestID(ctx context.Context) string {
	id, _ := ctx.Value(reqIDKey).(string)
	return id
}
