package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/rate"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h web.Handler, mw ...web.Middleware) *httptest.ResponseRecorder {
	h = web.WrapMiddleware(mw, h)

	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	w := httptest.NewRecorder()
	_ = h(r.Context(), w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body weberr.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestErrors(t *testing.T) {
	log, hook := test.NewNullLogger()

	t.Run("typed error", func(t *testing.T) {
		hook.Reset()
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return weberr.Conflict(errors.New("lost race"), "cannot move order")
		}

		w := serve(h, RequestID(), Errors(log))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "cannot move order", decodeError(t, w))
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		assert.NotEmpty(t, hook.LastEntry().Data["req_id"])
	})

	t.Run("untyped error", func(t *testing.T) {
		hook.Reset()
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return errors.New("connection refused")
		}

		w := serve(h, Errors(log))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, http.StatusText(http.StatusInternalServerError), decodeError(t, w))
		assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	})
}

func TestPanics(t *testing.T) {
	log, hook := test.NewNullLogger()

	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		panic("nil map")
	}

	w := serve(h, Errors(log), Panics())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Data, "trace")
}

func TestRateLimit(t *testing.T) {
	log, _ := test.NewNullLogger()
	lim := rate.NewLimiter(1, time.Hour, time.Hour)

	ok := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
	as := func(userID string) web.Middleware {
		return func(next web.Handler) web.Handler {
			return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				return next(claims.Set(ctx, claims.Claims{UserID: userID, Role: claims.RoleUser}), w, r)
			}
		}
	}

	assert.Equal(t, http.StatusNoContent, serve(ok, Errors(log), as("u1"), RateLimit(lim)).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(ok, Errors(log), as("u1"), RateLimit(lim)).Code)
	assert.Equal(t, http.StatusNoContent, serve(ok, Errors(log), as("u2"), RateLimit(lim)).Code)
}

func TestCors(t *testing.T) {
	ok := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	w := serve(ok, Cors("https://shop.example.com"))
	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDAndLogger(t *testing.T) {
	log, hook := test.NewNullLogger()

	var seen string
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		seen = ContextRequestID(ctx)
		return web.Respond(ctx, w, map[string]string{"ok": "yes"}, http.StatusOK)
	}

	w := serve(h, RequestID(), Logger(log))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "completed", entry.Message)
	assert.Equal(t, seen, entry.Data["req_id"])
	assert.Equal(t, http.StatusOK, entry.Data["statuscode"])

	h2 := web.WrapMiddleware([]web.Middleware{RequestID()}, h)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "client-supplied")
	_ = h2(r.Context(), httptest.NewRecorder(), r)
	assert.Equal(t, "client-supplied", seen)
}
