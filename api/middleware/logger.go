package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/sirupsen/logrus"
	"github.com/zenazn/goji/web/mutil"
)

// Logger writes one line per request once the response is done. Server
// errors are logged at error level.
func Logger(log logrus.FieldLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			start := time.Now()

			entry := log.WithFields(logrus.Fields{
				"req_id":     ContextRequestID(ctx),
				"method":     r.Method,
				"path":       r.URL.Path,
				"remoteaddr": r.RemoteAddr,
			})
			entry.Debug("started")

			lw := mutil.WrapWriter(w)
			err := handler(ctx, lw, r)

			status := lw.Status()
			if status == 0 {
				status = http.StatusOK
			}

			entry = entry.WithFields(logrus.Fields{
				"statuscode": status,
				"bytes":      lw.BytesWritten(),
				"took_ms":    time.Since(start).Milliseconds(),
			})
			if status >= http.StatusInternalServerError {
				entry.Error("completed")
			} else {
				entry.Info("completed")
			}
			return err
		}
		return h
	}
	return m
}
