// Package middleware provides HTTP middleware for the formlog server.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/narvanalabs/formlog/pkg/logger"
)

// RequestLogger returns a middleware that logs HTTP requests and carries the
// request ID and caller address in the request context.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			requestID := middleware.GetReqID(r.Context())
			ctx := logger.ContextWithRequestID(r.Context(), requestID)
			ctx = logger.ContextWithRemoteAddr(ctx, r.RemoteAddr)

			defer func() {
				log.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).String(),
					"request_id", requestID,
					"remote_addr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}
