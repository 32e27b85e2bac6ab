// ABOUTME: HTTP middleware giving every request its own event buffer
// ABOUTME: Flushes after the handler returns; flush failures never fail the request

package eventlog

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// flushTimeout bounds the end-of-request write.
const flushTimeout = 5 * time.Second

// Middleware opens a buffer per request and flushes it when the handler returns.
// A panicking handler skips the flush. onFlushError, if set, is called for each failed flush.
func Middleware(sink Sink, logger *slog.Logger, onFlushError func(error)) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "eventlog")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := NewBuffer(sink)
			next.ServeHTTP(w, r.WithContext(WithBuffer(r.Context(), buf)))

			// The response is already written; a client disconnect must not drop the events.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), flushTimeout)
			defer cancel()

			if err := buf.Flush(ctx); err != nil {
				logger.Error("failed to flush request events", "path", r.URL.Path, "error", err)
				if onFlushError != nil {
					onFlushError(err)
				}
			}
		})
	}
}
