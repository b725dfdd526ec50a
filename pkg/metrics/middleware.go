package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware returns a middleware recording request counts and durations.
// The chi route pattern is used as the path label to keep cardinality bounded.
func (r *Registry) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			next.ServeHTTP(ww, req)

			path := req.URL.Path
			if rctx := chi.RouteContext(req.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}

			r.httpRequestsTotal.WithLabelValues(
				req.Method, path, strconv.Itoa(ww.Status()),
			).Inc()
			r.httpRequestDuration.WithLabelValues(req.Method, path).
				Observe(time.Since(start).Seconds())
		})
	}
}
