package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts and times requests per route template and logs them at debug.
func (s *Server) instrument(next http.Handler) http.Handler {
	return s.instrumentAs(routeTemplate, next)
}

func (s *Server) instrumentAs(routeOf func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		latency := time.Since(start)

		route := routeOf(r)
		if s.metrics != nil {
			s.metrics.HTTPRequest(route, rec.code).Inc()
			s.metrics.HTTPLatency(route).Observe(latency.Seconds())
		}
		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.code).
			Dur("latency", latency).
			Msg("HTTP request")
	})
}

// routeTemplate falls back to the raw path, which only happens for
// registered paths hit with the wrong method.
func routeTemplate(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// unmatchedRoute keeps arbitrary paths out of the metric labels.
func unmatchedRoute(*http.Request) string {
	return "unmatched"
}

func timeoutMiddleware(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
