package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LogMiddleware logs probe traffic at debug level; orchestrators poll these
// endpoints every few seconds.
func LogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			slog.Debug("http_request",
				slog.String("method", r.Method),
				slog.String("url", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.Int("status", ww.Status()),
				slog.Int("response_size", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func WithRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic in handler",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"status": "error",
					"error":  "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// NewRouter mounts liveness, readiness and deep health.
func NewRouter(r *Reporter) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, WithRecover, LogMiddleware)

	mux.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.Live())
	})
	mux.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		rd := r.Ready()
		code := http.StatusOK
		if !rd.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rd)
	})
	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		rep := r.Deep()
		code := http.StatusOK
		if rep.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
