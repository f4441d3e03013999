package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/promorec/promorec/internal/ratelimit"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// slogMiddleware logs one line per request. The UI polls the session and
// health endpoints continuously, so successful reads of those are skipped.
func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if r.Method == http.MethodGet && r.URL.Path == "/api/session" && recorder.statusCode < 400 {
			return
		}

		level := slog.LevelInfo
		switch {
		case recorder.statusCode >= 500:
			level = slog.LevelError
		case recorder.statusCode >= 400:
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ratelimit.ClientIP(r),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
