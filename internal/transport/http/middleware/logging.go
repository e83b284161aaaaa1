package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
)

// RequestLogger emits one ECS-shaped access log line per request. Probe
// routes are skipped.
func RequestLogger(logger *slog.Logger, level slog.Level) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Level:  level,
		Schema: httplog.SchemaECS,
		Skip: func(req *http.Request, respStatus int) bool {
			return respStatus < 400 && (req.URL.Path == "/healthz" || req.URL.Path == "/readyz")
		},
	})
}

type StatusRecorder interface {
	Record(status int, duration time.Duration)
}

func Metrics(recorder StatusRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			recorder.Record(status, time.Since(start))
		})
	}
}
