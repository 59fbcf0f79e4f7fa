package router

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/reset"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/session"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/user"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request with a snowflake request id and
// records it in the HTTP metrics.
func LoggingMiddleware(logger *zap.SugaredLogger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = utilities.NewSnowflakeID()
			}
			w.Header().Set("X-Request-ID", reqID)

			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.Request(r.Method, route, strconv.Itoa(status), dur.Seconds())
			logger.Debugw("http request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Clickjacking protection
			w.Header().Set("X-Frame-Options", "DENY")

			w.Header().Set("Referrer-Policy", "no-referrer")

			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// pages carry a small inline stylesheet and nothing else
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; object-src 'none'; base-uri 'self'; form-action 'self'")
			}

			// HSTS only over TLS. 30 days.
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			// gated pages and reset links must not be cached
			w.Header().Set("Cache-Control", "no-store")

			next.ServeHTTP(w, r)
		})
	}
}

// Deps carries the handlers and shared services the routes need.
type Deps struct {
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics
	DB       *sqlx.DB
	Sessions *session.Manager
	Users    *user.Handler
	Reset    *reset.Handler
	Survey   *survey.Handler
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	gate := d.Sessions.RequireAuth

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			if err := d.DB.PingContext(ctx); err != nil {
				d.Logger.Warnw("health check failed", "err", err)
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", d.Metrics.Handler())

	// accounts
	mux.HandleFunc("GET /signup", d.Users.SignupForm)
	mux.HandleFunc("POST /signup", d.Users.Signup)
	mux.HandleFunc("GET /login", d.Users.LoginForm)
	mux.HandleFunc("POST /login", d.Users.Login)
	mux.HandleFunc("GET /logout", d.Users.Logout)

	// password reset
	mux.HandleFunc("GET /forgot-password", d.Reset.ForgotForm)
	mux.HandleFunc("POST /forgot-password", d.Reset.Forgot)
	mux.HandleFunc("GET /reset-password/{token}", d.Reset.ResetForm)
	mux.HandleFunc("POST /reset-password/{token}", d.Reset.Reset)

	// gated
	mux.Handle("GET /{$}", gate(http.HandlerFunc(d.Survey.Home)))
	mux.Handle("GET /form", gate(http.HandlerFunc(d.Survey.Form)))
	mux.Handle("POST /predict", gate(http.HandlerFunc(d.Survey.Predict)))

	// wrap with security headers middleware then logging middleware
	return LoggingMiddleware(d.Logger, d.Metrics)(SecurityHeadersMiddleware()(mux))
}
