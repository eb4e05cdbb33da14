// Package server exposes the HTTP control surface: session start/stop/status,
// per-channel settings, subscription and usage records, the public overlay
// endpoints, and health/metrics. Admin routes sit behind auth and per-IP rate
// limiting; every request carries a correlation ID for consistent logging.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/streampilot/telemetry"
)

// NewMux returns the HTTP handler with all routes. The context bounds the rate
// limiter's cleanup goroutine.
func NewMux(ctx context.Context, db *sql.DB, manager BotManager, registry OverlayRegistry) http.Handler {
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()

	h := NewHandlers(db, manager, registry)

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)

	// Admin surface
	mux.HandleFunc("/bot/start", h.HandleBotStart)
	mux.HandleFunc("/bot/stop", h.HandleBotStop)
	mux.HandleFunc("/bot/status", h.HandleBotStatus)
	mux.HandleFunc("/settings/", h.HandleSettings)
	mux.HandleFunc("/subscriptions/", h.HandleSubscription)
	mux.HandleFunc("/usage/", h.HandleUsage)

	// Overlay surface: reads are public (consumed by browser sources), the
	// manual publish is admin-only
	mux.HandleFunc("/overlay/", h.HandleOverlayDispatcher)

	// Admin routes get auth plus rate limiting. Overlay reads stay public but
	// rate limited, so an unauthenticated client cannot hammer them; overlay
	// writes (the streamer's manual push) are admin-authed like the rest of
	// the control surface.
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAdminPath(r.URL.Path) {
			adminAuth(rateLimitMiddleware(mux, limiter), authCfg).ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/overlay/") {
			if r.Method == http.MethodGet {
				rateLimitMiddleware(mux, limiter).ServeHTTP(w, r)
				return
			}
			adminAuth(rateLimitMiddleware(mux, limiter), authCfg).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Correlation ID plus tracing wrapper around everything.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrapped, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrapped.statusCode)
		if wrapped.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrapped.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

func isAdminPath(path string) bool {
	for _, prefix := range []string{"/bot/", "/settings/", "/subscriptions/", "/usage/"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, db *sql.DB, manager BotManager, registry OverlayRegistry, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, db, manager, registry),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // SSE connections stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
