package handler

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"token_exchange/internal/infra"
	"token_exchange/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a chi router with all routes registered and request
// logging. feed serves the settlement websocket and may be nil.
func NewRouter(
	svc *service.ExchangeService,
	auth *Authenticator,
	feed http.Handler,
	metrics *infra.Metrics,
	logger *slog.Logger,
) chi.Router {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}

	r := chi.NewRouter()

	// Global middleware.
	r.Use(middleware.Recoverer)
	r.Use(requestLogging(logger))

	exchangeH := NewExchangeHandler(svc)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/debug/metrics", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, metrics.Snapshot())
	})

	// Public catalog.
	r.Get("/api/prices", exchangeH.ListPrices)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(auth.Require)

		r.Post("/api/exchange/", exchangeH.PlaceOrder)
		r.Post("/api/exchange", exchangeH.PlaceOrder)
		r.Post("/exchange-order", exchangeH.PlaceOrder)

		r.Get("/api/balance", exchangeH.GetBalance)
		r.Get("/api/orders", exchangeH.ListOrders)

		if feed != nil {
			r.Method(http.MethodGet, "/ws/settlements", feed)
		}
	})

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
