// Package api implements the external HTTP and WebSocket surface: the
// synchronous screenshot query, static image serving, the agent upgrade
// endpoint, Prometheus metrics, and a liveness probe.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/remoshot/coordinator/internal/imagestore"
	"github.com/remoshot/coordinator/internal/registry"
	"github.com/remoshot/coordinator/internal/secretauth"
	"github.com/remoshot/coordinator/internal/session"
)

// screenshotDeadline bounds how long GET /screenshot waits for agents to
// respond before returning a partial result, per spec.md §6's "10 s by
// default".
const screenshotDeadline = 10 * time.Second

// Dispatcher is the subset of internal/coordinator.Coordinator the HTTP
// layer needs, kept as an interface so this package does not import
// coordinator directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, deadline time.Duration) map[string][]string
}

// Deliverer is the subset of internal/coordinator.Coordinator the WebSocket
// session layer needs.
type Deliverer interface {
	Deliver(requestID, agentName string, urls []string)
}

// RouterConfig holds the fully constructed dependencies the router wires
// into handlers. Populated once in cmd/remoshotd after startup.
type RouterConfig struct {
	Dispatcher Dispatcher
	Deliverer  Deliverer
	Registry   *registry.Registry
	ImageStore *imagestore.Store
	Auth       *secretauth.Authenticator
	Logger     *zap.Logger
}

// NewRouter builds the fully configured Chi router. A single mux serves both
// the HTTP endpoints and the WebSocket upgrade — cmd/remoshotd binds it to
// two listeners, the HTTP address and the WebSocket port.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	screenshotHandler := NewScreenshotHandler(cfg.Dispatcher, cfg.Logger)

	r.Get("/screenshot", screenshotHandler.Get)
	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/images/*", http.StripPrefix("/images/", http.FileServer(http.Dir(cfg.ImageStore.Dir()))))

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		session.Serve(w, r, session.Deps{
			Registry:   cfg.Registry,
			Auth:       cfg.Auth,
			ImageStore: cfg.ImageStore,
			Deliverer:  cfg.Deliverer,
			Logger:     cfg.Logger,
		})
	})

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
