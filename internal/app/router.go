package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/books"
	"github.com/odyssey-erp/loanbook/internal/entries"
	"github.com/odyssey-erp/loanbook/internal/gateway"
	"github.com/odyssey-erp/loanbook/internal/observability"
	"github.com/odyssey-erp/loanbook/internal/platform/httpx"
	"github.com/odyssey-erp/loanbook/jobs"
)

// RouterParams groups dependencies for building the API router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Verifier       *auth.Verifier
	BooksHandler   *books.Handler
	EntriesHandler *entries.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the API chi.Router with loanbook defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", Healthz)
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(params.Verifier, params.Logger))
		r.Route("/books", params.BooksHandler.MountRoutes)
		r.Route("/entries", params.EntriesHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}

// Healthz is the reachability probe target.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GatewayRouterParams groups dependencies for building the gateway router.
type GatewayRouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Handler *gateway.Handler
	Metrics *observability.Metrics
}

// NewGatewayRouter constructs the local gateway router. It carries no bearer
// auth: the gateway acts for the session it was configured with.
func NewGatewayRouter(params GatewayRouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", Healthz)
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	params.Handler.MountRoutes(r)
	return r
}
