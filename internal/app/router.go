package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/consignment"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/grn"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/observability"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/stock"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	GRNHandler         *grn.Handler
	ConsignmentHandler *consignment.Handler
	StockHandler       *stock.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	Pool               *pgxpool.Pool
}

// NewRouter constructs the chi.Router with Dhruval defaults.
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

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Error("database ping failed", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/grn", func(r chi.Router) {
		params.GRNHandler.MountRoutes(r)
		if params.ConsignmentHandler != nil {
			r.Route("/{id}/consignment", params.ConsignmentHandler.MountRoutes)
		}
	})

	r.Route("/stock", func(r chi.Router) {
		if params.StockHandler != nil {
			params.StockHandler.MountRoutes(r)
		}
		params.GRNHandler.MountSummaryRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
