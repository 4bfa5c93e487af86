package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/clipscore/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs *service.JobService
	// Hub serves /ws when set.
	Hub            *EventHub
	MaxUploadBytes int64
	// Readiness backs /readyz; an empty map reports ready.
	Readiness map[string]ReadinessCheck
	Logger    *slog.Logger
}

// NewRouter creates the API router wrapped in recovery and request logging.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()
	registerJobRoutes(mux, &JobHandlers{
		Svc:            services.Jobs,
		MaxUploadBytes: services.MaxUploadBytes,
		Logger:         logger,
	})
	if services.Hub != nil {
		mux.Handle("GET /ws", services.Hub)
	}
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	ready := &readyHandler{checks: services.Readiness, logger: logger}
	mux.Handle("GET /readyz", ready)
	mux.Handle("HEAD /readyz", ready)

	return Recover(logger)(Logging(logger)(mux))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/upload", h.Upload)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/stats", h.Stats)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
}
