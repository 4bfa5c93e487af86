package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	healthResponse       = `{"status":"ok"}`
	defaultReadyTimeout  = 2 * time.Second
	readyStatusOK        = "ok"
	readyStatusUnhealthy = "unavailable"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// healthHandler is the liveness probe; it never touches dependencies.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, healthResponse)
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// readyHandler runs every check concurrently under a shared timeout.
// Any failure yields 503; error text stays in the logs.
type readyHandler struct {
	checks  map[string]ReadinessCheck
	timeout time.Duration
	logger  *slog.Logger
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timeout := h.timeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.checks[name](ctx)
		}()
	}
	wg.Wait()

	resp := readinessResponse{Status: readyStatusOK, Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for i, name := range names {
		if errs[i] != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", "check", name, "error", errs[i])
			resp.Checks[name] = readyStatusUnhealthy
			resp.Status = readyStatusUnhealthy
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = readyStatusOK
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(code)
		return
	}
	WriteJSON(w, code, resp)
}
