// Package httpx provides the HTTP API of the clipscore job system.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/clipscore/internal/domain/model"
	apperrors "github.com/target/clipscore/internal/errors"
	"github.com/target/clipscore/internal/service"
)

// JobHandlers provides HTTP handlers for job submission and queries.
type JobHandlers struct {
	Svc *service.JobService
	// MaxUploadBytes caps the upload body; 0 means unlimited.
	MaxUploadBytes int64
	Logger         *slog.Logger
}

func (h *JobHandlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	job, err := h.Svc.GetByID(r.Context(), jobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			WriteError(
				w,
				ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: errors.New("job not found")},
			)
			return
		}
		h.logger().ErrorContext(r.Context(), "get job failed", "job_id", jobID, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "get_job_failed",
			Err:     errors.New("failed to get job"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs. The owner query parameter wins over the header.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	owner := requestedOwner(r)
	if owner == "" {
		owner = model.GuestOwnerID
	}
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)

	jobs, err := h.Svc.ListByOwner(r.Context(), model.JobListByOwnerOptions{
		OwnerID: owner,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.logger().ErrorContext(r.Context(), "list jobs failed", "owner_id", owner, "error", err)
		writeServiceError(w, "list_jobs_failed", err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// Stats handles GET /api/jobs/stats.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		h.logger().ErrorContext(r.Context(), "job stats failed", "error", err)
		writeServiceError(w, "stats_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
