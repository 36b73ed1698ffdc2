package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchrun/internal/api/response"
	"github.com/kiranshivaraju/batchrun/internal/store"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HistoryReader is the read side of the job history archive.
type HistoryReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.JobSummary, error)
	ListJobs(ctx context.Context, filter store.HistoryFilter) ([]*models.JobSummary, int, error)
}

// NewHistoryListHandler returns an http.HandlerFunc for GET /api/v1/history.
func NewHistoryListHandler(h HistoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		status := models.JobStatus(q.Get("status"))
		if status != "" && !status.IsTerminal() {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"status must be completed or failed", nil)
			return
		}

		var since time.Time
		if raw := q.Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
					"since must be a valid RFC3339 timestamp", nil)
				return
			}
			since = t
		}

		req, err := pageRequest(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
			return
		}
		if req.Limit < 0 || req.Offset < 0 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"limit and offset must be non-negative", nil)
			return
		}
		limit := effectiveLimit(req.Limit, defaultHistoryLimit, maxHistoryLimit)

		summaries, total, err := h.ListJobs(r.Context(), store.HistoryFilter{
			Status:   status,
			Executor: q.Get("executor"),
			Since:    since,
			Limit:    limit,
			Offset:   req.Offset,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, response.CodeInternal,
				"Failed to read job history", nil)
			return
		}

		response.Collection(w, summaries, response.PaginationMeta{
			Offset:  req.Offset,
			Limit:   limit,
			Total:   total,
			HasNext: req.Offset+len(summaries) < total,
		})
	}
}

// NewHistoryGetHandler returns an http.HandlerFunc for GET /api/v1/history/{jobID}.
func NewHistoryGetHandler(h HistoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, response.CodeJobNotFound, "Job not found", nil)
			return
		}

		summary, err := h.GetJob(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeJobNotFound, "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, response.CodeInternal,
				"Failed to read job history", nil)
			return
		}
		response.JSON(w, summary)
	}
}
