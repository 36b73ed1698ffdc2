// Package handler implements the HTTP handlers of the batchrun API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchrun/internal/analysis"
	"github.com/kiranshivaraju/batchrun/internal/api/response"
	"github.com/kiranshivaraju/batchrun/internal/jobs"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

const maxSubmitBody = 10 << 20

// JobService defines the job operations the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, items []models.Item, opts jobs.SubmitOptions) (jobs.SubmitReceipt, error)
	Status(ctx context.Context, id uuid.UUID) (models.JobStatusView, error)
	Results(ctx context.Context, id uuid.UUID, req jobs.PageRequest) (jobs.Page, error)
	Errors(ctx context.Context, id uuid.UUID, req jobs.PageRequest) (jobs.ErrorPage, error)
	ErrorSummary(ctx context.Context, id uuid.UUID) ([]analysis.ErrorGroup, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter jobs.ListFilter) ([]models.JobStatusView, int, error)
	Purge(ctx context.Context, id uuid.UUID) error
}

type submitRequest struct {
	Items       []models.Item `json:"items"`
	Concurrency int           `json:"concurrency"`
}

type submitResponse struct {
	JobID               uuid.UUID        `json:"job_id"`
	Status              models.JobStatus `json:"status"`
	Concurrency         int              `json:"concurrency"`
	EstimatedDurationMs int64            `json:"estimated_duration_ms"`
	StatusURL           string           `json:"status_url"`
}

type cancelResponse struct {
	JobID           uuid.UUID `json:"job_id"`
	CancelRequested bool      `json:"cancel_requested"`
}

type errorSummaryResponse struct {
	Groups      []analysis.ErrorGroup `json:"groups"`
	TotalErrors int                   `json:"total_errors"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		if len(req.Items) == 0 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "items must not be empty", nil)
			return
		}

		receipt, err := svc.Submit(r.Context(), req.Items, jobs.SubmitOptions{Concurrency: req.Concurrency})
		if err != nil {
			writeJobError(w, err)
			return
		}

		w.Header().Set("Location", statusURL(receipt.JobID))
		response.Accepted(w, submitResponse{
			JobID:               receipt.JobID,
			Status:              models.JobStatusPending,
			Concurrency:         receipt.Concurrency,
			EstimatedDurationMs: receipt.EstimatedDuration.Milliseconds(),
			StatusURL:           statusURL(receipt.JobID),
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		view, err := svc.Status(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewResultsHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/results.
func NewResultsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		req, err := pageRequest(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
			return
		}
		q := r.URL.Query()
		req.Format = jobs.Format(q.Get("format"))
		req.Filter = jobs.ResultFilter{
			ItemIDPrefix: q.Get("item_id_prefix"),
			Contains:     q.Get("contains"),
		}

		page, err := svc.Results(r.Context(), id, req)
		if err != nil {
			writeJobError(w, err)
			return
		}

		if page.Format == jobs.FormatCSV {
			response.CSV(w, page.CSV, page.Total, page.HasMore)
			return
		}
		response.JSON(w, page)
	}
}

// NewErrorsHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/errors.
// With grouped=true it returns error groups instead of a page of messages.
func NewErrorsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		if grouped := r.URL.Query().Get("grouped"); grouped != "" {
			g, err := strconv.ParseBool(grouped)
			if err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "grouped must be a boolean", nil)
				return
			}
			if g {
				groups, err := svc.ErrorSummary(r.Context(), id)
				if err != nil {
					writeJobError(w, err)
					return
				}
				total := 0
				for _, grp := range groups {
					total += grp.Count
				}
				response.JSON(w, errorSummaryResponse{Groups: groups, TotalErrors: total})
				return
			}
		}

		req, err := pageRequest(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
			return
		}
		page, err := svc.Errors(r.Context(), id, req)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, page)
	}
}

// NewCancelHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
// The job finishes its in-flight items after this returns.
func NewCancelHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		if err := svc.Cancel(r.Context(), id); err != nil {
			writeJobError(w, err)
			return
		}
		response.Accepted(w, cancelResponse{JobID: id, CancelRequested: true})
	}
}

// NewListHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := pageRequest(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
			return
		}
		filter := jobs.ListFilter{
			Status: models.JobStatus(r.URL.Query().Get("status")),
			Limit:  req.Limit,
			Offset: req.Offset,
		}

		views, total, err := svc.List(r.Context(), filter)
		if err != nil {
			writeJobError(w, err)
			return
		}

		limit := effectiveLimit(req.Limit, jobs.DefaultPageLimit, jobs.MaxPageLimit)
		response.Collection(w, views, response.PaginationMeta{
			Offset:  req.Offset,
			Limit:   limit,
			Total:   total,
			HasNext: req.Offset+len(views) < total,
		})
	}
}

// NewPurgeHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewPurgeHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		if err := svc.Purge(r.Context(), id); err != nil {
			writeJobError(w, err)
			return
		}
		response.NoContent(w)
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeJobNotFound, "Job not found", nil)
	case errors.Is(err, jobs.ErrInvalidState):
		response.Error(w, http.StatusConflict, response.CodeInvalidState, err.Error(), nil)
	case errors.Is(err, jobs.ErrShuttingDown):
		response.Error(w, http.StatusServiceUnavailable, response.CodeShuttingDown,
			"The service is shutting down", nil)
	default:
		response.Error(w, http.StatusInternalServerError, response.CodeInternal,
			"An unexpected error occurred", nil)
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		// A malformed id can never name a job.
		response.Error(w, http.StatusNotFound, response.CodeJobNotFound, "Job not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

// pageRequest reads limit and offset. Range checks are left to the service.
func pageRequest(r *http.Request) (jobs.PageRequest, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return jobs.PageRequest{}, err
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		return jobs.PageRequest{}, err
	}
	return jobs.PageRequest{Limit: limit, Offset: offset}, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func effectiveLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func statusURL(id uuid.UUID) string {
	return "/api/v1/jobs/" + id.String()
}
