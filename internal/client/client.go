// Package client is a Go client for the batchrun HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchrun/internal/analysis"
	"github.com/kiranshivaraju/batchrun/internal/jobs"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

// Sentinel errors for API failures.
var (
	ErrUnreachable    = errors.New("batchrun server unreachable")
	ErrTimeout        = errors.New("batchrun request timeout")
	ErrNotFound       = errors.New("job not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidState   = errors.New("invalid job state")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrUnavailable    = errors.New("service unavailable")
	ErrServer         = errors.New("server error")
)

const defaultPollInterval = 500 * time.Millisecond

// Client talks to one batchrun server.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	JobID               uuid.UUID        `json:"job_id"`
	Status              models.JobStatus `json:"status"`
	Concurrency         int              `json:"concurrency"`
	EstimatedDurationMs int64            `json:"estimated_duration_ms"`
	StatusURL           string           `json:"status_url"`
}

// ResultsQuery selects a results page.
type ResultsQuery struct {
	Limit        int
	Offset       int
	ItemIDPrefix string
	Contains     string
}

func (q ResultsQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.ItemIDPrefix != "" {
		v.Set("item_id_prefix", q.ItemIDPrefix)
	}
	if q.Contains != "" {
		v.Set("contains", q.Contains)
	}
	return v
}

// ErrorSummary is the grouped view of a job's item errors.
type ErrorSummary struct {
	Groups      []analysis.ErrorGroup `json:"groups"`
	TotalErrors int                   `json:"total_errors"`
}

// Submit sends a batch. concurrency 0 lets the server choose.
func (c *Client) Submit(ctx context.Context, items []models.Item, concurrency int) (*SubmitResponse, error) {
	body, err := json.Marshal(map[string]any{"items": items, "concurrency": concurrency})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	var out SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/jobs", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the job's current status.
func (c *Client) Status(ctx context.Context, id uuid.UUID) (*models.JobStatusView, error) {
	var out models.JobStatusView
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+id.String(), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Results returns one JSON page of results.
func (c *Client) Results(ctx context.Context, id uuid.UUID, q ResultsQuery) (*jobs.Page, error) {
	var out jobs.Page
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+id.String()+"/results", q.values(), nil, &out); err != nil {
		return nil, err
	}
	out.Format = jobs.FormatJSON
	return &out, nil
}

// ResultsCSV returns one page of results rendered as CSV.
func (c *Client) ResultsCSV(ctx context.Context, id uuid.UUID, q ResultsQuery) ([]byte, error) {
	v := q.values()
	v.Set("format", string(jobs.FormatCSV))

	resp, err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id.String()+"/results", v, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading csv response: %w", err)
	}
	return b, nil
}

// Errors returns one page of item errors.
func (c *Client) Errors(ctx context.Context, id uuid.UUID, limit, offset int) (*jobs.ErrorPage, error) {
	q := ResultsQuery{Limit: limit, Offset: offset}
	var out jobs.ErrorPage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+id.String()+"/errors", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ErrorGroups returns the job's item errors grouped by normalized message.
func (c *Client) ErrorGroups(ctx context.Context, id uuid.UUID) (*ErrorSummary, error) {
	v := url.Values{"grouped": {"true"}}
	var out ErrorSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+id.String()+"/errors", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel asks the server to stop a running job.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/jobs/"+id.String()+"/cancel", nil, nil, nil)
}

// Wait polls the job until it is completed or failed. A non-positive interval
// uses the default.
func (c *Client) Wait(ctx context.Context, id uuid.UUID, interval time.Duration) (*models.JobStatusView, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status.IsTerminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	env := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// do sends the request and turns non-2xx answers into sentinel errors. The
// caller closes the body of a successful response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, apiError(resp)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// apiError maps the error envelope to a sentinel error.
func apiError(resp *http.Response) error {
	var env errorEnvelope
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env)
	msg := env.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var sentinel error
	switch {
	case env.Error.Code == "JOB_NOT_FOUND" || resp.StatusCode == http.StatusNotFound:
		sentinel = ErrNotFound
	case env.Error.Code == "INVALID_REQUEST" || resp.StatusCode == http.StatusBadRequest:
		sentinel = ErrInvalidRequest
	case env.Error.Code == "INVALID_STATE" || resp.StatusCode == http.StatusConflict:
		sentinel = ErrInvalidState
	case resp.StatusCode == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case resp.StatusCode == http.StatusServiceUnavailable:
		sentinel = ErrUnavailable
	default:
		sentinel = ErrServer
	}
	return fmt.Errorf("%w: %s (status %d)", sentinel, msg, resp.StatusCode)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
