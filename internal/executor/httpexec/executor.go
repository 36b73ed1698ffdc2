// Package httpexec processes items by POSTing them to a remote worker.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/batchrun/pkg/models"
)

// Sentinel errors for remote worker failures.
var (
	ErrExecutorUnreachable = errors.New("executor unreachable")
	ErrExecutorRejected    = errors.New("executor rejected item")
	ErrExecutorTimeout     = errors.New("executor timeout")
)

const (
	maxResponseBytes = 1 << 20
	maxErrorBody     = 200
)

// Executor implements models.WorkExecutor against a worker's HTTP endpoint.
type Executor struct {
	url      string
	readyURL string
	token    string
	client   *http.Client
}

// NewExecutor creates an HTTP executor. readyURL and token may be empty.
func NewExecutor(url, readyURL, token string, timeout time.Duration) *Executor {
	return &Executor{
		url:      url,
		readyURL: readyURL,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

func (e *Executor) Name() string { return "http" }

type processResponse struct {
	Output *string `json:"output"`
}

// Process sends the item as JSON. A 2xx response's "output" field, or its
// whole body when there is none, becomes the result.
func (e *Executor) Process(ctx context.Context, item models.Item) (string, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encoding item: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	e.setHeaders(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", classifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", ErrExecutorRejected, resp.StatusCode, snippet(data))
	}

	var pr processResponse
	if json.Unmarshal(data, &pr) == nil && pr.Output != nil {
		return *pr.Output, nil
	}
	return strings.TrimSpace(string(data)), nil
}

// Ready probes the readiness URL. Without one the executor is assumed ready.
func (e *Executor) Ready(ctx context.Context) error {
	if e.readyURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.readyURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	e.setHeaders(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecutorUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: executor not ready (status %d)", ErrExecutorUnreachable, resp.StatusCode)
	}
	return nil
}

func (e *Executor) setHeaders(req *http.Request) {
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrExecutorTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrExecutorTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrExecutorUnreachable, err)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

// Compile-time checks.
var (
	_ models.WorkExecutor     = (*Executor)(nil)
	_ models.ReadinessChecker = (*Executor)(nil)
)
