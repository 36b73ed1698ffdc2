// Package models contains shared data models used across the batchrun codebase.
package models

import (
	"context"
	"encoding/json"
	"time"
)

// WorkExecutor is the capability that processes one item of a batch.
// The job runner never calls a concrete executor directly; it is always injected.
type WorkExecutor interface {
	// Process handles a single item and returns its output. A returned error is
	// recorded against the item; it never aborts the batch.
	Process(ctx context.Context, item Item) (string, error)
	// Name returns the executor identifier (e.g., "mock", "http").
	Name() string
}

// ReadinessChecker is implemented by executors that can tell up front whether
// they are reachable at all. A failing check fails the job before any item runs.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Item is one unit of input work within a job.
type Item struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result is the successful output of one item. Field order here is the CSV column order.
type Result struct {
	ItemID      string    `json:"item_id"`
	Output      string    `json:"output"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// ResultFields lists the exported result field names in CSV column order.
var ResultFields = []string{"item_id", "output", "duration_ms", "completed_at"}
