// Package mock provides an in-process WorkExecutor for local runs and tests.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/batchrun/pkg/models"
)

var (
	// ErrItemFailed is returned for items whose payload sets "fail": true.
	ErrItemFailed = errors.New("item marked to fail")
	// ErrUnavailable is returned by Ready on an executor built with NewUnavailableExecutor.
	ErrUnavailable = errors.New("mock executor unavailable")
)

// Executor satisfies models.WorkExecutor and models.ReadinessChecker.
type Executor struct {
	Name_       string
	ProcessFunc func(ctx context.Context, item models.Item) (string, error)
	ReadyFunc   func(ctx context.Context) error
}

func (e *Executor) Name() string { return e.Name_ }

func (e *Executor) Process(ctx context.Context, item models.Item) (string, error) {
	if e.ProcessFunc != nil {
		return e.ProcessFunc(ctx, item)
	}
	return "", nil
}

func (e *Executor) Ready(ctx context.Context) error {
	if e.ReadyFunc != nil {
		return e.ReadyFunc(ctx)
	}
	return nil
}

type payload struct {
	Fail    bool   `json:"fail"`
	Message string `json:"message"`
}

// NewExecutor returns an Executor that waits latency per item, fails items
// whose payload has "fail": true and otherwise echoes the payload.
func NewExecutor(latency time.Duration) *Executor {
	return &Executor{
		Name_: "mock",
		ProcessFunc: func(ctx context.Context, item models.Item) (string, error) {
			if latency > 0 {
				t := time.NewTimer(latency)
				defer t.Stop()
				select {
				case <-t.C:
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}

			var p payload
			if len(item.Payload) > 0 {
				// Non-object payloads are echoed as-is.
				_ = json.Unmarshal(item.Payload, &p)
			}
			if p.Fail {
				if p.Message != "" {
					return "", fmt.Errorf("%w: %s", ErrItemFailed, p.Message)
				}
				return "", ErrItemFailed
			}
			return "processed " + item.ID + ": " + strings.TrimSpace(string(item.Payload)), nil
		},
	}
}

// NewFailingExecutor returns an Executor that fails items whose ID is in ids
// with err and succeeds on the rest.
func NewFailingExecutor(err error, ids ...string) *Executor {
	fail := make(map[string]bool, len(ids))
	for _, id := range ids {
		fail[id] = true
	}
	return &Executor{
		Name_: "mock-failing",
		ProcessFunc: func(_ context.Context, item models.Item) (string, error) {
			if len(fail) == 0 || fail[item.ID] {
				return "", err
			}
			return "ok " + item.ID, nil
		},
	}
}

// NewBlockingExecutor returns an Executor whose Process calls block until
// release is closed. started receives each item ID as its call begins; it
// may be nil.
func NewBlockingExecutor(release <-chan struct{}, started chan<- string) *Executor {
	return &Executor{
		Name_: "mock-blocking",
		ProcessFunc: func(_ context.Context, item models.Item) (string, error) {
			if started != nil {
				started <- item.ID
			}
			<-release
			return "ok " + item.ID, nil
		},
	}
}

// NewUnavailableExecutor returns an Executor whose readiness check always fails.
func NewUnavailableExecutor() *Executor {
	return &Executor{
		Name_: "mock-unavailable",
		ReadyFunc: func(context.Context) error {
			return ErrUnavailable
		},
		ProcessFunc: func(context.Context, models.Item) (string, error) {
			return "", ErrUnavailable
		},
	}
}

// Compile-time checks.
var (
	_ models.WorkExecutor     = (*Executor)(nil)
	_ models.ReadinessChecker = (*Executor)(nil)
)
