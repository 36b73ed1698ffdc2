// Package executor builds the WorkExecutor selected by configuration.
package executor

import (
	"fmt"

	"github.com/kiranshivaraju/batchrun/internal/config"
	"github.com/kiranshivaraju/batchrun/internal/executor/httpexec"
	"github.com/kiranshivaraju/batchrun/internal/executor/mock"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

// NewExecutor constructs the executor named by cfg.Kind.
// Called once at server startup.
func NewExecutor(cfg config.ExecutorConfig) (models.WorkExecutor, error) {
	switch cfg.Kind {
	case "mock":
		return mock.NewExecutor(cfg.MockLatency), nil
	case "http":
		if cfg.HTTP.URL == "" {
			return nil, fmt.Errorf("http executor requires a URL")
		}
		return httpexec.NewExecutor(cfg.HTTP.URL, cfg.HTTP.ReadyURL, cfg.HTTP.Token, cfg.HTTP.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown executor %q: must be one of mock, http", cfg.Kind)
	}
}
