package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobStatusKey holds the mirrored status of a job.
func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RateLimitKey counts requests from one client in the current window.
func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}

// ResultsPageKey holds one cached results page of a finished job.
func ResultsPageKey(jobID uuid.UUID, pageHash string) string {
	return fmt.Sprintf("results:%s:%s", jobID, pageHash)
}

// resultsPagePattern matches every cached page of one job.
func resultsPagePattern(jobID uuid.UUID) string {
	return ResultsPageKey(jobID, "*")
}
