// Package cli implements the batchctl command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/batchrun/internal/client"
)

const (
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 30 * time.Second
)

// NewRootCmd creates the root command for batchctl.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithEnv(os.LookupEnv)
}

// NewRootCmdWithEnv creates the root command with an explicit environment
// lookup for tests.
func NewRootCmdWithEnv(lookupEnv func(string) (string, bool)) *cobra.Command {
	server := defaultServer
	if v, ok := lookupEnv("BATCHRUN_SERVER"); ok && v != "" {
		server = v
	}

	cmd := &cobra.Command{
		Use:           "batchctl",
		Short:         "Submit and inspect batchrun jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Submit a batch and wait for it to finish
  batchctl submit --file items.json --concurrency 8 --wait

  # Check progress
  batchctl status 0190a7c4-2f4e-7c1a-9d1b-6a8f0e2b9c11

  # Fetch results as CSV
  batchctl results 0190a7c4-2f4e-7c1a-9d1b-6a8f0e2b9c11 --format csv`,
	}

	cmd.PersistentFlags().String("server", server, "batchrun server URL (env BATCHRUN_SERVER)")
	cmd.PersistentFlags().Duration("timeout", defaultTimeout, "per-request timeout")

	cmd.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newResultsCmd(),
		newErrorsCmd(),
		newCancelCmd(),
	)
	return cmd
}

func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(server, timeout)
}

func jobIDArg(args []string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", args[0], err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
