package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/batchrun/pkg/models"
)

func newSubmitCmd() *cobra.Command {
	var (
		file        string
		concurrency int
		wait        bool
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a batch of items",
		Long: `Reads items from a JSON file and submits them as one job.

The file holds either an array of items or an object with an "items" array.
Each item is {"id": "...", "payload": <any JSON>}. Use "-" to read stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := readItems(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			c := apiClient(cmd)
			sub, err := c.Submit(cmd.Context(), items, concurrency)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), sub)
			}

			cmd.PrintErrf("job %s submitted, waiting...\n", sub.JobID)
			st, err := c.Wait(cmd.Context(), sub.JobID, interval)
			if err != nil {
				return fmt.Errorf("wait: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "items file (JSON), - for stdin")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "items processed at once (0 = server default)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the job to finish and print its final status")
	cmd.Flags().DurationVar(&interval, "poll-interval", 500*time.Millisecond, "status poll interval with --wait")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readItems(stdin io.Reader, file string) ([]models.Item, error) {
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("reading items: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Items []models.Item `json:"items"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parsing items: %w", err)
		}
		return wrapped.Items, nil
	}

	var items []models.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing items: %w", err)
	}
	return items, nil
}
