package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/batchrun/internal/client"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show a job's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := jobIDArg(args)
			if err != nil {
				return err
			}
			st, err := apiClient(cmd).Status(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newResultsCmd() *cobra.Command {
	var (
		q      client.ResultsQuery
		format string
	)

	cmd := &cobra.Command{
		Use:   "results JOB_ID",
		Short: "Fetch one page of a job's results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := jobIDArg(args)
			if err != nil {
				return err
			}
			c := apiClient(cmd)

			switch format {
			case "csv":
				body, err := c.ResultsCSV(cmd.Context(), id, q)
				if err != nil {
					return fmt.Errorf("results: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(body)
				return err
			case "json":
				page, err := c.Results(cmd.Context(), id, q)
				if err != nil {
					return fmt.Errorf("results: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), page)
			default:
				return fmt.Errorf("--format must be json or csv, got %q", format)
			}
		},
	}

	cmd.Flags().IntVar(&q.Limit, "limit", 0, "page size (0 = server default)")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "index of the first result")
	cmd.Flags().StringVar(&q.ItemIDPrefix, "item-id-prefix", "", "only results whose item id has this prefix")
	cmd.Flags().StringVar(&q.Contains, "contains", "", "only results whose output contains this text")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")

	return cmd
}

func newErrorsCmd() *cobra.Command {
	var (
		limit   int
		offset  int
		grouped bool
	)

	cmd := &cobra.Command{
		Use:   "errors JOB_ID",
		Short: "Show a job's item errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := jobIDArg(args)
			if err != nil {
				return err
			}
			c := apiClient(cmd)

			if grouped {
				summary, err := c.ErrorGroups(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("errors: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), summary)
			}
			page, err := c.Errors(cmd.Context(), id, limit, offset)
			if err != nil {
				return fmt.Errorf("errors: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "page size (0 = server default)")
	cmd.Flags().IntVar(&offset, "offset", 0, "index of the first error")
	cmd.Flags().BoolVar(&grouped, "grouped", false, "group errors by normalized message")

	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a running job",
		Long:  "Stops dispatching new items. Items already in flight finish before the job is marked failed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := jobIDArg(args)
			if err != nil {
				return err
			}
			if err := apiClient(cmd).Cancel(cmd.Context(), id); err != nil {
				return fmt.Errorf("cancel: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for job %s\n", id)
			return err
		},
	}
}
