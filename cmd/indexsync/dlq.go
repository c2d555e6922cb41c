package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/indexsync/internal/indexsync/deadletter"
	"github.com/syntrixbase/indexsync/internal/services"
)

func (c *cli) dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered jobs",
	}
	cmd.AddCommand(c.dlqListCmd(), c.dlqReplayCmd(), c.dlqDeleteCmd())
	return cmd
}

func (c *cli) dlqListCmd() *cobra.Command {
	var f deadletter.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.start(cmd.Context(), services.Options{})
			if err != nil {
				return err
			}
			defer c.stop(m)

			entries, err := m.DeadLetters().List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				if entries == nil {
					entries = []*deadletter.Entry{}
				}
				return c.printJSON(entries)
			}

			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFAILED AT\tTENANT\tINDEX\tDOCUMENT\tACTION\tATTEMPTS\tREASON\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.FailedAt.Format(time.RFC3339), e.TenantID, e.IndexName, e.DocumentID,
					e.Action, e.Attempts, e.Reason, truncate(e.Error, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&f.TenantID, "tenant", "t", "", "Only this tenant")
	cmd.Flags().StringVarP(&f.IndexName, "index", "i", "", "Only this logical index")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 50, "Maximum entries (0 for all)")
	return cmd
}

func (c *cli) dlqReplayCmd() *cobra.Command {
	var (
		all bool
		f   deadletter.Filter
	)
	cmd := &cobra.Command{
		Use:   "replay [id...]",
		Short: "Re-enqueue dead letters as new jobs",
		Args: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass entry ids or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			m, finish, err := c.startEnqueuer(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if ferr := finish(); ferr != nil && err == nil {
					err = ferr
				}
			}()

			var n int
			if all {
				n, err = m.Replayer().ReplayAll(cmd.Context(), f)
			} else {
				n, err = m.Replayer().Replay(cmd.Context(), args)
			}
			if c.jsonOutput {
				res := map[string]any{"replayed": n}
				if err != nil {
					res["error"] = err.Error()
				}
				if perr := c.printJSON(res); perr != nil {
					return perr
				}
			} else {
				fmt.Fprintf(c.out, "Replayed %d dead letters\n", n)
			}
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Replay every entry matching the filters")
	cmd.Flags().StringVarP(&f.TenantID, "tenant", "t", "", "With --all, only this tenant")
	cmd.Flags().StringVarP(&f.IndexName, "index", "i", "", "With --all, only this logical index")
	return cmd
}

func (c *cli) dlqDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete id...",
		Short: "Discard dead letters without replaying them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.start(cmd.Context(), services.Options{})
			if err != nil {
				return err
			}
			defer c.stop(m)

			var errs []error
			deleted := 0
			for _, id := range args {
				if err := m.DeadLetters().Delete(cmd.Context(), id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				deleted++
			}
			fmt.Fprintf(c.out, "Deleted %d dead letters\n", deleted)
			return errors.Join(errs...)
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
