package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func buildRunJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-job <job-id>",
		Short: "Run one heartbeat job immediately",
		Long: `Run-job executes a declared job right now, outside its schedule, and
waits for it to finish. The run is claimed and recorded exactly like a
scheduled one, so a concurrently running server will not duplicate it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, configPath)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				rt.close(closeCtx)
			}()

			if err := rt.scheduler.Sync(ctx); err != nil {
				return err
			}
			if err := rt.scheduler.TriggerNow(ctx, args[0]); err != nil {
				return err
			}
			for _, snap := range rt.scheduler.Jobs() {
				if snap.ID != args[0] {
					continue
				}
				if snap.LastErr != "" {
					return fmt.Errorf("job %s failed: %s", args[0], snap.LastErr)
				}
				fmt.Printf("job %s ran at %s\n", args[0], snap.LastRun.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func buildJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List declared heartbeat jobs and their state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, configPath)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				rt.close(closeCtx)
			}()

			if err := rt.scheduler.Sync(ctx); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSCHEDULE\tKIND\tDELIVERY\tNEXT RUN\tLAST RUN\tLAST ERROR")
			for _, snap := range rt.scheduler.Jobs() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					snap.ID, snap.Schedule, snap.Kind, snap.Delivery,
					formatTime(snap.NextRun), formatTime(snap.LastRun), snap.LastErr)
			}
			return w.Flush()
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
