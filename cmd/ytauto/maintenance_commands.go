package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ytauto/internal/history"
	"ytauto/internal/logging"
	"ytauto/internal/logs"
	"ytauto/internal/workspace"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var jobID, line string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logging.FilePath(cfg)
			if path == "" {
				return errors.New("paths.log_dir is not configured")
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			opts := logs.TailOptions{
				Offset: -1,
				Limit:  lines,
				Match:  logs.MatchFields(map[string]string{logging.FieldJobID: jobID, logging.FieldLine: line}),
			}
			for {
				result, err := logs.Tail(runCtx, path, opts)
				for _, l := range result.Lines {
					fmt.Fprintln(out, l)
				}
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				if !follow {
					return nil
				}
				opts.Offset = result.Offset
				opts.Follow = true
				opts.Wait = 2 * time.Second
				if runCtx.Err() != nil {
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show lines for this job id")
	cmd.Flags().StringVar(&line, "line", "", "Only show lines for this content line")
	return cmd
}

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old job history rows and job workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			out := cmd.OutOrStdout()
			cutoff := time.Now().Add(-olderThan)
			keep := activeJobIDs(ctx)

			if dryRun {
				dirs, err := workspace.List(cfg.Paths.OutputDir)
				if err != nil {
					return fmt.Errorf("list workspaces: %w", err)
				}
				for _, d := range dirs {
					if _, active := keep[d.JobID]; active || !d.ModTime.Before(cutoff) {
						continue
					}
					fmt.Fprintf(out, "would remove %s (%d bytes)\n", d.Path, d.Size)
				}
				return nil
			}

			var pruned int64
			if _, err := os.Stat(cfg.HistoryPath()); err == nil {
				store, err := history.Open(cfg.HistoryPath())
				if err != nil {
					return fmt.Errorf("open job history: %w", err)
				}
				pruned, err = store.Prune(cmd.Context(), cutoff)
				_ = store.Close()
				if err != nil {
					return err
				}
			}
			result := workspace.CleanStale(cmd.Context(), cfg.Paths.OutputDir, olderThan, keep, nil)
			fmt.Fprintf(out, "Pruned %d history rows and %d workspaces\n", pruned, len(result.Removed))
			for _, e := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to remove %s: %v\n", e.Path, e.Error)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d workspaces could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age threshold for finished jobs")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List workspaces that would be removed")
	return cmd
}

// activeJobIDs asks a running daemon for queued and in-flight jobs so their
// workspaces survive pruning.
func activeJobIDs(ctx *commandContext) map[string]struct{} {
	keep := make(map[string]struct{})
	client, err := ctx.dialClient()
	if err != nil {
		return keep
	}
	defer client.Close()
	resp, err := client.Status()
	if err != nil {
		return keep
	}
	for _, rec := range resp.Orchestrator.Active {
		keep[rec.ID] = struct{}{}
	}
	for _, rec := range resp.Orchestrator.Queued {
		keep[rec.ID] = struct{}{}
	}
	return keep
}
