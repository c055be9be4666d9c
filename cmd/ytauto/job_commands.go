package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ytauto/internal/config"
	"ytauto/internal/daemonrun"
	"ytauto/internal/ipc"
	"ytauto/internal/logging"
	"ytauto/internal/queue"
	"ytauto/internal/workflow"
)

func newJobCommands(ctx *commandContext) []*cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue <line>",
		Short: "Queue a job for a line on the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Enqueue(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s\n", strings.ToLower(args[0]), resp.ID)
				return nil
			})
		},
	}

	var timeout time.Duration
	var dryRun bool
	runCmd := &cobra.Command{
		Use:   "run [line]",
		Short: "Produce one job and wait for it (all unpaused lines when no line is given)",
		Long: "Run produces a job and waits for it to finish. It uses the running daemon when one " +
			"answers and otherwise starts an in-process orchestrator. --dry-run always runs in-process " +
			"with the simulator provider and leaves job history untouched.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := ""
			if len(args) == 1 {
				line = args[0]
			}
			if !dryRun {
				if client, err := ctx.dialClient(); err == nil {
					defer client.Close()
					return runViaDaemon(cmd, ctx, client, line, timeout)
				}
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runInProcess(cmd, ctx, cfg, line, timeout, dryRun)
		},
	}
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Maximum time to wait (default orchestrator.run_once_timeout_seconds)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run in-process with the simulator provider")

	cancelCmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Cancel(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
				return nil
			})
		},
	}

	var jobsLine string
	var jobsLimit int
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Jobs(ipc.JobsRequest{Line: jobsLine, Limit: jobsLimit})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Jobs)
				}
				renderJobsTable(cmd.OutOrStdout(), resp.Jobs)
				return nil
			})
		},
	}
	jobsCmd.Flags().StringVar(&jobsLine, "line", "", "Only show jobs for this line")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs")

	showCmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Job(args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp.Job)
				}
				renderJobDetail(cmd.OutOrStdout(), resp.Job)
				return nil
			})
		},
	}

	return []*cobra.Command{enqueueCmd, runCmd, cancelCmd, jobsCmd, showCmd}
}

func runViaDaemon(cmd *cobra.Command, ctx *commandContext, client *ipc.Client, line string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if line != "" {
		resp, err := client.Run(ipc.RunRequest{Line: line, TimeoutSeconds: seconds})
		if err != nil {
			return err
		}
		return reportRun(cmd, ctx, []queue.Record{resp.Job}, resp.TimedOut, "unfinished jobs keep running on the daemon")
	}
	resp, err := client.RunAll(ipc.RunAllRequest{TimeoutSeconds: seconds})
	if err != nil {
		return err
	}
	return reportRun(cmd, ctx, resp.Jobs, resp.TimedOut, "unfinished jobs keep running on the daemon")
}

func runInProcess(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, line string, timeout time.Duration, dryRun bool) error {
	if dryRun {
		cfg.Orchestrator.DryRun = true
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  "console",
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	comps, err := daemonrun.Assemble(cfg, logger, daemonrun.AssembleOptions{SkipHistory: dryRun})
	if err != nil {
		return err
	}
	if comps.History != nil {
		defer comps.History.Close()
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	recs, timedOut, err := driveRun(runCtx, comps.Orchestrator, line, timeout, interruptGrace)
	if err != nil {
		return err
	}
	if line == "" {
		if nerr := comps.Notifier.NotifyRunSummary(context.WithoutCancel(runCtx), recs, time.Since(started)); nerr != nil {
			logger.Warn("run summary notification failed", logging.Error(nerr))
		}
	}
	return reportRun(cmd, ctx, recs, timedOut, "unfinished jobs were cancelled")
}

// interruptGrace bounds how long an interrupted in-process run waits for
// in-flight jobs before cancelling them.
const interruptGrace = 30 * time.Second

// driveRun starts orch detached from ctx, runs line (every unpaused line when
// empty) and stops orch. Cancelling ctx stops waiting and stops gracefully,
// cancelling jobs still running after grace. A timeout cancels unfinished
// jobs at once and reports timedOut. Records are re-read after the stop.
func driveRun(ctx context.Context, orch *workflow.Orchestrator, line string, timeout, grace time.Duration) ([]queue.Record, bool, error) {
	if err := orch.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, false, err
	}

	var (
		recs []queue.Record
		err  error
	)
	if line != "" {
		var rec queue.Record
		if rec, err = orch.RunOnce(ctx, line, timeout); err == nil {
			recs = []queue.Record{rec}
		}
	} else {
		recs, err = orch.RunAll(ctx, timeout)
	}
	if err != nil {
		orch.Stop(context.Background(), true)
		return nil, false, err
	}

	timedOut := false
	if ctx.Err() != nil {
		graceCtx, cancel := context.WithTimeout(context.Background(), grace)
		orch.Stop(graceCtx, false)
		cancel()
	} else {
		for _, rec := range recs {
			if !rec.State.Terminal() {
				timedOut = true
			}
		}
		// Unfinished jobs cannot outlive the process.
		orch.Stop(context.Background(), timedOut)
	}
	return latestRecords(orch, recs), timedOut, nil
}

func latestRecords(orch *workflow.Orchestrator, recs []queue.Record) []queue.Record {
	out := make([]queue.Record, 0, len(recs))
	for _, rec := range recs {
		if latest, err := orch.Job(context.Background(), rec.ID); err == nil {
			rec = latest
		}
		out = append(out, rec)
	}
	return out
}

var errJobsFailed = errors.New("one or more jobs did not succeed")

func reportRun(cmd *cobra.Command, ctx *commandContext, recs []queue.Record, timedOut bool, timeoutNote string) error {
	if ctx.jsonOutput() {
		if err := writeJSON(cmd, recs); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		if len(recs) == 1 {
			renderJobDetail(out, recs[0])
		} else {
			renderJobsTable(out, recs)
		}
		if timedOut {
			fmt.Fprintf(out, "Timed out waiting; %s\n", timeoutNote)
		}
	}
	for _, rec := range recs {
		if rec.State != queue.StateSucceeded {
			return errJobsFailed
		}
	}
	return nil
}
