package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ytauto/internal/ipc"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and toggle line schedules",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules and upcoming fires",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				st := resp.Orchestrator
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"lines": st.Lines, "next_fires": st.NextFires, "timezone": st.Timezone})
				}
				next := make(map[string]string, len(st.NextFires))
				for _, fire := range st.NextFires {
					if _, seen := next[fire.LineID]; !seen {
						next[fire.LineID] = fire.At.Format("2006-01-02 15:04 MST")
					}
				}
				rows := make([][]string, 0, len(st.Lines))
				for _, line := range st.Lines {
					schedule := strings.Join(line.Schedule, ", ")
					if schedule == "" {
						schedule = "manual"
					}
					rows = append(rows, []string{line.ID, schedule, yesNo(line.SchedulePaused), next[line.ID]})
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTable(leftCols("Line", "Schedule", "Paused", "Next"), rows))
				fmt.Fprintln(out)
				if st.Timezone != "" {
					fmt.Fprintf(out, "Timezone: %s\n", st.Timezone)
				}
				return nil
			})
		},
	}

	scheduleCmd.AddCommand(listCmd)
	scheduleCmd.AddCommand(newScheduleToggleCommand(ctx, "pause", false))
	scheduleCmd.AddCommand(newScheduleToggleCommand(ctx, "resume", true))
	return scheduleCmd
}

func newScheduleToggleCommand(ctx *commandContext, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <line>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a line's schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SetSchedule(args[0], enabled)
				if err != nil {
					return err
				}
				state := "resumed"
				if !resp.Enabled {
					state = "paused"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule for %s %s\n", resp.Line, state)
				return nil
			})
		},
	}
}
