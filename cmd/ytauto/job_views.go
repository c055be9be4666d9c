package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"ytauto/internal/queue"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func jobSummary(rec queue.Record) string {
	switch {
	case rec.Error != nil:
		msg := rec.Error.Message
		if rec.Error.Stage != "" {
			msg = rec.Error.Stage + ": " + msg
		}
		return truncate(msg, 60)
	case rec.Result != "":
		return truncate(rec.Result, 60)
	case rec.CurrentStage != "":
		return "at " + rec.CurrentStage
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func renderJobsTable(w io.Writer, recs []queue.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No jobs")
		return
	}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			shortID(rec.ID),
			rec.LineID,
			string(rec.State),
			string(rec.Trigger),
			rec.CreatedAt.Local().Format("01-02 15:04"),
			formatDuration(rec.Duration()),
			jobSummary(rec),
		})
	}
	cols := append(leftCols("ID", "Line", "State", "Trigger", "Created"), rightCol("Took"), leftCol("Detail"))
	fmt.Fprint(w, renderTable(cols, rows))
	fmt.Fprintln(w)
}

func renderJobDetail(w io.Writer, rec queue.Record) {
	fmt.Fprintf(w, "Job:      %s\n", rec.ID)
	fmt.Fprintf(w, "Line:     %s\n", rec.LineID)
	fmt.Fprintf(w, "State:    %s\n", rec.State)
	if rec.Trigger != "" {
		fmt.Fprintf(w, "Trigger:  %s\n", rec.Trigger)
	}
	fmt.Fprintf(w, "Created:  %s\n", rec.CreatedAt.Local().Format(time.RFC3339))
	if rec.StartedAt != nil {
		fmt.Fprintf(w, "Started:  %s\n", rec.StartedAt.Local().Format(time.RFC3339))
	}
	if rec.FinishedAt != nil {
		fmt.Fprintf(w, "Finished: %s (took %s)\n", rec.FinishedAt.Local().Format(time.RFC3339), formatDuration(rec.Duration()))
	}
	if rec.CurrentStage != "" && !rec.State.Terminal() {
		fmt.Fprintf(w, "Stage:    %s\n", rec.CurrentStage)
	}
	if rec.Result != "" {
		fmt.Fprintf(w, "Result:   %s\n", rec.Result)
	}
	if rec.Error != nil {
		fmt.Fprintf(w, "Error:    [%s] %s: %s\n", rec.Error.Kind, rec.Error.Stage, rec.Error.Message)
		for _, issue := range rec.Error.Issues {
			fmt.Fprintf(w, "  - %s\n", issue)
		}
	}
	if len(rec.Attempts) > 0 {
		rows := make([][]string, 0, len(rec.Attempts))
		for _, stage := range slices.Sorted(maps.Keys(rec.Attempts)) {
			rows = append(rows, []string{stage, strconv.Itoa(rec.Attempts[stage]), rec.Artifacts[stage]})
		}
		fmt.Fprintln(w)
		fmt.Fprint(w, renderTable([]column{leftCol("Stage"), rightCol("Attempts"), leftCol("Artifact")}, rows))
		fmt.Fprintln(w)
	}
}
