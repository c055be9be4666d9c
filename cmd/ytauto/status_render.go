package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"ytauto/internal/config"
	"ytauto/internal/daemonctl"
	"ytauto/internal/workflow"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderStatus(w io.Writer, cfg *config.Config, snap daemonctl.Snapshot, colorize bool) {
	printSection(w, "Daemon", colorize)
	if snap.Daemon == nil {
		fmt.Fprintln(w, renderStatusLine("Process", statusWarn, "not running", colorize))
	} else {
		st := snap.Daemon
		if st.Running {
			detail := fmt.Sprintf("pid %d", st.PID)
			if st.StartedAt != nil {
				detail += fmt.Sprintf(", up %s", time.Since(*st.StartedAt).Round(time.Second))
			}
			fmt.Fprintln(w, renderStatusLine("Process", statusOK, detail, colorize))
		} else {
			fmt.Fprintln(w, renderStatusLine("Process", statusWarn, fmt.Sprintf("pid %d, orchestrator stopped", st.PID), colorize))
		}
		fmt.Fprintln(w, renderStatusLine("Queue", statusInfo,
			fmt.Sprintf("%d queued, %d running", st.Orchestrator.QueueSize, st.Orchestrator.ActiveJobs), colorize))
	}
	fmt.Fprintln(w, renderStatusLine("Dry run", statusInfo, yesNo(cfg.Orchestrator.DryRun), colorize))
	fmt.Fprintln(w)

	printSection(w, "Preflight", colorize)
	for _, r := range snap.Preflight {
		kind := statusOK
		if !r.Passed {
			kind = statusError
		}
		fmt.Fprintln(w, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}
	fmt.Fprintln(w)

	printSection(w, "Lines", colorize)
	cols := append(leftCols("Line", "Name", "Schedule"),
		rightCol("Pending"), rightCol("Succeeded"), rightCol("Failed"), rightCol("Cancelled"))
	fmt.Fprint(w, renderTable(cols, lineRows(cfg, snap)))
	fmt.Fprintln(w)

	if snap.Daemon != nil && len(snap.Daemon.Orchestrator.NextFires) > 0 {
		fmt.Fprintln(w)
		printSection(w, "Upcoming", colorize)
		rows := make([][]string, 0, len(snap.Daemon.Orchestrator.NextFires))
		for _, fire := range snap.Daemon.Orchestrator.NextFires {
			rows = append(rows, []string{fire.LineID, fire.At.Format("2006-01-02 15:04 MST"), fire.Rule})
		}
		fmt.Fprint(w, renderTable(leftCols("Line", "At", "Rule"), rows))
		fmt.Fprintln(w)
	}
}

func printSection(w io.Writer, title string, colorize bool) {
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(w, line)
	}
}

// lineRows prefers live orchestrator counters and falls back to history.
func lineRows(cfg *config.Config, snap daemonctl.Snapshot) [][]string {
	archived := make(map[string][3]int, len(snap.Lines))
	for _, s := range snap.Lines {
		archived[s.LineID] = [3]int{s.Succeeded, s.Failed, s.Cancelled}
	}
	live := make(map[string]workflow.LineStatus)
	if snap.Daemon != nil {
		for _, ls := range snap.Daemon.Orchestrator.Lines {
			live[ls.ID] = ls
		}
	}

	rows := make([][]string, 0, len(cfg.Lines))
	for _, line := range cfg.Lines {
		schedule := strings.Join(line.Schedule, ", ")
		if schedule == "" {
			schedule = "manual"
		}
		counts := archived[line.ID]
		pending := "-"
		if ls, ok := live[line.ID]; ok {
			if ls.SchedulePaused {
				schedule += " (paused)"
			}
			pending = strconv.Itoa(ls.Pending)
		} else if line.SchedulePaused {
			schedule += " (paused)"
		}
		rows = append(rows, []string{
			line.ID,
			line.DisplayName,
			schedule,
			pending,
			strconv.Itoa(counts[0]),
			strconv.Itoa(counts[1]),
			strconv.Itoa(counts[2]),
		})
	}
	return rows
}
