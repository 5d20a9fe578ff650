package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"glimpse/internal/batch"
	"glimpse/internal/history"
)

const maxFailureRows = 10

func printRunReport(out io.Writer, rep *batch.Report) {
	fmt.Fprintln(out, renderDetailLine("Run", shortID(rep.RunID)))
	fmt.Fprintln(out, renderDetailLine("Label", rep.Label))
	fmt.Fprintln(out, renderDetailLine("Status", reportStatus(rep)))
	fmt.Fprintln(out, renderDetailLine("Images", fmt.Sprintf("%d captioned, %d failed", rep.Summary.Processed, rep.Summary.Errors)))
	if rep.Summary.Processed+rep.Summary.Errors > 0 {
		fmt.Fprintln(out, renderDetailLine("Success rate", fmt.Sprintf("%.0f%%", rep.Summary.SuccessRate*100)))
	}
	fmt.Fprintln(out, renderDetailLine("Profile", rep.Profile.String()))
	fmt.Fprintln(out, renderDetailLine("Duration", rep.Duration.Round(time.Millisecond).String()))
	if rep.OutputDir != "" {
		fmt.Fprintln(out, renderDetailLine("Output", rep.OutputDir))
	}
	if exports := exportedFormats(rep.Exports); exports != "" {
		fmt.Fprintln(out, renderDetailLine("Exports", exports))
	}

	if len(rep.Summary.Failures) == 0 {
		return
	}
	fmt.Fprintln(out)
	rows := make([][]string, 0, len(rep.Summary.Failures))
	for i, failure := range rep.Summary.Failures {
		if i == maxFailureRows {
			remaining := len(rep.Summary.Failures) - maxFailureRows
			rows = append(rows, []string{"…", "", fmt.Sprintf("%d more failure(s)", remaining)})
			break
		}
		name := failure.Path
		if name != "" {
			name = filepath.Base(name)
		}
		rows = append(rows, []string{name, failure.Stage, truncate(failure.Message, 60)})
	}
	fmt.Fprintln(out, renderTable([]string{"Image", "Stage", "Error"}, rows))
}

func reportStatus(rep *batch.Report) string {
	switch {
	case rep.Summary.Cancelled:
		return "cancelled"
	case !rep.Success:
		return "failed"
	case rep.Summary.Errors > 0:
		return "completed with errors"
	default:
		return "completed"
	}
}

func runStatus(run *history.Run) string {
	switch {
	case run.Cancelled:
		return "cancelled"
	case !run.Success:
		return "failed"
	case run.Errors > 0:
		return "completed with errors"
	default:
		return "completed"
	}
}

func exportedFormats(exports map[string]bool) string {
	if len(exports) == 0 {
		return ""
	}
	names := make([]string, 0, len(exports))
	for format, written := range exports {
		if written {
			names = append(names, format)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
