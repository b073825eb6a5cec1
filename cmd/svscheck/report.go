package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/gomlx/svscheck/internal/runner"
	"github.com/gomlx/svscheck/ml/models"
	"github.com/gomlx/svscheck/types/shapes"
)

// relativePath returns filePath relative to the current directory, if it is below it.
func relativePath(filePath string) string {
	if rel, err := filepath.Rel(".", filePath); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return filePath
}

// shortShape formats a shape without the dtype, since all checked tensors are float32.
func shortShape(shape shapes.Shape) string {
	if !shape.Ok() {
		return "-"
	}
	if shape.IsTuple() {
		parts := make([]string, len(shape.TupleShapes))
		for ii, element := range shape.TupleShapes {
			parts[ii] = shortShape(element)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprint(shape.Dimensions)
}

// writeResults writes the table of results followed by the details of the failures, and
// returns the number of failures.
func writeResults(w io.Writer, results []runner.Result) (numFailed int) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("Shape contracts"))
	table := newKindTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right,
		lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Left)
	table.Headers("Config", "Target", "Category", "Type", "Params", "Input", "Forward", "Inference", "Time", "Status")
	var totalDuration time.Duration
	for _, result := range results {
		totalDuration += result.Duration
		elapsed := result.Duration.Round(time.Millisecond).String()
		if result.Failed() {
			numFailed++
			table.Row(result.Kind(), relativePath(result.Entry.Path), "", result.Entry.Category.String(), "", "", "", "", "",
				elapsed, result.Kind().String())
			continue
		}
		report := result.Report
		table.Row(runner.KindPassed, relativePath(result.Entry.Path), report.Target, report.Category.String(),
			report.PredictionType.String(), humanize.Comma(int64(report.NumParams)),
			fmt.Sprintf("%s (%s)", shortShape(report.Input), humanize.Bytes(uint64(report.Input.Memory()))),
			shortShape(report.Forward), shortShape(report.Inference), elapsed, result.Kind().String())
	}
	_, _ = fmt.Fprintln(w, table.Render())

	if numFailed > 0 {
		_, _ = fmt.Fprintln(w, titleStyle.Render("Failures"))
		for _, result := range results {
			if result.Failed() {
				_, _ = fmt.Fprintf(w, "  %s: %s\n    %v\n", kindStyle(result.Kind(), 0).Render(relativePath(result.Entry.Path)),
					result.Kind(), result.Err)
			}
		}
		_, _ = fmt.Fprintln(w)
	}
	_, _ = fmt.Fprintf(w, "%d configurations checked in %s: %d passed, %d failed\n",
		len(results), totalDuration.Round(time.Millisecond), len(results)-numFailed, numFailed)
	return
}

// writeTargets writes the table of registered model targets.
func writeTargets(w io.Writer) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("Registered targets"))
	table := newKindTable()
	table.Headers("Target", "Category")
	for _, target := range models.Targets() {
		registration, err := models.Lookup(target)
		if err != nil {
			continue
		}
		table.Row(runner.KindPassed, target, registration.Category.String())
	}
	_, _ = fmt.Fprintln(w, table.Render())
}
