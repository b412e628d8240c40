package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tonimelisma/onedrive-open/internal/event"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// cancelMessage is printed when the user aborts a flow.
func cancelMessage(op event.Op) string {
	switch op {
	case event.OpAuth:
		return "Sign-in canceled."
	case event.OpTransfer:
		return "Pick canceled."
	default:
		return op.String() + " canceled."
	}
}

var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	const unit = 1024

	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	value := float64(bytes) / unit
	i := 0

	for value >= unit && i < len(sizeUnits)-1 {
		value /= unit
		i++
	}

	return fmt.Sprintf("%.1f %s", value, sizeUnits[i])
}

// formatTime returns a compact local timestamp: time of day for this year,
// the year otherwise.
func formatTime(t time.Time) string {
	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes left-aligned columns separated by two spaces. Every row
// must have as many cells as headers.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))

	for _, row := range append([][]string{headers}, rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	writeRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}

		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	writeRow(headers)

	for _, row := range rows {
		writeRow(row)
	}
}
