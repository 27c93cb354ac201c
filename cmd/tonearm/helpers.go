package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"tonearm/internal/queue"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// colorStatus wraps a status label in its lifecycle color when the output is
// a terminal.
func colorStatus(status queue.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	var color string
	switch {
	case status == queue.StatusCompleted:
		color = ansiGreen
	case status == queue.StatusFailed:
		color = ansiRed
	case status == queue.StatusCancelled:
		color = ansiYellow
	case status.IsProcessing():
		color = ansiBlue
	}
	if color == "" {
		return label
	}
	return color + label + ansiReset
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatProgress(task *queue.Task) string {
	if task.ProgressMessage == "" {
		return fmt.Sprintf("%.0f%%", task.ProgressPercent)
	}
	return fmt.Sprintf("%.0f%% %s", task.ProgressPercent, task.ProgressMessage)
}

func formatError(task *queue.Task) string {
	if task.ErrorKind == "" {
		return "-"
	}
	return fmt.Sprintf("%s: %s", task.ErrorKind, truncate(task.ErrorMessage, 60))
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0]
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}
