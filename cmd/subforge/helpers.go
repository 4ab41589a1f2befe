package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

func hoursToDuration(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}

func minutesToDuration(minutes int) time.Duration {
	return time.Duration(minutes) * time.Minute
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for value := n / unit; value >= unit; value /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// stdoutIsTerminal reports whether stdout is attached to an interactive
// terminal; batch progress lines are suppressed when it is not.
func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
