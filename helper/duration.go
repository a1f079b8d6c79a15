package helper

import (
	"fmt"
	"time"
)

// FormatMilliseconds renders a ring duration in a human friendly unit
// for the HTML pages.
func FormatMilliseconds(ms int64) string {
	d := time.Duration(ms) * time.Millisecond

	if d.Hours() >= 1 {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	if d.Minutes() >= 1 {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	if d.Seconds() >= 1 {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", ms)
}
