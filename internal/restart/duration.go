package restart

import (
	"fmt"
	"strings"
)

// FormatDuration renders a second count as a human-readable message like
// "1 hour, 1 minute, 1 second". Zero components are omitted; components
// greater than one are pluralized. Zero seconds yields "".
func FormatDuration(seconds int) string {
	hours := seconds / 3600
	remainder := seconds % 3600
	minutes := remainder / 60
	secs := remainder % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if secs > 0 {
		parts = append(parts, plural(secs, "second"))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, unit string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss", n, unit)
	}
	return fmt.Sprintf("%d %s", n, unit)
}
