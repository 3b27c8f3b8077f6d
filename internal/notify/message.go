package notify

import (
	"fmt"
	"strings"
	"time"
)

// FormatOfflineMessage creates the body for a reader-offline alert.
func FormatOfflineMessage(reader string, since time.Time, cause error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Reader: %s\n", reader))
	sb.WriteString(fmt.Sprintf("Offline since: %s", since.Format(time.RFC3339)))

	if cause != nil {
		sb.WriteString(fmt.Sprintf("\n\nCause: %v", cause))
	}

	return sb.String()
}

// FormatOnlineMessage creates the body for a reader-recovered alert.
// A zero downtime means the reader came up for the first time.
func FormatOnlineMessage(reader string, downtime time.Duration) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Reader: %s\n", reader))
	if downtime > 0 {
		sb.WriteString(fmt.Sprintf("Downtime: %s", downtime.Round(time.Second)))
	} else {
		sb.WriteString("Connected")
	}

	return sb.String()
}
