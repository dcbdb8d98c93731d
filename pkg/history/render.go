package history

import (
	"fmt"
	"strings"

	"github.com/grabbot/grabbot/pkg/utils"
)

// RenderRecent formats entries as a chat message, newest first.
func RenderRecent(entries []Entry) string {
	if len(entries) == 0 {
		return "No downloads yet."
	}

	var b strings.Builder
	b.WriteString("Recent downloads:\n")
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = e.Locator
		}
		title = utils.Truncate(title, 60)

		if e.Delivered {
			fmt.Fprintf(&b, "✅ %s (%s, %s) - %s\n",
				title, e.Format, utils.FormatBytes(e.SizeBytes),
				e.CreatedAt.Format("2006-01-02 15:04"))
		} else {
			fmt.Fprintf(&b, "❌ %s - %s\n",
				title, utils.Truncate(e.FailCause, 60))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
