package progress

import (
	"fmt"
	"strconv"
	"strings"
)

const barSegments = 10

// ParsePercent extracts a numeric percentage from a yt-dlp style string such
// as " 42.3%". Malformed input parses as 0 so a bad progress line renders as
// an empty bar instead of breaking the status message.
func ParsePercent(raw string) float64 {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// RenderBar renders a 10-segment progress bar. The fill count is
// floor(percent/10) clamped into [0,10].
func RenderBar(percent float64) string {
	filled := int(percent / 10)
	if filled < 0 {
		filled = 0
	}
	if filled > barSegments {
		filled = barSegments
	}
	return strings.Repeat("🟦", filled) + strings.Repeat("⬜", barSegments-filled)
}

// RenderStatus renders the full status-message body for a downloading job.
func RenderStatus(snap Snapshot) string {
	percent := snap.PercentRaw
	if percent == "" {
		percent = fmt.Sprintf("%.1f%%", snap.Percent)
	}
	speed := snap.Speed
	if speed == "" {
		speed = "N/A"
	}
	eta := snap.ETA
	if eta == "" {
		eta = "N/A"
	}

	return fmt.Sprintf(
		"📥 Downloading...\n\n%s %s\nSpeed: %s\nETA: %s",
		RenderBar(snap.Percent),
		strings.TrimSpace(percent),
		speed,
		eta,
	)
}
