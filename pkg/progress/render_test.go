package progress

import (
	"strings"
	"testing"
)

func TestParsePercent(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"42.5%", 42.5},
		{" 99.1%", 99.1},
		{"100%", 100},
		{"0.0%", 0},
		{"garbage", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := ParsePercent(tt.in); got != tt.want {
			t.Errorf("ParsePercent(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRenderBarSegments(t *testing.T) {
	tests := []struct {
		percent float64
		filled  int
	}{
		{0, 0},
		{9.9, 0},
		{10, 1},
		{45, 4},
		{99.9, 9},
		{100, 10},
		{150, 10},
		{-5, 0},
	}
	for _, tt := range tests {
		bar := RenderBar(tt.percent)
		filled := strings.Count(bar, "🟦")
		empty := strings.Count(bar, "⬜")
		if filled != tt.filled {
			t.Errorf("RenderBar(%v) filled = %d, want %d", tt.percent, filled, tt.filled)
		}
		if filled+empty != 10 {
			t.Errorf("RenderBar(%v) total segments = %d, want 10", tt.percent, filled+empty)
		}
	}
}

func TestRenderBarMonotonic(t *testing.T) {
	prev := -1
	for p := 0; p <= 100; p++ {
		filled := strings.Count(RenderBar(float64(p)), "🟦")
		if filled < prev {
			t.Fatalf("bar shrank at %d%%: %d -> %d", p, prev, filled)
		}
		prev = filled
	}
}

func TestRenderStatus(t *testing.T) {
	snap := Snapshot{
		Phase:      PhaseDownloading,
		Percent:    45,
		PercentRaw: "45.0%",
		Speed:      "2.5MiB/s",
		ETA:        "00:42",
	}
	out := RenderStatus(snap)
	for _, want := range []string{"45.0%", "2.5MiB/s", "00:42", "🟦"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderStatus missing %q in %q", want, out)
		}
	}
}

func TestRenderStatusFallbacks(t *testing.T) {
	out := RenderStatus(Snapshot{Phase: PhaseDownloading})
	if !strings.Contains(out, "N/A") {
		t.Errorf("expected N/A fallback in %q", out)
	}
}
