package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/smartdl/smartdl/internal/output"
)

type Snapshot struct {
	TotalBytes          int64
	DownloadedBytes     int64
	InitialBytesResumed int64
	CompletedChunks     int
	FailedChunks        int
	TotalChunks         int
	Started             bool

	Elapsed      time.Duration
	Percentage   float64
	PercentKnown bool
	Speed        float64
	SpeedKnown   bool
	ETA          time.Duration
	ETAKnown     bool
}

func (s Snapshot) SpeedString() string {
	if !s.SpeedKnown {
		if s.Started {
			return "Starting..."
		}
		return "Unknown"
	}
	return output.FormatSpeed(s.Speed)
}

func (s Snapshot) ETAString() string {
	if !s.ETAKnown {
		if s.Started {
			return "Calculating..."
		}
		return "Unknown"
	}
	return output.FormatETA(s.ETA)
}

// Line renders the one-line progress display. When width is positive the bar shrinks and
// the chunk counter is dropped until the line fits, so the carriage-return redraw never wraps.
func (s Snapshot) Line(width int) string {
	line := s.line(barWidth, true)
	if width <= 0 {
		return line
	}
	for _, withChunks := range []bool{true, false} {
		for bar := barWidth; bar >= minBarWidth; bar -= 5 {
			line = s.line(bar, withChunks)
			if lipgloss.Width(line) < width {
				return line
			}
		}
	}
	return line
}

const (
	barWidth    = 30
	minBarWidth = 10
)

func (s Snapshot) line(bar int, withChunks bool) string {
	bullet := " " + output.StyleSymbols["bullet"] + " "
	var parts []string
	if s.PercentKnown {
		parts = append(parts,
			output.FInfo(fmt.Sprintf("%s %5.1f%%", output.ProgressBar(s.Percentage/100, bar), s.Percentage)),
			fmt.Sprintf("%s/%s", output.FormatBytes(s.DownloadedBytes), output.FormatBytes(s.TotalBytes)),
		)
	} else {
		parts = append(parts, output.FInfo(output.FormatBytes(s.DownloadedBytes)))
	}
	parts = append(parts, "Speed: "+s.SpeedString(), "ETA: "+s.ETAString())
	if withChunks && s.TotalChunks > 1 {
		parts = append(parts, fmt.Sprintf("Chunks: %d/%d", s.CompletedChunks, s.TotalChunks))
	}
	return strings.Join(parts, output.FDebug(bullet))
}
