package output

import (
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", FormatBytes(0))
	assert.Equal(t, "0 B", FormatBytes(-5))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "5.0 MiB", FormatBytes(5*1024*1024))
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "0 B/s", FormatSpeed(0))
	assert.Equal(t, "0 B/s", FormatSpeed(math.NaN()))
	assert.Equal(t, "0 B/s", FormatSpeed(math.Inf(1)))
	assert.Equal(t, "2.0 MiB/s", FormatSpeed(2*1024*1024))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "00:00", FormatETA(0))
	assert.Equal(t, "00:00", FormatETA(-time.Second))
	assert.Equal(t, "01:05", FormatETA(65*time.Second))
	assert.Equal(t, "59:59", FormatETA(3599*time.Second))
	assert.Equal(t, "1:00:01", FormatETA(3601*time.Second))
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		fraction   float64
		wantFilled int
	}{
		{0, 0},
		{0.5, 5},
		{1, 10},
		{2, 10},
		{-1, 0},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		bar := ProgressBar(tt.fraction, 10)
		assert.Equal(t, 12, utf8.RuneCountInString(bar))
		assert.Equal(t, tt.wantFilled, strings.Count(bar, StyleSymbols["hline"]))
	}
}
