package aggregation

import (
	"fmt"
	"strconv"
	"time"
)

// WindowSpec represents a parsed and validated window size.
type WindowSpec struct {
	Size time.Duration
}

// Seconds returns the window length in whole seconds.
func (w WindowSpec) Seconds() int64 {
	return int64(w.Size / time.Second)
}

// ParseWindowSize parses a window length. Accepts Go duration syntax ("10s",
// "1m", "1h"), "Xd" for days, and a bare integer meaning seconds (the carbon
// rule-file convention). The result must be a positive whole number of seconds.
func ParseWindowSize(s string) (WindowSpec, error) {
	if s == "" {
		return WindowSpec{}, fmt.Errorf("window_size must not be empty")
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return newWindowSpec(s, time.Duration(secs)*time.Second)
	}

	// Handle "d" suffix (days); time.ParseDuration has no day unit.
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return WindowSpec{}, fmt.Errorf("invalid window_size %q: %w", s, err)
		}
		return newWindowSpec(s, time.Duration(days)*24*time.Hour)
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return WindowSpec{}, fmt.Errorf("invalid window_size %q: %w", s, err)
	}
	return newWindowSpec(s, d)
}

func newWindowSpec(raw string, d time.Duration) (WindowSpec, error) {
	if d <= 0 {
		return WindowSpec{}, fmt.Errorf("window_size must be positive, got %q", raw)
	}
	if d%time.Second != 0 {
		return WindowSpec{}, fmt.Errorf("window_size must be a whole number of seconds, got %q", raw)
	}
	return WindowSpec{Size: d}, nil
}

// WindowStart returns the start of the window of length frequency (seconds)
// holding timestamp: floor(timestamp / frequency) * frequency. Negative
// timestamps round toward negative infinity as well.
// Example: WindowStart(125, 60) → 120
func WindowStart(timestamp, frequency int64) int64 {
	start := timestamp - timestamp%frequency
	if timestamp%frequency < 0 {
		start -= frequency
	}
	return start
}
