package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseWindowSize(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantSize  time.Duration
		wantError bool
	}{
		{name: "minute", input: "1m", wantSize: time.Minute},
		{name: "hour", input: "2h", wantSize: 2 * time.Hour},
		{name: "days suffix", input: "3d", wantSize: 72 * time.Hour},
		{name: "bare seconds", input: "60", wantSize: time.Minute},
		{name: "empty invalid", input: "", wantError: true},
		{name: "negative invalid", input: "-1m", wantError: true},
		{name: "zero invalid", input: "0m", wantError: true},
		{name: "zero seconds invalid", input: "0", wantError: true},
		{name: "sub-second invalid", input: "1500ms", wantError: true},
		{name: "bad day format invalid", input: "xd", wantError: true},
		{name: "unknown unit invalid", input: "10x", wantError: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := ParseWindowSize(tc.input)
			if tc.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantSize, spec.Size)
		})
	}
}

func TestWindowStart(t *testing.T) {
	tests := []struct {
		ts, freq, want int64
	}{
		{ts: 0, freq: 60, want: 0},
		{ts: 30, freq: 60, want: 0},
		{ts: 59, freq: 60, want: 0},
		{ts: 60, freq: 60, want: 60},
		{ts: 65, freq: 60, want: 60},
		{ts: 1700000042, freq: 10, want: 1700000040},
		{ts: -1, freq: 60, want: -60},
		{ts: -60, freq: 60, want: -60},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, WindowStart(tc.ts, tc.freq), "WindowStart(%d, %d)", tc.ts, tc.freq)
	}
}
