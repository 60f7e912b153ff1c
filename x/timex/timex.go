package timex

import "time"

var boot = time.Now()

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// UptimeMs returns milliseconds since process start.
func UptimeMs() int64 { return time.Since(boot).Milliseconds() }

// MsOr converts a millisecond config value to a duration; 0 selects def.
func MsOr(ms uint32, def time.Duration) time.Duration {
	if ms == 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
