//go:build !rp2040 && !rp2350

package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var root = newRoot(os.Stderr)

func newRoot(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: time.TimeOnly,
	}).With().Timestamp().Logger()
}

// SetOutput redirects all loggers.
func SetOutput(w io.Writer) { root = newRoot(w) }

func emit(lvl Level, component, msg string, kv []any) {
	ev := root.WithLevel(zerologLevel(lvl)).Str("component", component)
	if len(kv) > 0 {
		ev = ev.Fields(kv)
	}
	ev.Msg(msg)
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}
