// Package logx is the node's component-scoped, levelled logger.
//
// Host builds are backed by zerolog; MCU builds format a compact line to a
// writer (println by default, or a UART console). Key/value pairs follow the
// message as alternating key, value arguments.
package logx

type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DBG"
	case LevelInfo:
		return "INF"
	case LevelWarn:
		return "WRN"
	case LevelError:
		return "ERR"
	default:
		return "OFF"
	}
}

var minLevel = LevelInfo

// SetLevel sets the process-wide minimum level.
func SetLevel(l Level) { minLevel = l }

// Logger tags every line with its component name.
type Logger struct {
	component string
}

func New(component string) Logger { return Logger{component: component} }

func (l Logger) Debug(msg string, kv ...any) { l.log(LevelDebug, msg, kv) }
func (l Logger) Info(msg string, kv ...any)  { l.log(LevelInfo, msg, kv) }
func (l Logger) Warn(msg string, kv ...any)  { l.log(LevelWarn, msg, kv) }
func (l Logger) Error(msg string, kv ...any) { l.log(LevelError, msg, kv) }

func (l Logger) log(lvl Level, msg string, kv []any) {
	if lvl < minLevel {
		return
	}
	emit(lvl, l.component, msg, kv)
}
