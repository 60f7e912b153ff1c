//go:build rp2040 || rp2350

package logx

import (
	"io"
	"machine"
	"strconv"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

type printlnWriter struct{}

func (printlnWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	println(string(p))
	return n, nil
}

var out io.Writer = printlnWriter{}

// SetOutput redirects all loggers.
func SetOutput(w io.Writer) { out = w }

// UseUART0 routes log lines to UART0, leaving USB CDC free.
func UseUART0(baud uint32, tx, rx machine.Pin) error {
	u := uartx.UART0
	if err := u.Configure(uartx.UARTConfig{BaudRate: baud, TX: tx, RX: rx}); err != nil {
		return err
	}
	out = u
	return nil
}

func emit(lvl Level, component, msg string, kv []any) {
	b := make([]byte, 0, 64)
	b = append(b, lvl.String()...)
	b = append(b, " ["...)
	b = append(b, component...)
	b = append(b, "] "...)
	b = append(b, msg...)
	for i := 0; i+1 < len(kv); i += 2 {
		b = append(b, ' ')
		if k, ok := kv[i].(string); ok {
			b = append(b, k...)
		}
		b = append(b, '=')
		b = appendValue(b, kv[i+1])
	}
	b = append(b, '\n')
	_, _ = out.Write(b)
}

func appendValue(b []byte, v any) []byte {
	switch x := v.(type) {
	case string:
		return append(b, x...)
	case error:
		return append(b, x.Error()...)
	case bool:
		return strconv.AppendBool(b, x)
	case int:
		return strconv.AppendInt(b, int64(x), 10)
	case int64:
		return strconv.AppendInt(b, x, 10)
	case uint8:
		return append(append(b, "0x"...), strconv.FormatUint(uint64(x), 16)...)
	case uint16:
		return strconv.AppendUint(b, uint64(x), 10)
	case uint32:
		return strconv.AppendUint(b, uint64(x), 10)
	default:
		return append(b, '?')
	}
}
