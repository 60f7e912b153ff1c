package errcode

import "errors"

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	NotReady          Code = "not_ready"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	UnknownCapability Code = "unknown_capability"
	HALNotReady       Code = "hal_not_ready"
	InvalidTopic      Code = "invalid_topic"

	UnknownBus   Code = "unknown_bus"
	UnknownPin   Code = "unknown_pin"
	PinInUse     Code = "pin_in_use"
	UnknownLatch Code = "unknown_latch"
	IndexInUse   Code = "index_in_use"
	Timeout      Code = "timeout"

	// Address assignment.
	BusFault       Code = "bus_fault"
	InvalidAddress Code = "invalid_address"
	BadDevice      Code = "bad_device"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return MapDriverErr(err)
}

// Driver sentinels register here so MapDriverErr can classify them without
// errcode importing every driver package.
var driverCodes []struct {
	err  error
	code Code
}

// RegisterDriverErr associates a driver sentinel error with a code.
// Call from package init.
func RegisterDriverErr(err error, c Code) {
	driverCodes = append(driverCodes, struct {
		err  error
		code Code
	}{err, c})
}

// MapDriverErr maps low-level driver errors to a Code.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	for _, dc := range driverCodes {
		if errors.Is(err, dc.err) {
			return dc.code
		}
	}
	return Error
}
