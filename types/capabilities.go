package types

// ------------------------
// Capability addressing & kinds
// ------------------------

type Kind string

const (
	KindSwitch Kind = "switch"
	KindRange  Kind = "range"
)

// CapabilityAddress identifies a public capability on the bus.
type CapabilityAddress struct {
	Domain string `json:"domain"` // e.g. "io","power","env"
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
}

// ---- Switch (latch bit) ----

type SwitchInfo struct {
	Latch     string `json:"latch"`
	Index     int    `json:"index"`
	ActiveLow bool   `json:"active_low"`
}

type SwitchValue struct {
	On bool `json:"on"`
}

// SwitchSet is the payload of control/set.
type SwitchSet struct {
	On bool `json:"on"`
}

// ---- Range (VL53L0X) ----

type RangeInfo struct {
	Sensor   string `json:"sensor"` // "vl53l0x"
	Bus      string `json:"bus"`
	Addr     uint8  `json:"addr"` // assigned address
	ResetPin int    `json:"reset_pin"`
}

// RangeValue is published on .../value (retained).
type RangeValue struct {
	MM         uint16 `json:"mm"`
	OutOfRange bool   `json:"out_of_range,omitempty"`
}

// Address assignment progress, published on .../event/assign (not retained).
const (
	AssignHeld           = "held"
	AssignBooting        = "booting"
	AssignAddressCapable = "address_capable"
	AssignRemapped       = "remapped"
	AssignFailed         = "failed"
)

type AddressEvent struct {
	State string `json:"state"`
	Addr  uint8  `json:"addr"`
	Error string `json:"error,omitempty"`
}

// ---- Heartbeat ----

type HeartbeatConfig struct {
	IntervalMs uint32 `json:"interval_ms"`
}

type Heartbeat struct {
	UptimeMs int64  `json:"uptime_ms"`
	Seq      uint32 `json:"seq"`
}
