package core

import "tinygo.org/x/drivers"

type ResourceID string // e.g. "i2c0", "sr0"

// ---- GPIO handles ----

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

type GPIOHandle interface {
	Number() int
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(bool)
	Get() bool
	Toggle()
}

// ---- Output latches ----

// Latch is a shared bank of addressable output bits (e.g. a 74HC595 chain).
// Set changes one bit and leaves the others untouched.
type Latch interface {
	Len() int
	Set(index int, level bool) error
	Get(index int) bool
}

// ---- Unified registry interface ----

// ResourceRegistry hands out board resources. Errors are errcode codes:
// unknown_bus, unknown_pin, pin_in_use, unknown_latch, index_in_use,
// invalid_params.
type ResourceRegistry interface {
	// I²C buses are shared; each claim is reference-counted per device.
	ClaimI2C(devID string, id ResourceID) (drivers.I2C, error)
	ReleaseI2C(devID string, id ResourceID)

	// GPIO pins are exclusive.
	ClaimGPIO(devID string, pin int) (GPIOHandle, error)
	ReleaseGPIO(devID string, pin int)
	// ReleaseGPIOHeld gives up the claim with the pin left driven at
	// level, for lines that must not float (reset lines).
	ReleaseGPIOHeld(devID string, pin int, level bool)

	// Latch bits are exclusive per (latch, index).
	ClaimLatchBit(devID string, id ResourceID, index int) (Latch, error)
	ReleaseLatchBit(devID string, id ResourceID, index int)
}
