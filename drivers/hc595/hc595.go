// Package hc595 drives a chain of 74HC595 serial-in/parallel-out shift
// registers over three GPIO lines (data, clock, latch).
//
// The driver keeps a shadow copy of every output and rewrites the whole
// chain on each change, so single outputs are independently settable. Output
// index 0 is Q0 of the first stage (the one wired to the MCU); index 8 is Q0
// of the second stage, and so on.
package hc595

import (
	"errors"
	"sync"
)

// ErrIndex is returned for an output index outside the chain.
var ErrIndex = errors.New("hc595: index out of range")

// Pin is an already-configured push-pull output.
type Pin interface {
	Set(level bool)
}

type Device struct {
	mu     sync.Mutex
	data   Pin
	clock  Pin
	latch  Pin
	levels []bool
}

// New creates a driver for stages cascaded registers. It does not touch the
// pins; call Configure to drive the initial levels.
func New(data, clock, latch Pin, stages int) *Device {
	if stages < 1 {
		stages = 1
	}
	return &Device{
		data:   data,
		clock:  clock,
		latch:  latch,
		levels: make([]bool, stages*8),
	}
}

// Configure sets every output to level and shifts the chain out.
func (d *Device) Configure(level bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock.Set(false)
	d.latch.Set(false)
	for i := range d.levels {
		d.levels[i] = level
	}
	d.flush()
}

// Len returns the number of outputs (8 per stage).
func (d *Device) Len() int { return len(d.levels) }

// Set drives one output and updates the chain. Each call is atomic with
// respect to other callers.
func (d *Device) Set(index int, level bool) error {
	if index < 0 || index >= len(d.levels) {
		return ErrIndex
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levels[index] = level
	d.flush()
	return nil
}

// Get returns the last level written to an output.
func (d *Device) Get(index int) bool {
	if index < 0 || index >= len(d.levels) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[index]
}

// flush shifts the last stage first, MSB first, then pulses the latch.
func (d *Device) flush() {
	d.latch.Set(false)
	for i := len(d.levels) - 1; i >= 0; i-- {
		d.clock.Set(false)
		d.data.Set(d.levels[i])
		d.clock.Set(true)
	}
	d.clock.Set(false)
	d.latch.Set(true)
}
