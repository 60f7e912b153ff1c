//go:build rp2040 || rp2350

package provider

import (
	"machine"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/shiftregister"

	"sensornode-go/drivers/hc595"
	"sensornode-go/errcode"
	"sensornode-go/services/hal/internal/core"
	"sensornode-go/services/hal/internal/provider/setups"
)

// NewResources builds the registry for the selected plan on the MCU.
func NewResources() *Registry {
	return newRegistry(SelectedPlan, rp2Platform{})
}

type rp2Platform struct{}

func (rp2Platform) gpio(n int) core.GPIOHandle {
	return &rp2GPIO{p: machine.Pin(n), n: n}
}

func (rp2Platform) i2c(p setups.I2CPlan) (drivers.I2C, error) {
	var hw *machine.I2C
	switch p.ID {
	case "i2c0":
		hw = machine.I2C0
	case "i2c1":
		hw = machine.I2C1
	default:
		return nil, errcode.UnknownBus
	}
	sda := machine.Pin(p.SDA)
	scl := machine.Pin(p.SCL)
	sda.Configure(machine.PinConfig{Mode: machine.PinI2C})
	scl.Configure(machine.PinConfig{Mode: machine.PinI2C})
	if err := hw.Configure(machine.I2CConfig{SCL: scl, SDA: sda, Frequency: p.Hz}); err != nil {
		return nil, err
	}
	return hw, nil
}

// latch prefers the tinygo shift-register driver for the widths it supports
// and falls back to the bit-banged hc595 driver for other chain lengths.
func (rp2Platform) latch(p setups.LatchPlan, data, clock, latch core.GPIOHandle) (core.Latch, error) {
	var bits shiftregister.NumberBit
	switch p.Stages {
	case 1:
		bits = shiftregister.EIGHT_BITS
	case 2:
		bits = shiftregister.SIXTEEN_BITS
	case 4:
		bits = shiftregister.THIRTYTWO_BITS
	default:
		for _, g := range []core.GPIOHandle{data, clock, latch} {
			_ = g.ConfigureOutput(false)
		}
		d := hc595.New(data, clock, latch, p.Stages)
		d.Configure(p.Initial)
		return d, nil
	}
	sr := shiftregister.New(bits, machine.Pin(p.Latch), machine.Pin(p.Clock), machine.Pin(p.Data))
	sr.Configure()
	l := &srLatch{sr: sr, n: int(bits)}
	l.setAll(p.Initial)
	return l, nil
}

// srLatch keeps a shadow mask for a shiftregister.Device. The first bit
// shifted out lands on the last output, so output i is mask bit n-1-i.
type srLatch struct {
	mu   sync.Mutex
	sr   *shiftregister.Device
	n    int
	mask uint32
}

func (l *srLatch) Len() int { return l.n }

func (l *srLatch) bit(i int) uint32 { return 1 << uint(l.n-1-i) }

func (l *srLatch) Set(i int, level bool) error {
	if i < 0 || i >= l.n {
		return hc595.ErrIndex
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level {
		l.mask |= l.bit(i)
	} else {
		l.mask &^= l.bit(i)
	}
	l.sr.WriteMask(l.mask)
	return nil
}

func (l *srLatch) Get(i int) bool {
	if i < 0 || i >= l.n {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mask&l.bit(i) != 0
}

func (l *srLatch) setAll(level bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mask = 0
	if level {
		l.mask = uint32(1<<uint(l.n) - 1)
	}
	l.sr.WriteMask(l.mask)
}

// -----------------------------------------------------------------------------
// GPIO handle
// -----------------------------------------------------------------------------

type rp2GPIO struct {
	p machine.Pin
	n int
}

func (r *rp2GPIO) Number() int { return r.n }

func (r *rp2GPIO) ConfigureInput(pull core.Pull) error {
	var mode machine.PinMode
	switch pull {
	case core.PullUp:
		mode = machine.PinInputPullup
	case core.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

// ConfigureOutput sets the level before switching direction so the pin
// never glitches to the opposite state.
func (r *rp2GPIO) ConfigureOutput(initial bool) error {
	r.p.Set(initial)
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2GPIO) Set(b bool) { r.p.Set(b) }
func (r *rp2GPIO) Get() bool  { return r.p.Get() }
func (r *rp2GPIO) Toggle() {
	if r.p.Get() {
		r.p.Low()
	} else {
		r.p.High()
	}
}
