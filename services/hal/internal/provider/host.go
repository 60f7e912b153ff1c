//go:build !rp2040 && !rp2350

package provider

import (
	"sync"

	"tinygo.org/x/drivers"

	"sensornode-go/drivers/hc595"
	"sensornode-go/services/hal/internal/core"
	"sensornode-go/services/hal/internal/provider/setups"
)

// NewResources builds the registry for the selected plan on the host. Buses
// are inert; see NewHost to attach simulated devices.
func NewResources() *Registry {
	return NewHost(SelectedPlan, nil)
}

// NewHost builds a registry backed by FakePins. buses maps an I²C plan id to
// the device model answering on it; unlisted buses get an inert HostI2C.
func NewHost(plan setups.ResourcePlan, buses map[string]drivers.I2C) *Registry {
	return newRegistry(plan, &hostPlatform{buses: buses, pins: map[int]*FakePin{}})
}

// FakePin returns the host pin n, if it has been touched.
func (r *Registry) FakePin(n int) (*FakePin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.pins[n]
	if !ok {
		return nil, false
	}
	p, ok := h.(*FakePin)
	return p, ok
}

type hostPlatform struct {
	buses map[string]drivers.I2C
	pins  map[int]*FakePin
}

func (h *hostPlatform) gpio(n int) core.GPIOHandle {
	p, ok := h.pins[n]
	if !ok {
		p = &FakePin{number: n}
		h.pins[n] = p
	}
	return p
}

func (h *hostPlatform) i2c(p setups.I2CPlan) (drivers.I2C, error) {
	if b, ok := h.buses[p.ID]; ok {
		return b, nil
	}
	return &HostI2C{}, nil
}

func (h *hostPlatform) latch(p setups.LatchPlan, data, clock, latch core.GPIOHandle) (core.Latch, error) {
	for _, g := range []core.GPIOHandle{data, clock, latch} {
		if err := g.ConfigureOutput(false); err != nil {
			return nil, err
		}
	}
	d := hc595.New(data, clock, latch, p.Stages)
	d.Configure(p.Initial)
	return d, nil
}

// ----------------------------- I²C (host) ------------------------------------

// HostI2C is an empty bus: writes succeed, reads return zeros.
type HostI2C struct {
	mu     sync.Mutex
	LastTx struct {
		Addr uint16
		W    []byte
		Rn   int
	}
}

func (h *HostI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastTx.Addr = addr
	h.LastTx.W = append([]byte(nil), w...)
	h.LastTx.Rn = len(r)
	for i := range r {
		r[i] = 0
	}
	return nil
}

// ----------------------------- GPIO (host) -----------------------------------

// FakePin is a host GPIO. Watch installs a hook that sees every mode or level
// change, which tests use to model what hangs off the pin.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	pull    core.Pull
	watch   func(out, level bool)
}

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) ConfigureInput(pull core.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.pull = pull
	p.level = pull == core.PullUp
	p.notifyLocked()
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.notifyLocked()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	if !p.modeOut {
		p.mu.Unlock()
		return
	}
	p.level = level
	p.notifyLocked()
}

// notifyLocked releases the lock before calling the hook.
func (p *FakePin) notifyLocked() {
	fn, out, lvl := p.watch, p.modeOut, p.level
	p.mu.Unlock()
	if fn != nil {
		fn(out, lvl)
	}
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

func (p *FakePin) Toggle() { p.Set(!p.Get()) }

// IsOutput reports the configured direction.
func (p *FakePin) IsOutput() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

func (p *FakePin) Watch(fn func(out, level bool)) {
	p.mu.Lock()
	p.watch = fn
	p.mu.Unlock()
}
