package rangefinder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"

	"sensornode-go/errcode"
	"sensornode-go/services/hal/internal/core"
	"sensornode-go/types"
)

var (
	errNack      = errors.New("sim: nack")
	errCollision = errors.New("sim: collision")
)

// ---- Simulated VL53L0X chips behind XSHUT lines on one bus ----

type simChip struct {
	held bool
	addr uint16
	regs [256]byte
}

func newChip(mm uint16) *simChip {
	c := &simChip{addr: 0x29}
	c.regs[0xC0] = 0xEE // model id
	c.regs[0x91] = 0x3C // stop variable
	c.regs[0x13] = 0x07 // result ready
	c.regs[0x1E] = byte(mm >> 8)
	c.regs[0x1F] = byte(mm)
	return c
}

type simBus struct{ chips []*simChip }

func (b *simBus) Tx(addr uint16, w, r []byte) error {
	var c *simChip
	for _, x := range b.chips {
		if !x.held && x.addr == addr {
			if c != nil {
				return errCollision
			}
			c = x
		}
	}
	if c == nil || len(w) == 0 {
		return errNack
	}
	reg := int(w[0])
	if r == nil {
		copy(c.regs[reg:], w[1:])
		if reg == 0x8A {
			c.addr = uint16(w[1])
		}
		return nil
	}
	copy(r, c.regs[reg:])
	if reg == 0x00 {
		c.regs[0] &^= 0x01
	}
	if reg == 0x83 {
		r[0] |= 0x01 // SPAD info ready
	}
	return nil
}

type xshutPin struct {
	n    int
	chip *simChip
}

func (p *xshutPin) Number() int { return p.n }
func (p *xshutPin) ConfigureInput(core.Pull) error {
	p.chip.held = false
	return nil
}
func (p *xshutPin) ConfigureOutput(initial bool) error {
	if !initial {
		p.chip.held = true
		p.chip.addr = 0x29 // address is volatile
	}
	return nil
}
func (p *xshutPin) Set(bool)  {}
func (p *xshutPin) Get() bool { return !p.chip.held }
func (p *xshutPin) Toggle()   {}

type simReg struct {
	bus    *simBus
	pins   map[int]*xshutPin
	owners map[int]string
	i2c    map[string]bool
}

func newSimReg(chips ...*simChip) *simReg {
	r := &simReg{bus: &simBus{chips: chips}, pins: map[int]*xshutPin{}, owners: map[int]string{}, i2c: map[string]bool{}}
	for i, c := range chips {
		r.pins[2+i] = &xshutPin{n: 2 + i, chip: c}
	}
	return r
}

func (r *simReg) ClaimI2C(dev string, id core.ResourceID) (drivers.I2C, error) {
	if id != "i2c0" {
		return nil, errcode.UnknownBus
	}
	r.i2c[dev] = true
	return r.bus, nil
}
func (r *simReg) ReleaseI2C(dev string, id core.ResourceID) { delete(r.i2c, dev) }

func (r *simReg) ClaimGPIO(dev string, n int) (core.GPIOHandle, error) {
	p, ok := r.pins[n]
	if !ok {
		return nil, errcode.UnknownPin
	}
	if _, taken := r.owners[n]; taken {
		return nil, errcode.PinInUse
	}
	r.owners[n] = dev
	return p, nil
}
func (r *simReg) ReleaseGPIO(dev string, n int) {
	if r.owners[n] == dev {
		delete(r.owners, n)
		_ = r.pins[n].ConfigureInput(core.PullNone)
	}
}
func (r *simReg) ReleaseGPIOHeld(dev string, n int, level bool) {
	if r.owners[n] == dev {
		delete(r.owners, n)
		_ = r.pins[n].ConfigureOutput(level)
	}
}

func (r *simReg) ClaimLatchBit(string, core.ResourceID, int) (core.Latch, error) {
	return nil, errcode.UnknownLatch
}
func (r *simReg) ReleaseLatchBit(string, core.ResourceID, int) {}

// ---- Manual scheduler & emitter ----

type task struct {
	d  time.Duration
	fn func()
}

type clock struct {
	queue []task
	waits []time.Duration
}

func (c *clock) After(d time.Duration, fn func()) { c.queue = append(c.queue, task{d, fn}) }

func (c *clock) runAll() {
	for len(c.queue) > 0 {
		tk := c.queue[0]
		c.queue = c.queue[1:]
		c.waits = append(c.waits, tk.d)
		tk.fn()
	}
}

type events []core.Event

func (e *events) Emit(ev core.Event) bool {
	*e = append(*e, ev)
	return true
}

func (e events) assign(name string) []types.AddressEvent {
	var out []types.AddressEvent
	for _, ev := range e {
		if ev.Addr.Name == name && ev.EventTag == "assign" {
			out = append(out, ev.Payload.(types.AddressEvent))
		}
	}
	return out
}

func (e events) values(name string) []types.RangeValue {
	var out []types.RangeValue
	for _, ev := range e {
		if ev.Addr.Name == name && !ev.IsEvent && ev.Err == "" {
			out = append(out, ev.Payload.(types.RangeValue))
		}
	}
	return out
}

func (e events) errs(name string) []string {
	var out []string
	for _, ev := range e {
		if ev.Addr.Name == name && ev.Err != "" {
			out = append(out, ev.Err)
		}
	}
	return out
}

type report struct {
	state string
	code  errcode.Code
}

type statuses []report

func (s *statuses) DeviceFailed(id string, err error) {
	*s = append(*s, report{"failed", errcode.Of(err)})
}
func (s *statuses) DeviceDegraded(id string, err error) {
	*s = append(*s, report{"degraded", errcode.Of(err)})
}

type rig struct {
	reg *simReg
	clk *clock
	pub *events
	st  *statuses
}

func newRig(chips ...*simChip) *rig {
	return &rig{reg: newSimReg(chips...), clk: &clock{}, pub: &events{}, st: &statuses{}}
}

func (r *rig) build(t *testing.T, p Params) (*Device, error) {
	t.Helper()
	d, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID: "tof", Type: "vl53l0x_array", Params: p,
		Res: core.Resources{Reg: r.reg, Pub: r.pub, Sched: r.clk, Status: r.st},
	})
	if err != nil {
		return nil, err
	}
	return d.(*Device), nil
}

func twoSensors() Params {
	return Params{
		Bus: "i2c0",
		Sensors: []SensorParams{
			{Name: "left", ResetPin: 2, Addr: 0x23},
			{Name: "right", ResetPin: 3, Addr: 0x19},
		},
	}
}

// ---- Tests ----

func TestAssignsAddressesThenReads(t *testing.T) {
	left, right := newChip(500), newChip(1200)
	r := newRig(left, right)
	d, err := r.build(t, twoSensors())
	require.NoError(t, err)

	require.NoError(t, d.Init(context.Background()))
	assert.True(t, left.held && right.held, "Init holds every sensor before returning")
	assert.Empty(t, *r.pub)

	r.clk.runAll()

	assert.Equal(t, uint16(0x23), left.addr)
	assert.Equal(t, uint16(0x19), right.addr)
	assert.False(t, left.held || right.held)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		150 * time.Millisecond, 100 * time.Millisecond, 0,
		150 * time.Millisecond, 100 * time.Millisecond,
	}, r.clk.waits[:6])

	for _, name := range []string{"left", "right"} {
		var states []string
		for _, ev := range r.pub.assign(name) {
			states = append(states, ev.State)
		}
		assert.Equal(t, []string{types.AssignBooting, types.AssignAddressCapable, types.AssignRemapped}, states, name)
	}
	assert.Equal(t, uint8(0x23), r.pub.assign("left")[2].Addr)

	assert.Equal(t, []types.RangeValue{{MM: 500}}, r.pub.values("left"))
	assert.Equal(t, []types.RangeValue{{MM: 1200}}, r.pub.values("right"))
	assert.Empty(t, *r.st, "a clean run leaves the ok status alone")
}

func TestReadControl(t *testing.T) {
	left, right := newChip(500), newChip(8190)
	r := newRig(left, right)
	d, err := r.build(t, twoSensors())
	require.NoError(t, err)
	require.NoError(t, d.Init(context.Background()))

	a := core.CapAddr{Domain: "env", Kind: "range", Name: "right"}
	res, err := d.Control(a, "read", nil)
	require.NoError(t, err)
	assert.Equal(t, errcode.NotReady, res.Error, "reads wait for assignment")

	r.clk.runAll()
	*r.pub = nil

	res, err = d.Control(a, "read", nil)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = d.Control(a, "read", nil)
	require.NoError(t, err)
	assert.Equal(t, errcode.Busy, res.Error, "one shot in flight per sensor")

	r.clk.runAll()
	assert.Equal(t, []types.RangeValue{{MM: 8190, OutOfRange: true}}, r.pub.values("right"))

	res, _ = d.Control(core.CapAddr{Domain: "env", Kind: "range", Name: "middle"}, "read", nil)
	assert.Equal(t, errcode.UnknownCapability, res.Error)
	res, _ = d.Control(a, "calibrate", nil)
	assert.Equal(t, errcode.Unsupported, res.Error)
}

func TestAbortLeavesLaterSensorsHeld(t *testing.T) {
	a, b, c := newChip(100), newChip(200), newChip(300)
	b.regs[0xC0] = 0x00 // wrong part
	r := newRig(a, b, c)
	p := twoSensors()
	p.Sensors = append(p.Sensors, SensorParams{Name: "rear", ResetPin: 4, Addr: 0x30})
	d, err := r.build(t, p)
	require.NoError(t, err)

	require.NoError(t, d.Init(context.Background()))
	r.clk.runAll()

	assert.Equal(t, uint16(0x23), a.addr)
	assert.True(t, b.held, "failed sensor is held again")
	assert.True(t, c.held, "unprocessed sensor never released")

	rightStates := r.pub.assign("right")
	require.NotEmpty(t, rightStates)
	last := rightStates[len(rightStates)-1]
	assert.Equal(t, types.AssignFailed, last.State)
	assert.Equal(t, string(errcode.BusFault), last.Error)

	assert.Equal(t, []string{string(errcode.BusFault)}, r.pub.errs("right"))
	assert.Equal(t, []string{string(errcode.BusFault)}, r.pub.errs("rear"))
	assert.Empty(t, r.pub.assign("rear"))
	assert.Len(t, r.pub.values("left"), 1, "assigned sensor still serves reads")

	res, _ := d.Control(core.CapAddr{Name: "rear"}, "read", nil)
	assert.Equal(t, errcode.BadDevice, res.Error)

	assert.Equal(t, statuses{{"failed", errcode.BusFault}}, *r.st, "abort is a fatal setup error")
}

func TestIgnorePolicyAssignsTheRest(t *testing.T) {
	a, b, c := newChip(100), newChip(200), newChip(300)
	b.regs[0xC0] = 0x00
	r := newRig(a, b, c)
	p := twoSensors()
	p.Policy = "ignore"
	p.Sensors = append(p.Sensors, SensorParams{Name: "rear", ResetPin: 4, Addr: 0x30})
	d, err := r.build(t, p)
	require.NoError(t, err)

	require.NoError(t, d.Init(context.Background()))
	r.clk.runAll()

	assert.Equal(t, uint16(0x23), a.addr)
	assert.Equal(t, uint16(0x30), c.addr)
	assert.Len(t, r.pub.values("rear"), 1)
	assert.Equal(t, []string{string(errcode.BusFault)}, r.pub.errs("right"))
	assert.Equal(t, statuses{{"degraded", errcode.BusFault}}, *r.st)
}

func TestBuildValidation(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Params)
		want errcode.Code
	}{
		{"no bus", func(p *Params) { p.Bus = "" }, errcode.InvalidParams},
		{"unknown bus", func(p *Params) { p.Bus = "i2c7" }, errcode.UnknownBus},
		{"unknown pin", func(p *Params) { p.Sensors[1].ResetPin = 40 }, errcode.UnknownPin},
		{"shared pin", func(p *Params) { p.Sensors[1].ResetPin = 2 }, errcode.PinInUse},
		{"duplicate addr", func(p *Params) { p.Sensors[1].Addr = 0x23 }, errcode.InvalidAddress},
		{"default addr", func(p *Params) { p.Sensors[0].Addr = 0x29 }, errcode.InvalidAddress},
		{"bad policy", func(p *Params) { p.Policy = "retry" }, errcode.InvalidParams},
		{"unnamed", func(p *Params) { p.Sensors[0].Name = "" }, errcode.InvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(newChip(0), newChip(0))
			p := twoSensors()
			tc.mut(&p)
			_, err := r.build(t, p)
			assert.Equal(t, tc.want, errcode.Of(err))
			assert.Empty(t, r.reg.owners, "pins released on failure")
			assert.Empty(t, r.reg.i2c, "bus released on failure")
		})
	}
}

func TestCapabilitiesAndClose(t *testing.T) {
	left, right := newChip(0), newChip(0)
	r := newRig(left, right)
	p := twoSensors()
	p.PollMs = 200
	d, err := r.build(t, p)
	require.NoError(t, err)

	caps := d.Capabilities()
	require.Len(t, caps, 2)
	assert.Equal(t, "env", caps[0].Domain)
	assert.Equal(t, types.RangeInfo{Sensor: "vl53l0x", Bus: "i2c0", Addr: 0x19, ResetPin: 3}, caps[1].Info.Detail)
	require.NotNil(t, caps[0].Poll)
	assert.Equal(t, 200*time.Millisecond, caps[0].Poll.Every)

	require.NoError(t, d.Init(context.Background()))
	r.clk.runAll()
	require.NoError(t, d.Close())
	assert.True(t, left.held && right.held, "reset lines stay driven low after release")
	assert.Empty(t, r.reg.owners)
	assert.Empty(t, r.reg.i2c)
}

func TestFailedBuildLeavesResetLinesHeld(t *testing.T) {
	left, right := newChip(0), newChip(0)
	r := newRig(left, right)
	p := twoSensors()
	p.Sensors[1].Addr = 0x23 // rejected after both pins are claimed
	_, err := r.build(t, p)
	require.Error(t, err)
	assert.True(t, left.held && right.held)
}
