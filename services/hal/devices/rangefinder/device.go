// Package rangefinder hosts an array of VL53L0X time-of-flight sensors that
// share one I²C bus. At Init every sensor is moved off the factory address
// one at a time; afterwards each sensor is a range capability.
package rangefinder

import (
	"context"
	"time"

	"sensornode-go/drivers/vl53l0x"
	"sensornode-go/errcode"
	"sensornode-go/services/hal/internal/addrassign"
	"sensornode-go/services/hal/internal/core"
	"sensornode-go/types"
	"sensornode-go/x/logx"
	"sensornode-go/x/timex"
)

var log = logx.New("rangefinder")

type SensorParams struct {
	Name     string // capability name
	ResetPin int    // XSHUT GPIO
	Addr     uint8  // target address
}

type Params struct {
	Bus     string // I²C bus id
	Domain  string // default "env"
	Sensors []SensorParams

	// Protocol delays in ms; 0 selects 500/150/100.
	SettleMs   uint32
	BootMs     uint32
	PostInitMs uint32

	Policy    string // "abort" (default) or "ignore"
	Verify    bool   // probe each sensor at its new address
	PollMs    uint32 // periodic read interval; 0 disables
	TimeoutMs uint32 // driver polling bound; 0 selects 500
}

// resetLine drives XSHUT: output low holds the sensor in reset, an input with
// no pull lets the breakout's pull-up release it.
type resetLine struct {
	pin core.GPIOHandle
}

func (r resetLine) Hold() error    { return r.pin.ConfigureOutput(false) }
func (r resetLine) Release() error { return r.pin.ConfigureInput(core.PullNone) }

type sensor struct {
	name   string
	pin    int
	reset  resetLine
	dev    *vl53l0x.Device
	target uint8

	state    addrassign.State
	reading  bool
	deadline time.Time
}

type Device struct {
	id     string
	bus    string
	domain string
	poll   time.Duration

	reg    core.ResourceRegistry
	pub    core.EventEmitter
	sched  core.Scheduler
	status core.StatusReporter

	sensors []*sensor
	asg     *addrassign.Assigner
	closed  bool
}

func (d *Device) ID() string { return d.id }

func (d *Device) addr(s *sensor) core.CapAddr {
	return core.CapAddr{Domain: d.domain, Kind: string(types.KindRange), Name: s.name}
}

func (d *Device) Capabilities() []core.CapabilitySpec {
	out := make([]core.CapabilitySpec, 0, len(d.sensors))
	for _, s := range d.sensors {
		cs := core.CapabilitySpec{
			Domain: d.domain,
			Kind:   types.KindRange,
			Name:   s.name,
			Info: types.Info{
				SchemaVersion: 1,
				Driver:        "vl53l0x",
				Detail:        types.RangeInfo{Sensor: "vl53l0x", Bus: d.bus, Addr: s.target, ResetPin: s.pin},
			},
		}
		if d.poll > 0 {
			cs.Poll = &core.PollSpec{Verb: "read", Every: d.poll, Jitter: d.poll / 10}
		}
		out = append(out, cs)
	}
	return out
}

// Init holds every sensor in reset and schedules the rest of the address
// assignment; it returns before any sensor has been released.
func (d *Device) Init(ctx context.Context) error {
	wait, err := d.asg.Start()
	if err != nil {
		return err
	}
	log.Info("address assignment started", "id", d.id, "sensors", len(d.sensors))
	d.sched.After(wait, d.step)
	return nil
}

// step runs on the HAL goroutine. Sensor Init includes reference
// calibration, which polls the part for a few milliseconds.
func (d *Device) step() {
	if d.closed {
		return
	}
	wait, done, err := d.asg.Step()
	if done || err != nil {
		d.finish(err)
		return
	}
	d.sched.After(wait, d.step)
}

// finish reports the outcome on the device status: failed when the sequence
// stopped, degraded when some sensors failed and the rest carried on.
func (d *Device) finish(err error) {
	switch faults := d.asg.Err(); {
	case err != nil:
		log.Error("address assignment aborted", "id", d.id, "err", err.Error())
		d.status.DeviceFailed(d.id, err)
	case faults != nil:
		d.status.DeviceDegraded(d.id, faults)
	default:
		log.Info("address assignment complete", "id", d.id)
	}
	for _, s := range d.sensors {
		switch s.state {
		case addrassign.StateRemapped:
			d.startRead(s)
		case addrassign.StateFailed:
			// already degraded by onTransition
		default:
			d.emitErr(s, errcode.Of(err))
		}
	}
}

func (d *Device) onTransition(tr addrassign.Transition) {
	s := d.sensors[tr.Index]
	s.state = tr.To
	ev := types.AddressEvent{State: tr.To.String(), Addr: tr.Addr}
	if tr.Err != nil {
		ev.Error = string(errcode.Of(tr.Err))
		log.Warn("sensor failed", "sensor", s.name, "err", tr.Err.Error())
	} else {
		log.Debug("sensor transition", "sensor", s.name, "state", ev.State, "addr", tr.Addr)
	}
	d.emit(core.Event{
		Addr:     d.addr(s),
		Payload:  ev,
		TSms:     timex.NowMs(),
		IsEvent:  true,
		EventTag: "assign",
	})
	if tr.To == addrassign.StateFailed {
		d.emitErr(s, errcode.Of(tr.Err))
	}
}

func (d *Device) Control(a core.CapAddr, method string, payload any) (core.EnqueueResult, error) {
	s := d.lookup(a.Name)
	if s == nil {
		return core.EnqueueResult{OK: false, Error: errcode.UnknownCapability}, nil
	}
	switch method {
	case "read":
		switch {
		case !d.asg.Done():
			return core.EnqueueResult{OK: false, Error: errcode.NotReady}, nil
		case s.state != addrassign.StateRemapped:
			return core.EnqueueResult{OK: false, Error: errcode.BadDevice}, nil
		case s.reading:
			return core.EnqueueResult{OK: false, Error: errcode.Busy}, nil
		}
		if err := d.startRead(s); err != nil {
			return core.EnqueueResult{}, err
		}
		return core.EnqueueResult{OK: true}, nil
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

// startRead triggers a single shot and schedules its collection.
func (d *Device) startRead(s *sensor) error {
	if err := s.dev.Trigger(); err != nil {
		d.emitErr(s, errcode.Of(err))
		return err
	}
	s.reading = true
	s.deadline = time.Now().Add(s.dev.Timeout())
	d.sched.After(s.dev.CollectHint(), func() { d.collect(s) })
	return nil
}

func (d *Device) collect(s *sensor) {
	if d.closed {
		return
	}
	var smp vl53l0x.Sample
	err := s.dev.Collect(&smp)
	if err == vl53l0x.ErrNotReady && time.Now().Before(s.deadline) {
		d.sched.After(s.dev.PollInterval(), func() { d.collect(s) })
		return
	}
	s.reading = false
	if err == vl53l0x.ErrNotReady {
		err = vl53l0x.ErrTimeout
	}
	if err != nil {
		d.emitErr(s, errcode.Of(err))
		return
	}
	d.emit(core.Event{
		Addr:    d.addr(s),
		Payload: types.RangeValue{MM: smp.MM, OutOfRange: smp.OutOfRange()},
		TSms:    timex.NowMs(),
	})
}

func (d *Device) emitErr(s *sensor, code errcode.Code) {
	d.emit(core.Event{Addr: d.addr(s), Err: string(code), TSms: timex.NowMs()})
}

func (d *Device) emit(ev core.Event) {
	if !d.pub.Emit(ev) {
		log.Warn("event dropped", "id", d.id, "cap", ev.Addr.Name)
	}
}

func (d *Device) lookup(name string) *sensor {
	for _, s := range d.sensors {
		if s.name == name {
			return s
		}
	}
	return nil
}

// Close leaves every sensor held in reset and returns the pins and bus. The
// reset lines stay driven low after release; floating, the breakout pull-ups
// would bring every sensor up at the default address at once.
func (d *Device) Close() error {
	d.closed = true
	d.release()
	return nil
}

func (d *Device) release() {
	for _, s := range d.sensors {
		d.reg.ReleaseGPIOHeld(d.id, s.pin, false)
	}
	d.reg.ReleaseI2C(d.id, core.ResourceID(d.bus))
}
