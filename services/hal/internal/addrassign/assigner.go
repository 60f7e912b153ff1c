// Package addrassign gives several identical I²C sensors distinct addresses.
//
// All sensors boot at the same default address, so only one of them may be
// out of reset at a time until it has been moved. The sequence is:
//
//	hold every reset line, wait Settle
//	for each sensor in order:
//	    release its reset line, wait Boot
//	    Init(true), wait PostInit
//	    SetAddress(target)            // sensor stays released
//
// The Assigner is an explicit state machine: Start and Step each perform one
// protocol action and return how long the caller must wait before the next
// Step. Run drives it with blocking sleeps; the HAL device drives it from
// timer callbacks so initialisation never blocks the HAL loop.
package addrassign

import (
	"context"
	"errors"
	"strconv"
	"time"

	"sensornode-go/errcode"
)

// Reference lower bounds for the protocol delays.
const (
	DefaultSettle   = 500 * time.Millisecond
	DefaultBoot     = 150 * time.Millisecond
	DefaultPostInit = 100 * time.Millisecond
)

// DefaultAddress is the factory address shared by every sensor.
const DefaultAddress = 0x29

// Valid 7-bit target range (reserved addresses excluded).
const (
	minAddr = 0x08
	maxAddr = 0x77
)

type State uint8

const (
	StateHeld State = iota
	StateBooting
	StateAddressCapable
	StateRemapped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateHeld:
		return "held"
	case StateBooting:
		return "booting"
	case StateAddressCapable:
		return "address_capable"
	case StateRemapped:
		return "remapped"
	default:
		return "failed"
	}
}

// ResetLine is one sensor's shutdown/reset control.
// Hold keeps the sensor inert and silent; Release lets it boot.
type ResetLine interface {
	Hold() error
	Release() error
}

// Remapper is the bus-side contract of one sensor. Init(io2v8) brings the
// part up so that it accepts SetAddress. The sequence always passes true:
// 2.8 V I/O is how the breakouts are wired, and this is the remap-capable
// initialisation the protocol relies on.
type Remapper interface {
	Init(io2v8 bool) error
	SetAddress(addr uint8) error
}

// Prober is optionally implemented by a Remapper; with Config.Verify set it
// is called after SetAddress and must succeed at the new address.
type Prober interface {
	Probe() error
}

type Sensor struct {
	Name   string
	Reset  ResetLine
	Dev    Remapper
	Target uint8
}

// Policy selects what a bus failure does to the rest of the sequence.
type Policy uint8

const (
	// PolicyAbort stops at the first failure; unprocessed sensors stay held.
	PolicyAbort Policy = iota
	// PolicyIgnore marks the sensor failed and carries on with the next one.
	PolicyIgnore
)

// ParsePolicy accepts "abort", "ignore" and "" (abort).
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "abort":
		return PolicyAbort, true
	case "ignore":
		return PolicyIgnore, true
	}
	return 0, false
}

type Timing struct {
	Settle   time.Duration
	Boot     time.Duration
	PostInit time.Duration
}

// Transition reports one per-sensor state change.
type Transition struct {
	Index int
	Name  string
	From  State
	To    State
	Addr  uint8 // address the sensor answers at after the transition
	Err   error // set when To == StateFailed
}

type Config struct {
	Timing       Timing
	DefaultAddr  uint8 // 0 selects DefaultAddress
	Policy       Policy
	Verify       bool
	OnTransition func(Transition)
}

type phase uint8

const (
	phaseIdle phase = iota
	phaseRelease
	phaseInit
	phaseSetAddr
	phaseDone
)

type Assigner struct {
	sensors []Sensor
	cfg     Config
	states  []State
	cur     int
	ph      phase
	err     error   // terminal error (abort or cancellation)
	faults  []error // every bus fault, whatever the policy
}

// New validates the sensor set and returns an Assigner in its idle phase.
func New(sensors []Sensor, cfg Config) (*Assigner, error) {
	if cfg.Timing.Settle <= 0 {
		cfg.Timing.Settle = DefaultSettle
	}
	if cfg.Timing.Boot <= 0 {
		cfg.Timing.Boot = DefaultBoot
	}
	if cfg.Timing.PostInit <= 0 {
		cfg.Timing.PostInit = DefaultPostInit
	}
	if cfg.DefaultAddr == 0 {
		cfg.DefaultAddr = DefaultAddress
	}
	if len(sensors) == 0 {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "addrassign", Msg: "no sensors"}
	}

	seen := make(map[uint8]bool, len(sensors))
	ss := make([]Sensor, len(sensors))
	for i, s := range sensors {
		if s.Name == "" {
			s.Name = "sensor" + strconv.Itoa(i)
		}
		if s.Reset == nil || s.Dev == nil {
			return nil, &errcode.E{C: errcode.InvalidParams, Op: "addrassign", Msg: s.Name + ": missing reset line or device"}
		}
		switch {
		case s.Target < minAddr || s.Target > maxAddr:
			return nil, &errcode.E{C: errcode.InvalidAddress, Op: "addrassign", Msg: s.Name + ": target outside 0x08..0x77"}
		case s.Target == cfg.DefaultAddr:
			return nil, &errcode.E{C: errcode.InvalidAddress, Op: "addrassign", Msg: s.Name + ": target equals default address"}
		case seen[s.Target]:
			return nil, &errcode.E{C: errcode.InvalidAddress, Op: "addrassign", Msg: s.Name + ": duplicate target"}
		}
		seen[s.Target] = true
		ss[i] = s
	}

	return &Assigner{
		sensors: ss,
		cfg:     cfg,
		states:  make([]State, len(ss)),
	}, nil
}

// Start holds every reset line. The caller waits the returned duration
// before the first Step.
func (a *Assigner) Start() (time.Duration, error) {
	if a.ph != phaseIdle {
		return 0, &errcode.E{C: errcode.Busy, Op: "addrassign", Msg: "already started"}
	}
	for i := range a.sensors {
		if err := a.sensors[i].Reset.Hold(); err != nil {
			a.err = &errcode.E{C: errcode.Error, Op: "hold", Msg: a.sensors[i].Name, Err: err}
			a.ph = phaseDone
			return 0, a.err
		}
	}
	a.ph = phaseRelease
	return a.cfg.Timing.Settle, nil
}

// Step performs the next protocol action. wait is the delay to honour before
// the following Step; done reports the end of the sequence. A non-nil err
// with done set is the terminal error under PolicyAbort.
func (a *Assigner) Step() (wait time.Duration, done bool, err error) {
	if a.ph == phaseIdle {
		return 0, false, &errcode.E{C: errcode.NotReady, Op: "addrassign", Msg: "not started"}
	}
	if a.ph == phaseDone {
		return 0, true, a.err
	}

	i := a.cur
	s := a.sensors[i]
	switch a.ph {
	case phaseRelease:
		if err := s.Reset.Release(); err != nil {
			return a.fail(i, "release", err)
		}
		a.transition(i, StateBooting, a.cfg.DefaultAddr)
		a.ph = phaseInit
		return a.cfg.Timing.Boot, false, nil

	case phaseInit:
		if err := s.Dev.Init(true); err != nil {
			return a.fail(i, "init", err)
		}
		a.transition(i, StateAddressCapable, a.cfg.DefaultAddr)
		a.ph = phaseSetAddr
		return a.cfg.Timing.PostInit, false, nil

	default: // phaseSetAddr
		if err := s.Dev.SetAddress(s.Target); err != nil {
			return a.fail(i, "set_address", err)
		}
		if a.cfg.Verify {
			if p, ok := s.Dev.(Prober); ok {
				if err := p.Probe(); err != nil {
					return a.fail(i, "verify", err)
				}
			}
		}
		a.transition(i, StateRemapped, s.Target)
		return a.next()
	}
}

// next moves to the following sensor. Its release happens on the very next
// Step with no delay in between.
func (a *Assigner) next() (time.Duration, bool, error) {
	a.cur++
	if a.cur >= len(a.sensors) {
		a.ph = phaseDone
		return 0, true, a.err
	}
	a.ph = phaseRelease
	return 0, false, nil
}

// fail puts the sensor back on hold so it cannot answer at the default
// address alongside the next sensor, then applies the policy. A sensor that
// cannot be held may still be on the default address, so the sequence stops
// whatever the policy.
func (a *Assigner) fail(i int, op string, cause error) (time.Duration, bool, error) {
	e := &errcode.E{C: errcode.BusFault, Op: op, Msg: a.sensors[i].Name, Err: cause}
	held := true
	if herr := a.sensors[i].Reset.Hold(); herr != nil {
		e.Err = errors.Join(cause, &errcode.E{C: errcode.Error, Op: "hold", Err: herr})
		held = false
	}
	a.faults = append(a.faults, e)
	a.transitionErr(i, StateFailed, 0, e)

	if held && a.cfg.Policy == PolicyIgnore {
		return a.next()
	}
	a.err = e
	a.ph = phaseDone
	return 0, true, e
}

func (a *Assigner) transition(i int, to State, addr uint8) {
	a.transitionErr(i, to, addr, nil)
}

func (a *Assigner) transitionErr(i int, to State, addr uint8, err error) {
	from := a.states[i]
	a.states[i] = to
	if a.cfg.OnTransition != nil {
		a.cfg.OnTransition(Transition{
			Index: i,
			Name:  a.sensors[i].Name,
			From:  from,
			To:    to,
			Addr:  addr,
			Err:   err,
		})
	}
}

// Sleeper is the blocking delay primitive used by Run.
type Sleeper interface {
	Sleep(d time.Duration)
}

type SleepFunc func(time.Duration)

func (f SleepFunc) Sleep(d time.Duration) { f(d) }

// Run drives the whole sequence with blocking sleeps. Delays are not
// interruptible; ctx is checked between actions. A nil Sleeper uses
// time.Sleep.
func (a *Assigner) Run(ctx context.Context, s Sleeper) error {
	if s == nil {
		s = SleepFunc(time.Sleep)
	}
	wait, err := a.Start()
	if err != nil {
		return err
	}
	for {
		if wait > 0 {
			s.Sleep(wait)
		}
		if err := ctx.Err(); err != nil {
			a.err = err
			a.ph = phaseDone
			return err
		}
		var done bool
		wait, done, err = a.Step()
		if done || err != nil {
			return err
		}
	}
}

// Done reports whether the sequence has finished (successfully or not).
func (a *Assigner) Done() bool { return a.ph == phaseDone }

// Err returns the terminal error, or under PolicyIgnore every recorded
// fault joined together.
func (a *Assigner) Err() error {
	if a.err != nil {
		return a.err
	}
	return errors.Join(a.faults...)
}

func (a *Assigner) Len() int { return len(a.sensors) }

func (a *Assigner) State(i int) State { return a.states[i] }

// States returns a copy of every sensor's state.
func (a *Assigner) States() []State {
	return append([]State(nil), a.states...)
}

// Timing returns the effective delays after defaults were applied.
func (a *Assigner) Timing() Timing { return a.cfg.Timing }
