package provider

import (
	"strconv"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"sensornode-go/errcode"
	"sensornode-go/services/hal/internal/core"
	"sensornode-go/services/hal/internal/provider/setups"
	"sensornode-go/types"
	"sensornode-go/x/logx"
)

var log = logx.New("provider")

// SelectedPlan and InitialHALConfig are set by the build-tagged setup files.
var (
	SelectedPlan     setups.ResourcePlan
	InitialHALConfig types.HALConfig
)

// platform builds the hardware side of each resource.
type platform interface {
	gpio(n int) core.GPIOHandle
	i2c(p setups.I2CPlan) (drivers.I2C, error)
	latch(p setups.LatchPlan, data, clock, latch core.GPIOHandle) (core.Latch, error)
}

// Ensure the provider satisfies the contracts at compile time.
var _ core.ResourceRegistry = (*Registry)(nil)

// Registry owns every board resource described by a plan and records which
// device holds what.
type Registry struct {
	mu    sync.Mutex
	plat  platform
	board setups.Board

	pins      map[int]core.GPIOHandle
	pinOwners map[int]string // pin -> devID

	i2c      map[core.ResourceID]*i2cOwner
	i2cUsers map[core.ResourceID]map[string]bool

	latches map[core.ResourceID]*latchEntry
}

type latchEntry struct {
	l      core.Latch
	owners map[int]string // index -> devID
}

func newRegistry(plan setups.ResourcePlan, plat platform) *Registry {
	r := &Registry{
		plat:      plat,
		board:     plan.Board,
		pins:      make(map[int]core.GPIOHandle),
		pinOwners: make(map[int]string),
		i2c:       make(map[core.ResourceID]*i2cOwner),
		i2cUsers:  make(map[core.ResourceID]map[string]bool),
		latches:   make(map[core.ResourceID]*latchEntry),
	}

	for _, p := range plan.I2C {
		owner := "i2c:" + p.ID
		if err := r.reserve(owner, p.SDA, p.SCL); err != nil {
			log.Error("i2c pins unavailable", "bus", p.ID, "err", err.Error())
			continue
		}
		hw, err := plat.i2c(p)
		if err != nil {
			log.Error("i2c setup failed", "bus", p.ID, "err", err.Error())
			r.unreserve(owner, p.SDA, p.SCL)
			continue
		}
		id := core.ResourceID(p.ID)
		r.i2c[id] = newI2COwner(id, hw)
		r.i2cUsers[id] = map[string]bool{}
	}

	for _, p := range plan.Latches {
		owner := "latch:" + p.ID
		if err := r.reserve(owner, p.Data, p.Clock, p.Latch); err != nil {
			log.Error("latch pins unavailable", "latch", p.ID, "err", err.Error())
			continue
		}
		l, err := plat.latch(p, r.pin(p.Data), r.pin(p.Clock), r.pin(p.Latch))
		if err != nil {
			log.Error("latch setup failed", "latch", p.ID, "err", err.Error())
			r.unreserve(owner, p.Data, p.Clock, p.Latch)
			continue
		}
		r.latches[core.ResourceID(p.ID)] = &latchEntry{l: l, owners: map[int]string{}}
		log.Info("latch ready", "latch", p.ID, "outputs", l.Len())
	}
	return r
}

// ---- pins ----

func (r *Registry) inBoardRange(n int) bool {
	return n >= r.board.GPIOMin && n <= r.board.GPIOMax
}

// pin returns the cached handle for n. Caller holds no claim semantics.
func (r *Registry) pin(n int) core.GPIOHandle {
	if h, ok := r.pins[n]; ok {
		return h
	}
	h := r.plat.gpio(n)
	r.pins[n] = h
	return h
}

// reserve claims pins for an internal owner, all or nothing.
func (r *Registry) reserve(owner string, pins ...int) error {
	for i, n := range pins {
		if err := r.claimPinLocked(owner, n); err != nil {
			r.unreserve(owner, pins[:i]...)
			return err
		}
	}
	return nil
}

func (r *Registry) unreserve(owner string, pins ...int) {
	for _, n := range pins {
		if r.pinOwners[n] == owner {
			delete(r.pinOwners, n)
		}
	}
}

func (r *Registry) claimPinLocked(devID string, n int) error {
	if !r.inBoardRange(n) {
		return errcode.UnknownPin
	}
	if _, inUse := r.pinOwners[n]; inUse {
		return errcode.PinInUse
	}
	r.pinOwners[n] = devID
	return nil
}

func (r *Registry) ClaimGPIO(devID string, n int) (core.GPIOHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimPinLocked(devID, n); err != nil {
		return nil, err
	}
	return r.pin(n), nil
}

// ReleaseGPIO returns the pin to a floating input.
func (r *Registry) ReleaseGPIO(devID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pinOwners[n] != devID {
		return
	}
	delete(r.pinOwners, n)
	_ = r.pin(n).ConfigureInput(core.PullNone)
}

// ReleaseGPIOHeld gives up the claim but leaves the pin driven at level.
func (r *Registry) ReleaseGPIOHeld(devID string, n int, level bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pinOwners[n] != devID {
		return
	}
	delete(r.pinOwners, n)
	_ = r.pin(n).ConfigureOutput(level)
}

// ---- I²C ----

// ClaimI2C returns a serialised handle to a shared bus.
func (r *Registry) ClaimI2C(devID string, id core.ResourceID) (drivers.I2C, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.i2c[id]
	if o == nil {
		return nil, errcode.UnknownBus
	}
	r.i2cUsers[id][devID] = true
	return &driversI2C{o: o, timeout: 250 * time.Millisecond}, nil
}

func (r *Registry) ReleaseI2C(devID string, id core.ResourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if users := r.i2cUsers[id]; users != nil {
		delete(users, devID)
	}
}

// ---- latches ----

func (r *Registry) ClaimLatchBit(devID string, id core.ResourceID, index int) (core.Latch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.latches[id]
	if e == nil {
		return nil, errcode.UnknownLatch
	}
	if index < 0 || index >= e.l.Len() {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "claim_latch_bit", Msg: string(id) + "[" + strconv.Itoa(index) + "] out of range"}
	}
	if owner, taken := e.owners[index]; taken {
		return nil, &errcode.E{C: errcode.IndexInUse, Op: "claim_latch_bit", Msg: string(id) + "[" + strconv.Itoa(index) + "] held by " + owner}
	}
	e.owners[index] = devID
	return e.l, nil
}

func (r *Registry) ReleaseLatchBit(devID string, id core.ResourceID, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.latches[id]; e != nil && e.owners[index] == devID {
		delete(e.owners, index)
	}
}

// Close stops the per-bus I²C workers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.i2c {
		o.stop()
		delete(r.i2c, id)
	}
}

// -----------------------------------------------------------------------------
// I²C owner (one worker per bus)
// -----------------------------------------------------------------------------

type i2cReq struct {
	addr uint16
	w, r []byte
	done chan error // buffered(1); worker replies best-effort
}

type i2cOwner struct {
	id   core.ResourceID
	hw   drivers.I2C
	reqs chan i2cReq
	quit chan struct{}
}

func newI2COwner(id core.ResourceID, hw drivers.I2C) *i2cOwner {
	o := &i2cOwner{
		id:   id,
		hw:   hw,
		reqs: make(chan i2cReq, 16),
		quit: make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *i2cOwner) loop() {
	for {
		select {
		case req := <-o.reqs:
			var err error = errcode.UnknownBus
			if !o.stopped() {
				err = o.hw.Tx(req.addr, req.w, req.r)
			}
			select {
			case req.done <- err:
			default:
			}
		case <-o.quit:
			return
		}
	}
}

func (o *i2cOwner) stop() { close(o.quit) }

func (o *i2cOwner) stopped() bool {
	select {
	case <-o.quit:
		return true
	default:
		return false
	}
}

// driversI2C adapts the owner to tinygo.org/x/drivers.I2C with a per-call
// deadline on both enqueue and completion.
type driversI2C struct {
	o       *i2cOwner
	timeout time.Duration
}

var _ drivers.I2C = (*driversI2C)(nil)

func (d *driversI2C) Tx(addr uint16, w, r []byte) error {
	if d.o.stopped() {
		return errcode.UnknownBus
	}
	req := i2cReq{addr: addr, w: w, r: r, done: make(chan error, 1)}

	t := time.NewTimer(d.timeout)
	defer t.Stop()
	select {
	case d.o.reqs <- req:
	case <-t.C:
		return errcode.Busy
	case <-d.o.quit:
		return errcode.UnknownBus
	}
	select {
	case err := <-req.done:
		return err
	case <-t.C:
		return errcode.Timeout
	}
}
