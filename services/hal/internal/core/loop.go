package core

import (
	"context"
	"time"

	"sensornode-go/bus"
	"sensornode-go/errcode"
	"sensornode-go/types"
	"sensornode-go/x/logx"
	"sensornode-go/x/timex"
)

const (
	eventQueueLen = 16
	runQueueLen   = 16
	pollQueueLen  = 8
)

var log = logx.New("hal")

type HAL struct {
	conn *bus.Connection
	res  Resources

	dev      map[string]Device  // devID -> device
	capIndex map[CapAddr]string // capability -> devID
	order    []string           // build order, for Close

	cfgSub  *bus.Subscription
	ctrlSub *bus.Subscription

	// Everything below is drained by the Run goroutine only.
	evCh   chan Event
	runCh  chan func()
	pollCh chan PollReq
	poller *Poller
	done   chan struct{}
}

func NewHAL(conn *bus.Connection, res Resources) *HAL {
	h := &HAL{
		conn:     conn,
		res:      res,
		dev:      map[string]Device{},
		capIndex: map[CapAddr]string{},
		evCh:     make(chan Event, eventQueueLen),
		runCh:    make(chan func(), runQueueLen),
		pollCh:   make(chan PollReq, pollQueueLen),
		done:     make(chan struct{}),
	}
	h.poller = NewPoller(h.pollCh)
	// The HAL is the devices' emitter, scheduler and status sink.
	h.res.Pub = h
	h.res.Sched = h
	h.res.Status = h
	return h
}

func (h *HAL) Run(ctx context.Context) {
	h.cfgSub = h.conn.Subscribe(topicConfigHAL())
	h.ctrlSub = h.conn.Subscribe(ctrlWildcard())
	defer h.conn.Unsubscribe(h.cfgSub)
	defer h.conn.Unsubscribe(h.ctrlSub)
	defer h.closeAll()
	defer close(h.done)

	go h.poller.Run(ctx)

	h.pubHALState("idle", "awaiting_config")
	ready := false
	for {
		select {
		case <-ctx.Done():
			h.pubHALState("stopped", "context_cancelled")
			return
		case msg := <-h.cfgSub.Channel():
			cfg, ok := msg.Payload.(types.HALConfig)
			if !ok {
				log.Warn("config ignored", "reason", "unexpected payload type")
				continue
			}
			// applyConfig is additive: known device ids are skipped.
			h.applyConfig(ctx, cfg)
			if !ready {
				ready = true
				h.pubHALState("ready", "")
			}
		case m := <-h.ctrlSub.Channel():
			if !ready {
				h.replyErr(m, errcode.HALNotReady)
				continue
			}
			h.handleControl(m)
		case ev := <-h.evCh:
			h.handleEvent(ev)
		case fn := <-h.runCh:
			fn()
		case req := <-h.pollCh:
			h.handlePoll(req)
		}
	}
}

func (h *HAL) applyConfig(ctx context.Context, cfg types.HALConfig) {
	for i := range cfg.Devices {
		dc := cfg.Devices[i]
		if _, exists := h.dev[dc.ID]; exists {
			continue
		}
		b, ok := lookupBuilder(dc.Type)
		if !ok {
			h.deviceFailed(dc.ID, "build", errcode.Unsupported)
			continue
		}
		dev, err := b.Build(ctx, BuilderInput{
			ID:     dc.ID,
			Type:   dc.Type,
			Params: dc.Params,
			Res:    h.res,
		})
		if err != nil {
			h.deviceFailed(dc.ID, "build", err)
			continue
		}

		// Capabilities are registered before Init so events emitted during
		// Init land on known topics.
		h.dev[dev.ID()] = dev
		h.order = append(h.order, dev.ID())
		for _, rc := range resolveCaps(dev) {
			h.capIndex[rc.addr] = dev.ID()
			h.conn.Publish(h.conn.NewMessage(capInfo(rc.addr), rc.spec.Info, true))
			h.conn.Publish(h.conn.NewMessage(
				capStatus(rc.addr),
				types.CapabilityStatus{Link: types.LinkDown, TSms: timex.NowMs()},
				true,
			))
			if p := rc.spec.Poll; p != nil {
				h.poller.Upsert(rc.addr, *p)
			}
		}

		if err := dev.Init(ctx); err != nil {
			h.deviceFailed(dev.ID(), "init", err)
			h.removeDevice(dev)
			continue
		}
		log.Info("device ready", "id", dev.ID(), "type", dc.Type)
		h.pubDevStatus(dev.ID(), "ok", errcode.OK)
	}
}

func (h *HAL) deviceFailed(id, stage string, err error) {
	code := errcode.Of(err)
	log.Error("device "+stage+" failed", "id", id, "code", string(code), "err", err.Error())
	h.pubDevStatus(id, "failed", code)
}

func (h *HAL) pubDevStatus(id, state string, code errcode.Code) {
	st := types.DeviceStatus{State: state, TSms: timex.NowMs()}
	if code != errcode.OK {
		st.Error = string(code)
	}
	h.conn.Publish(h.conn.NewMessage(devStatus(id), st, true))
}

// ---- HAL as StatusReporter ----

func (h *HAL) DeviceFailed(id string, err error) { h.deviceFailed(id, "setup", err) }

func (h *HAL) DeviceDegraded(id string, err error) {
	code := errcode.Of(err)
	log.Warn("device degraded", "id", id, "code", string(code))
	h.pubDevStatus(id, "degraded", code)
}

type resolvedCap struct {
	addr CapAddr
	spec CapabilitySpec
}

// resolveCaps fills in the default domain and name of each capability.
func resolveCaps(dev Device) []resolvedCap {
	caps := dev.Capabilities()
	out := make([]resolvedCap, 0, len(caps))
	for _, cs := range caps {
		a := CapAddr{Domain: cs.Domain, Kind: string(cs.Kind), Name: cs.Name}
		if a.Domain == "" {
			a.Domain = defaultDomainFor(a.Kind)
		}
		if a.Name == "" {
			a.Name = dev.ID()
		}
		out = append(out, resolvedCap{addr: a, spec: cs})
	}
	return out
}

func (h *HAL) removeDevice(dev Device) {
	for _, rc := range resolveCaps(dev) {
		delete(h.capIndex, rc.addr)
		if rc.spec.Poll != nil {
			h.poller.Stop(rc.addr)
		}
		h.conn.Publish(h.conn.NewMessage(capInfo(rc.addr), nil, true))
	}
	_ = dev.Close()
	delete(h.dev, dev.ID())
	for i, v := range h.order {
		if v == dev.ID() {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *HAL) closeAll() {
	for i := len(h.order) - 1; i >= 0; i-- {
		if d := h.dev[h.order[i]]; d != nil {
			if err := d.Close(); err != nil {
				log.Warn("close failed", "id", h.order[i], "err", err.Error())
			}
		}
	}
}

func (h *HAL) handleControl(msg *bus.Message) {
	// hal/cap/<domain>/<kind>/<name>/control/<verb>
	if msg.Topic.Len() != 7 {
		h.replyErr(msg, errcode.InvalidTopic)
		return
	}
	domain, _ := msg.Topic.At(2).(string)
	kind, _ := msg.Topic.At(3).(string)
	name, _ := msg.Topic.At(4).(string)
	verb, _ := msg.Topic.At(6).(string)
	a := CapAddr{Domain: domain, Kind: kind, Name: name}

	ownerID, ok := h.capIndex[a]
	if !ok {
		h.replyErr(msg, errcode.UnknownCapability)
		return
	}
	dev := h.dev[ownerID]
	if dev == nil {
		h.replyErr(msg, errcode.Error)
		return
	}

	res, err := dev.Control(a, verb, msg.Payload)
	if err != nil {
		h.replyFromError(msg, err)
		return
	}
	if res.OK {
		h.replyOK(msg)
		return
	}
	code := res.Error
	if code == "" {
		code = errcode.Busy
	}
	h.replyErr(msg, code)
}

// handlePoll issues a scheduled read with no reply. A device still busy
// with the previous read answers not OK and the tick is skipped.
func (h *HAL) handlePoll(req PollReq) {
	dev := h.dev[h.capIndex[req.Addr]]
	if dev == nil {
		return
	}
	if res, err := dev.Control(req.Addr, req.Verb, nil); err != nil || !res.OK {
		log.Debug("poll skipped", "cap", capBase(req.Addr).String(), "verb", req.Verb)
	}
}

func (h *HAL) handleEvent(ev Event) {
	a := ev.Addr

	// Error: retained status degraded, nothing else.
	if ev.Err != "" {
		h.conn.Publish(h.conn.NewMessage(
			capStatus(a),
			types.CapabilityStatus{Link: types.LinkDegraded, TSms: ev.TSms, Error: ev.Err},
			true,
		))
		return
	}

	if ev.IsEvent {
		t := capEvent(a)
		if ev.EventTag != "" {
			t = t.Append(ev.EventTag)
		}
		h.conn.Publish(h.conn.NewMessage(t, ev.Payload, false))
		return
	}

	h.conn.Publish(h.conn.NewMessage(capValue(a), ev.Payload, true))
	h.conn.Publish(h.conn.NewMessage(
		capStatus(a),
		types.CapabilityStatus{Link: types.LinkUp, TSms: ev.TSms},
		true,
	))
}

func (h *HAL) pubHALState(level, status string) {
	h.conn.Publish(h.conn.NewMessage(
		topicHALState(),
		types.HALState{Level: level, Status: status, TSms: timex.NowMs()},
		true,
	))
}

func defaultDomainFor(kind string) string {
	switch kind {
	case string(types.KindRange):
		return "env"
	case string(types.KindSwitch):
		return "power"
	default:
		return "io"
	}
}

// ---- HAL as EventEmitter (enqueue to single publisher) ----

func (h *HAL) Emit(ev Event) bool {
	select {
	case h.evCh <- ev:
		return true
	default:
		return false
	}
}

// ---- HAL as Scheduler ----

// After queues fn for the Run goroutine once d has elapsed. Callbacks due
// after Run has returned are discarded.
func (h *HAL) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		select {
		case h.runCh <- fn:
		case <-h.done:
		}
	})
}
