// Package latchswitch exposes one output of a shared shift-register latch as
// a switch capability. The output is active-low and starts off.
package latchswitch

import (
	"context"

	"sensornode-go/errcode"
	"sensornode-go/services/hal/internal/core"
	"sensornode-go/services/hal/internal/latchsw"
	"sensornode-go/types"
	"sensornode-go/x/logx"
	"sensornode-go/x/timex"
)

var log = logx.New("latch_switch")

type Params struct {
	Latch  string // latch resource id, e.g. "sr0"
	Index  int    // output index within the latch
	Domain string // default "power"
	Name   string // default device id
}

type Device struct {
	id    string
	latch string
	index int
	sw    latchsw.StateWriter
	on    bool // from the last notification
	reg   core.ResourceRegistry
	pub   core.EventEmitter
	addr  core.CapAddr
}

func New(id string, p Params, l core.Latch, reg core.ResourceRegistry, pub core.EventEmitter) *Device {
	if p.Domain == "" {
		p.Domain = "power"
	}
	if p.Name == "" {
		p.Name = id
	}
	return &Device{
		id:    id,
		latch: p.Latch,
		index: p.Index,
		sw:    latchsw.New(l, p.Index),
		reg:   reg,
		pub:   pub,
		addr:  core.CapAddr{Domain: p.Domain, Kind: string(types.KindSwitch), Name: p.Name},
	}
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   types.KindSwitch,
		Name:   d.addr.Name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "latch_switch",
			Detail:        types.SwitchInfo{Latch: d.latch, Index: d.index, ActiveLow: true},
		},
	}}
}

// Init drives the output off without publishing a value.
func (d *Device) Init(ctx context.Context) error {
	if err := d.sw.Initialize(); err != nil {
		return err
	}
	d.on = false
	return nil
}

func (d *Device) Close() error {
	d.reg.ReleaseLatchBit(d.id, core.ResourceID(d.latch), d.index)
	return nil
}

func (d *Device) Control(_ core.CapAddr, method string, payload any) (core.EnqueueResult, error) {
	switch method {
	case "set":
		p, code := core.As[types.SwitchSet](payload)
		if code != "" {
			return core.EnqueueResult{OK: false, Error: code}, nil
		}
		return d.write(p.On)
	case "toggle":
		return d.write(!d.on)
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

// write is the only mutation path; each successful write emits one value.
func (d *Device) write(on bool) (core.EnqueueResult, error) {
	n, err := d.sw.WriteState(on)
	if err != nil {
		log.Warn("write failed", "id", d.id, "err", err.Error())
		d.emit(core.Event{Addr: d.addr, Err: string(errcode.Of(err)), TSms: timex.NowMs()})
		return core.EnqueueResult{}, err
	}
	d.on = n.On
	d.emit(core.Event{
		Addr:    d.addr,
		Payload: types.SwitchValue{On: n.On},
		TSms:    timex.NowMs(),
	})
	return core.EnqueueResult{OK: true}, nil
}

// emit logs a dropped notification; the latch bit has already changed.
func (d *Device) emit(ev core.Event) {
	if !d.pub.Emit(ev) {
		log.Warn("notification dropped", "id", d.id, "on", d.on)
	}
}
