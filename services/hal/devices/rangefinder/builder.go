package rangefinder

import (
	"context"

	"sensornode-go/drivers/vl53l0x"
	"sensornode-go/errcode"
	"sensornode-go/services/hal/internal/addrassign"
	"sensornode-go/services/hal/internal/core"
	"sensornode-go/x/timex"
)

func init() {
	core.RegisterBuilder("vl53l0x_array", builder{})

	errcode.RegisterDriverErr(vl53l0x.ErrTimeout, errcode.Timeout)
	errcode.RegisterDriverErr(vl53l0x.ErrNotReady, errcode.Busy)
	errcode.RegisterDriverErr(vl53l0x.ErrBadModel, errcode.BadDevice)
	errcode.RegisterDriverErr(vl53l0x.ErrAddress, errcode.InvalidAddress)
}

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	policy, ok := addrassign.ParsePolicy(p.Policy)
	if !ok {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "vl53l0x_array", Msg: "unknown policy " + p.Policy}
	}

	reg := in.Res.Reg
	i2c, err := reg.ClaimI2C(in.ID, core.ResourceID(p.Bus))
	if err != nil {
		return nil, err
	}
	d := &Device{
		id:     in.ID,
		bus:    p.Bus,
		reg:    reg,
		pub:    in.Res.Pub,
		sched:  in.Res.Sched,
		status: in.Res.Status,
		domain: p.Domain,
		poll:   timex.MsOr(p.PollMs, 0),
	}
	if d.domain == "" {
		d.domain = "env"
	}

	// Claim every reset pin up front; any failure releases what was taken.
	for _, sp := range p.Sensors {
		pin, err := reg.ClaimGPIO(in.ID, sp.ResetPin)
		if err != nil {
			d.release()
			return nil, err
		}
		dev := vl53l0x.New(i2c)
		dev.Configure(vl53l0x.Config{Timeout: timex.MsOr(p.TimeoutMs, 0)})
		d.sensors = append(d.sensors, &sensor{
			name:   sp.Name,
			pin:    sp.ResetPin,
			reset:  resetLine{pin},
			dev:    &dev,
			target: sp.Addr,
		})
	}

	as := make([]addrassign.Sensor, len(d.sensors))
	for i, s := range d.sensors {
		as[i] = addrassign.Sensor{Name: s.name, Reset: s.reset, Dev: s.dev, Target: s.target}
	}
	d.asg, err = addrassign.New(as, addrassign.Config{
		Timing: addrassign.Timing{
			Settle:   timex.MsOr(p.SettleMs, addrassign.DefaultSettle),
			Boot:     timex.MsOr(p.BootMs, addrassign.DefaultBoot),
			PostInit: timex.MsOr(p.PostInitMs, addrassign.DefaultPostInit),
		},
		Policy:       policy,
		Verify:       p.Verify,
		OnTransition: d.onTransition,
	})
	if err != nil {
		d.release()
		return nil, err
	}
	return d, nil
}

func parseParams(v any) (Params, error) {
	var p Params
	switch x := v.(type) {
	case Params:
		p = x
	case *Params:
		p = *x
	default:
		return Params{}, &errcode.E{C: errcode.InvalidParams, Op: "vl53l0x_array", Msg: "unexpected params type"}
	}
	if p.Bus == "" || len(p.Sensors) == 0 {
		return Params{}, &errcode.E{C: errcode.InvalidParams, Op: "vl53l0x_array", Msg: "bus and sensors required"}
	}
	for i := range p.Sensors {
		if p.Sensors[i].Name == "" {
			return Params{}, &errcode.E{C: errcode.InvalidParams, Op: "vl53l0x_array", Msg: "sensor name required"}
		}
	}
	return p, nil
}
