package latchswitch

import (
	"context"

	"sensornode-go/errcode"
	"sensornode-go/services/hal/internal/core"
)

func init() {
	core.RegisterBuilder("latch_switch", builder{})
}

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	l, err := in.Res.Reg.ClaimLatchBit(in.ID, core.ResourceID(p.Latch), p.Index)
	if err != nil {
		return nil, err
	}
	return New(in.ID, p, l, in.Res.Reg, in.Res.Pub), nil
}

func parseParams(v any) (Params, error) {
	var p Params
	switch x := v.(type) {
	case Params:
		p = x
	case *Params:
		p = *x
	default:
		return Params{}, &errcode.E{C: errcode.InvalidParams, Op: "latch_switch", Msg: "unexpected params type"}
	}
	if p.Latch == "" {
		return Params{}, &errcode.E{C: errcode.InvalidParams, Op: "latch_switch", Msg: "latch id required"}
	}
	return p, nil
}
