package core

import (
	"context"
	"time"

	"sensornode-go/errcode"
	"sensornode-go/types"
)

// ---- Capability & device model ----

// CapAddr is the public address of one capability:
// hal/cap/<domain>/<kind>/<name>.
type CapAddr struct {
	Domain string
	Kind   string
	Name   string
}

// PollSpec asks the HAL to invoke Verb on the capability every Every.
type PollSpec struct {
	Verb   string
	Every  time.Duration
	Jitter time.Duration
}

type CapabilitySpec struct {
	Domain string // empty selects a default for the kind
	Kind   types.Kind
	Name   string // empty selects the device id
	Info   types.Info
	Poll   *PollSpec
}

// EnqueueResult is the synchronous answer to a control request. Work that
// completes later is reported through the EventEmitter.
type EnqueueResult struct {
	OK    bool
	Error errcode.Code
}

type Device interface {
	ID() string
	Capabilities() []CapabilitySpec
	// Init runs once on the HAL goroutine after Build. It must not block;
	// long sequences are continued with Scheduler.After.
	Init(ctx context.Context) error
	Control(addr CapAddr, method string, payload any) (EnqueueResult, error)
	Close() error // releases claimed resources
}

// ---- Device → HAL telemetry (single shape) ----
// By default an Event is a value update published retained on .../value.
// IsEvent publishes on .../event[/<EventTag>] instead (not retained). A
// non-empty Err publishes only .../status=degraded.

type Event struct {
	Addr     CapAddr
	Payload  any
	TSms     int64
	Err      string
	IsEvent  bool
	EventTag string
}

type EventEmitter interface {
	// Emit must not block; false means the event was dropped.
	Emit(ev Event) bool
}

// Scheduler runs fn on the HAL goroutine once d has elapsed.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// StatusReporter lets a device change its hal/dev/<id>/status after Init
// has returned, for setup work that finishes on the scheduler.
type StatusReporter interface {
	DeviceFailed(id string, err error)
	DeviceDegraded(id string, err error)
}

// ---- HAL-injected resources ----

type Resources struct {
	Reg    ResourceRegistry
	Pub    EventEmitter   // set by the HAL
	Sched  Scheduler      // set by the HAL
	Status StatusReporter // set by the HAL
}

type BuilderInput struct {
	ID, Type string
	Params   any
	Res      Resources
}

type Builder interface {
	Build(ctx context.Context, in BuilderInput) (Device, error)
}
