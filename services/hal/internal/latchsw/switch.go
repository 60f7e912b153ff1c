// Package latchsw drives one output of a shared serial-in/parallel-out latch
// as an on/off switch. The output is active-low: the bit is LOW while the
// switch is on.
package latchsw

import "sensornode-go/errcode"

// Latch is the shared output latch. Each Switch owns exactly one index;
// disjointness is enforced by whoever hands out indices.
type Latch interface {
	Len() int
	Set(index int, level bool) error
	Get(index int) bool
}

// Notification is produced once per WriteState and carries the new state.
type Notification struct {
	On bool
}

// StateWriter is the contract a host uses to drive a switch.
type StateWriter interface {
	Initialize() error
	WriteState(desired bool) (Notification, error)
}

type Switch struct {
	latch Latch
	index int
	on    bool
}

var _ StateWriter = (*Switch)(nil)

func New(latch Latch, index int) *Switch {
	return &Switch{latch: latch, index: index}
}

// Initialize drives the bit HIGH (off). No notification is produced.
func (s *Switch) Initialize() error {
	if err := s.set(true); err != nil {
		return err
	}
	s.on = false
	return nil
}

// WriteState sets the bit LOW when desired is true and HIGH otherwise.
// Repeating the same state rewrites the bit and still notifies.
func (s *Switch) WriteState(desired bool) (Notification, error) {
	if err := s.set(!desired); err != nil {
		return Notification{}, err
	}
	s.on = desired
	return Notification{On: desired}, nil
}

func (s *Switch) set(level bool) error {
	if s.index < 0 || s.index >= s.latch.Len() {
		return &errcode.E{C: errcode.InvalidParams, Op: "latch_set", Msg: "index out of range"}
	}
	return s.latch.Set(s.index, level)
}

// State is the last successfully written logical state.
func (s *Switch) State() bool { return s.on }
