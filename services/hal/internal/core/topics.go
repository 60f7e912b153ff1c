package core

import "sensornode-go/bus"

// Opaque-topic helpers

func T(tokens ...any) bus.Topic { return bus.T(tokens...) }

func topicConfigHAL() bus.Topic { return T("config", "hal") }

func topicHALState() bus.Topic { return T("hal", "state") }

// hal/dev/<id>/status
func devStatus(id string) bus.Topic { return T("hal", "dev", id, "status") }

// hal/cap/<domain>/<kind>/<name>/...
func capBase(a CapAddr) bus.Topic { return T("hal", "cap", a.Domain, a.Kind, a.Name) }

func capInfo(a CapAddr) bus.Topic   { return capBase(a).Append("info") }
func capStatus(a CapAddr) bus.Topic { return capBase(a).Append("status") }
func capValue(a CapAddr) bus.Topic  { return capBase(a).Append("value") }
func capEvent(a CapAddr) bus.Topic  { return capBase(a).Append("event") }

// hal/cap/+/+/+/control/+
func ctrlWildcard() bus.Topic {
	return T("hal", "cap", bus.SingleWild, bus.SingleWild, bus.SingleWild, "control", bus.SingleWild)
}

// CapCtrl is the control topic for verb on a capability.
func CapCtrl(a CapAddr, verb string) bus.Topic { return capBase(a).Append("control", verb) }
