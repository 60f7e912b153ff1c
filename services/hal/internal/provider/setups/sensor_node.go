//go:build pico && sensor_node

package setups

import (
	"sensornode-go/services/hal/devices/latchswitch"
	"sensornode-go/services/hal/devices/rangefinder"
	"sensornode-go/types"
)

// SelectedPlan: two VL53L0X on i2c0 with XSHUT on GP2/GP3, one 74HC595 stage
// driving active-low relays.
var SelectedPlan = ResourcePlan{
	Board: Pico,
	I2C: []I2CPlan{
		{ID: "i2c0", SDA: 4, SCL: 5, Hz: 400_000},
	},
	Latches: []LatchPlan{
		{ID: "sr0", Data: 14, Clock: 15, Latch: 13, Stages: 1, Initial: true},
	},
}

// SelectedSetup lists logical devices for HAL to instantiate on boot.
var SelectedSetup = types.HALConfig{
	Devices: []types.HALDevice{
		{ID: "tof", Type: "vl53l0x_array", Params: rangefinder.Params{
			Bus:    "i2c0",
			Domain: "env",
			Sensors: []rangefinder.SensorParams{
				{Name: "tof_left", ResetPin: 2, Addr: 0x23},
				{Name: "tof_right", ResetPin: 3, Addr: 0x19},
			},
			Policy: "abort",
			Verify: true,
			PollMs: 1000,
		}},

		{ID: "relay0", Type: "latch_switch", Params: latchswitch.Params{Latch: "sr0", Index: 0, Domain: "power", Name: "relay0"}},
		{ID: "relay1", Type: "latch_switch", Params: latchswitch.Params{Latch: "sr0", Index: 1, Domain: "power", Name: "relay1"}},
		{ID: "relay2", Type: "latch_switch", Params: latchswitch.Params{Latch: "sr0", Index: 2, Domain: "power", Name: "relay2"}},
		{ID: "relay3", Type: "latch_switch", Params: latchswitch.Params{Latch: "sr0", Index: 3, Domain: "power", Name: "relay3"}},
	},
}
