//go:build pico && sensor_node

package provider

import "sensornode-go/services/hal/internal/provider/setups"

func init() {
	SelectedPlan = setups.SelectedPlan
	InitialHALConfig = setups.SelectedSetup
}
