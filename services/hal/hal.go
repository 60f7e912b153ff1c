// Package hal serves the node's hardware over the bus. Device types register
// themselves with the core; the board's resources come from the provider
// selected at build time.
package hal

import (
	"context"

	"sensornode-go/bus"
	"sensornode-go/services/hal/internal/core"
	"sensornode-go/services/hal/internal/provider"
	"sensornode-go/types"

	_ "sensornode-go/services/hal/devices/latchswitch"
	_ "sensornode-go/services/hal/devices/rangefinder"
)

// Run serves the HAL for the selected board until ctx is cancelled.
func Run(ctx context.Context, conn *bus.Connection) {
	reg := provider.NewResources()
	defer reg.Close()
	RunWith(ctx, conn, reg)
}

// RunWith serves the HAL over an explicit resource registry.
func RunWith(ctx context.Context, conn *bus.Connection, reg core.ResourceRegistry) {
	core.NewHAL(conn, core.Resources{Reg: reg}).Run(ctx)
}

// InitialConfig is the compile-time device set of the selected board. It is
// published retained on config/hal at boot.
func InitialConfig() types.HALConfig { return provider.InitialHALConfig }
