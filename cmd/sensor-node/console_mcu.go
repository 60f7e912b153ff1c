//go:build rp2040 || rp2350

package main

import (
	"machine"

	"sensornode-go/x/logx"
)

const deviceName = "sensor_node"

// setupConsole moves log output to UART0 so USB CDC stays free for the
// runtime's own println output.
func setupConsole() {
	if err := logx.UseUART0(115200, machine.UART0_TX_PIN, machine.UART0_RX_PIN); err != nil {
		println("uart0 console unavailable:", err.Error())
	}
}
