//go:build !rp2040 && !rp2350

package main

import "sensornode-go/x/logx"

const deviceName = "sensor_node"

func setupConsole() { logx.SetLevel(logx.LevelDebug) }
