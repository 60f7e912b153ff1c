package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgSensorNode = `{
  "heartbeat": {
    "interval_ms": 2000
  }
}`

var embeddedConfigs = map[string][]byte{
	"sensor_node": []byte(cfgSensorNode),
}
