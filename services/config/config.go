package config

import (
	"context"
	"encoding/json"
	"errors"

	"sensornode-go/bus"
	"sensornode-go/types"
	"sensornode-go/x/logx"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

var log = logx.New(serviceName)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// decoders turn known top-level keys into the typed payloads their services
// expect. Other keys are published as generic JSON values.
var decoders = map[string]func(json.RawMessage) (any, error){
	"heartbeat": func(raw json.RawMessage) (any, error) {
		var c types.HeartbeatConfig
		err := json.Unmarshal(raw, &c)
		return c, err
	},
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string

	// Static payloads are compile-time configs published as-is under
	// config/<key>. They override an embedded key of the same name.
	Static map[string]any
}

func NewConfigService(static map[string]any) *ConfigService {
	return &ConfigService{Name: serviceName, Static: static}
}

// publishConfig publishes the device's embedded JSON config and the static
// payloads as retained messages, one per top-level key.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for device: " + device)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return errors.New("embedded config is not a JSON object: " + err.Error())
	}

	for k, v := range m {
		if _, ok := s.Static[k]; ok {
			continue
		}
		payload, err := decode(k, v)
		if err != nil {
			log.Warn("key skipped", "key", k, "err", err)
			continue
		}
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), payload, true))
	}
	for k, v := range s.Static {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	return nil
}

func decode(key string, raw json.RawMessage) (any, error) {
	if dec, ok := decoders[key]; ok {
		return dec(raw)
	}
	var v any
	err := json.Unmarshal(raw, &v)
	return v, err
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			log.Error("publish failed", "err", err)
		}
	}()
}
