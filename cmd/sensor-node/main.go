package main

import (
	"context"
	"runtime"
	"time"

	"sensornode-go/bus"
	"sensornode-go/services/config"
	"sensornode-go/services/hal"
	"sensornode-go/services/heartbeat"
	"sensornode-go/x/logx"
)

var log = logx.New("main")

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	setupConsole()
	ctx := context.Background()

	log.Info("bootstrapping bus")
	b := bus.NewBus(8)
	halConn := b.NewConnection("hal")
	uiConn := b.NewConnection("ui")

	mon := uiConn.Subscribe(bus.T("hal", "#"))
	go func() {
		for m := range mon.Channel() {
			log.Debug("monitor", "topic", m.Topic.String())
		}
	}()
	events := uiConn.Subscribe(bus.T("hal", "cap", "+", "range", "+", "event", "assign"))
	go func() {
		for m := range events.Channel() {
			log.Info("address assignment", "topic", m.Topic.String())
		}
	}()

	go hal.Run(ctx, halConn)
	if err := (&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		log.Error("heartbeat start failed", "err", err)
	}

	cfg := config.NewConfigService(map[string]any{"hal": hal.InitialConfig()})
	cfg.Start(context.WithValue(ctx, config.CtxDeviceKey, deviceName), b.NewConnection("config"))

	// Periodic stats.
	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for range tick.C {
		logMem()
	}
}

// logMem logs a compact snapshot of runtime memory stats.
func logMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	log.Info("mem",
		"alloc", uint32(ms.Alloc),
		"heapInuse", uint32(ms.HeapInuse),
		"mallocs", uint32(ms.Mallocs),
		"frees", uint32(ms.Frees),
	)
}
