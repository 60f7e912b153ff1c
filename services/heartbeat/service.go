// Package heartbeat publishes a retained liveness beat on heartbeat/state.
// The interval is taken from config/heartbeat.
package heartbeat

import (
	"context"
	"time"

	"sensornode-go/bus"
	"sensornode-go/types"
	"sensornode-go/x/logx"
	"sensornode-go/x/timex"
)

const DefaultInterval = time.Second

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicState           = bus.T("heartbeat", "state")
	log                  = logx.New("heartbeat")
)

type Service struct {
	seq uint32
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(DefaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping")
			return
		case <-tick.C:
			s.seq++
			conn.Publish(conn.NewMessage(topicState,
				types.Heartbeat{UptimeMs: timex.UptimeMs(), Seq: s.seq}, true))
		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.HeartbeatConfig)
			if !ok {
				log.Warn("config ignored", "reason", "unexpected payload type")
				continue
			}
			iv := timex.MsOr(cfg.IntervalMs, DefaultInterval)
			tick.Reset(iv)
			log.Info("interval set", "ms", int64(iv/time.Millisecond))
		}
	}
}

// Start runs the heartbeat loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
